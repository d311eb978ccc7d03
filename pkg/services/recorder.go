package services

import (
	"time"

	"github.com/kerbaras/mangadl/pkg/data"
)

// Recorder persists run outcomes outside the checkpoint store.
type Recorder interface {
	RecordTitle(title *data.Title, status string) error
	RecordChapter(title *data.Title, result ChapterResult) error
}

// LibraryRecorder writes outcomes to the library database.
type LibraryRecorder struct {
	repo *data.Repository
}

func NewLibraryRecorder(repo *data.Repository) *LibraryRecorder {
	return &LibraryRecorder{repo: repo}
}

func (r *LibraryRecorder) RecordTitle(title *data.Title, status string) error {
	return r.repo.SaveTitle(&data.TitleRecord{
		ID:        title.Key(),
		Name:      title.Name,
		URL:       title.URL,
		Source:    title.Source,
		Status:    status,
		UpdatedAt: time.Now(),
	})
}

func (r *LibraryRecorder) RecordChapter(title *data.Title, result ChapterResult) error {
	if result.Outcome == OutcomeSkipped || result.Outcome == OutcomeCancelled {
		return nil
	}
	rec := &data.ChapterRecord{
		TitleID:   title.Key(),
		Number:    result.Chapter,
		Status:    string(result.Outcome),
		Pages:     result.Pages,
		Archives:  result.Archives,
		UpdatedAt: time.Now(),
	}
	if result.Err != nil {
		rec.LastError = result.Err.Error()
	}
	return r.repo.SaveChapterOutcome(rec)
}
