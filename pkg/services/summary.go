package services

import (
	"sort"
	"time"

	"github.com/kerbaras/mangadl/pkg/data"
)

// Outcome is the final state of a chapter in a run.
type Outcome string

const (
	OutcomeConverted Outcome = "converted" // completed and packaged
	OutcomeCompleted Outcome = "completed" // completed, not (or not successfully) packaged
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeSkipped   Outcome = "skipped" // converted by an earlier run
)

// ChapterResult is the outcome of one chapter.
type ChapterResult struct {
	Chapter  data.ChapterNumber
	Name     string
	Outcome  Outcome
	Pages    int
	Fetched  int
	Archives []string
	Err      error
	Duration time.Duration
}

// Summary aggregates a finished run.
type Summary struct {
	RunID        string
	Title        string
	Results      []ChapterResult
	Converted    int
	Completed    int
	Failed       int
	Cancelled    int
	Skipped      int
	PagesFetched int
	PeakActive   int
	Started      time.Time
	Duration     time.Duration
}

// PagesPerSecond is the fetch throughput of the run.
func (s *Summary) PagesPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.PagesFetched) / s.Duration.Seconds()
}

// HasFailures reports whether any chapter failed.
func (s *Summary) HasFailures() bool {
	return s.Failed > 0
}

// FailedChapters lists the chapters to retry.
func (s *Summary) FailedChapters() []data.ChapterNumber {
	var out []data.ChapterNumber
	for _, r := range s.Results {
		if r.Outcome == OutcomeFailed {
			out = append(out, r.Chapter)
		}
	}
	return out
}

// Result looks up the result of a chapter.
func (s *Summary) Result(n data.ChapterNumber) (ChapterResult, bool) {
	for _, r := range s.Results {
		if r.Chapter == n {
			return r, true
		}
	}
	return ChapterResult{}, false
}

func (s *Summary) add(r ChapterResult) {
	s.Results = append(s.Results, r)
	s.PagesFetched += r.Fetched
	switch r.Outcome {
	case OutcomeConverted:
		s.Converted++
	case OutcomeCompleted:
		s.Completed++
	case OutcomeFailed:
		s.Failed++
	case OutcomeCancelled:
		s.Cancelled++
	case OutcomeSkipped:
		s.Skipped++
	}
}

func (s *Summary) sort() {
	sort.SliceStable(s.Results, func(i, j int) bool { return s.Results[i].Chapter < s.Results[j].Chapter })
}

// Snapshot is the live state of a run in progress.
type Snapshot struct {
	Done           int // converted + completed
	Failed         int
	InProgress     int
	Skipped        int
	Cancelled      int
	Pending        int
	PagesFetched   int
	PagesPerSecond float64
	Elapsed        time.Duration
}
