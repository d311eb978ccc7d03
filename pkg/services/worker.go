package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"github.com/kerbaras/mangadl/pkg/checkpoint"
	"github.com/kerbaras/mangadl/pkg/data"
	"github.com/kerbaras/mangadl/pkg/fetch"
	"github.com/kerbaras/mangadl/pkg/logger"
)

// PageLister resolves a chapter into its ordered pages.
type PageLister interface {
	GetPages(ctx context.Context, title *data.Title, chapter data.ChapterRef) ([]data.PageRef, error)
}

// ChapterFailedError reports a chapter that ended with pages missing.
type ChapterFailedError struct {
	Chapter data.ChapterNumber
	Missing []int
	LastErr error
}

func (e *ChapterFailedError) Error() string {
	msg := fmt.Sprintf("chapter %s failed: %d page(s) missing", e.Chapter, len(e.Missing))
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *ChapterFailedError) Unwrap() error { return e.LastErr }

// ChapterWorker downloads the missing pages of one chapter through a bounded
// pool of fetch slots and records every finished page in the checkpoint.
type ChapterWorker struct {
	lister      PageLister
	fetcher     *fetch.Fetcher
	store       checkpoint.Store
	delay       time.Duration
	pageWorkers int
	log         logger.Logger
	notify      func(Event)
}

// chapterRun is the state shared by the slots of one chapter. mu serializes
// job mutation and checkpoint writes.
type chapterRun struct {
	job      *data.ChapterJob
	key      string
	position map[int]int // page index -> position in job.Pages

	mu      sync.Mutex
	fetched int
	lastErr error
}

// Run drives job to Completed or Failed. It returns nil when every page is
// on disk, a *ChapterFailedError when pages are still missing, an error
// matching checkpoint.ErrCheckpointIO when progress could not be recorded,
// or the context error when cancelled before all pages were dispatched.
func (w *ChapterWorker) Run(ctx context.Context, job *data.ChapterJob) (int, error) {
	cr := &chapterRun{job: job, key: job.Title.Key()}
	log := w.log.With(logger.String("title", cr.key), logger.String("chapter", job.Chapter.Number.String()))

	if len(job.Pages) == 0 {
		pages, err := w.lister.GetPages(ctx, job.Title, job.Chapter)
		if err != nil && ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if err != nil {
			job.State = data.StatusFailed
			return 0, &ChapterFailedError{Chapter: job.Chapter.Number, LastErr: fmt.Errorf("page list: %w", err)}
		}
		if len(pages) == 0 {
			job.State = data.StatusFailed
			return 0, &ChapterFailedError{Chapter: job.Chapter.Number, LastErr: errors.New("no pages found")}
		}
		job.Pages = pages
	}
	cr.index()

	missing := job.Missing()
	if len(missing) == 0 {
		// Everything is already on disk: no fetch, no rewrite unless the
		// stored status lags behind.
		if job.State != data.StatusCompleted {
			job.State = data.StatusCompleted
			if err := w.save(cr, ""); err != nil {
				job.State = data.StatusFailed
				return 0, err
			}
		}
		return 0, nil
	}

	job.State = data.StatusFetching
	if err := w.save(cr, ""); err != nil {
		job.State = data.StatusFailed
		log.Error("checkpoint write failed", logger.Err(err))
		return 0, err
	}
	log.Info("fetching chapter", logger.Int("pages", len(job.Pages)), logger.Int("missing", len(missing)))

	if err := w.fetchPages(ctx, cr, missing); err != nil {
		job.State = data.StatusFailed
		log.Error("checkpoint write failed", logger.Err(err))
		return cr.fetched, err
	}

	missing = job.Missing()
	switch {
	case len(missing) == 0:
		job.State = data.StatusCompleted
		if err := w.save(cr, ""); err != nil {
			job.State = data.StatusFailed
			return cr.fetched, err
		}
		log.Info("chapter completed", logger.Int("fetched", cr.fetched))
		return cr.fetched, nil

	case ctx.Err() != nil:
		// Finished pages are already checkpointed; the chapter stays
		// resumable in its fetching state.
		log.Info("chapter cancelled", logger.Int("missing", len(missing)))
		return cr.fetched, ctx.Err()

	default:
		job.State = data.StatusFailed
		failure := &ChapterFailedError{Chapter: job.Chapter.Number, Missing: missing, LastErr: cr.lastErr}
		if err := w.save(cr, failure.Error()); err != nil {
			return cr.fetched, err
		}
		log.Warn("chapter failed", logger.Ints("missing", missing), logger.Err(cr.lastErr))
		return cr.fetched, failure
	}
}

// fetchPages fans the missing pages out to pageWorkers slots. A checkpoint
// write failure stops dispatch for the chapter and is returned.
func (w *ChapterWorker) fetchPages(ctx context.Context, cr *chapterRun, missing []int) error {
	dispatchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := min(max(w.pageWorkers, 1), len(missing))
	queue := make(chan data.PageRef)

	g := new(errgroup.Group)
	for i := 0; i < slots; i++ {
		slot := w.fetcher.NewSlot(w.delay)
		g.Go(func() error {
			for page := range queue {
				if err := w.fetchPage(dispatchCtx, slot, cr, page); err != nil {
					cancel()
					return err
				}
			}
			return nil
		})
	}

	go func() {
		defer close(queue)
		for _, idx := range missing {
			if dispatchCtx.Err() != nil {
				return
			}
			select {
			case queue <- cr.job.Pages[cr.position[idx]]:
			case <-dispatchCtx.Done():
				return
			}
		}
	}()

	return g.Wait()
}

// fetchPage fetches one page, persists it and records it in the checkpoint.
// Only checkpoint and disk failures are returned; fetch failures are
// recorded on the run and reported as events.
func (w *ChapterWorker) fetchPage(ctx context.Context, slot *fetch.Slot, cr *chapterRun, page data.PageRef) error {
	if ctx.Err() != nil {
		return nil
	}
	job := cr.job

	res, err := slot.Fetch(ctx, page, job.Chapter.Locator)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil
		}
		var pfe *fetch.PageFetchError
		attempts := 1
		if errors.As(err, &pfe) {
			attempts = pfe.Attempts
		}

		cr.mu.Lock()
		job.Attempts[page.Index] += attempts
		cr.lastErr = err
		done := len(job.Completed)
		cr.mu.Unlock()

		w.log.Warn("page failed",
			logger.String("chapter", job.Chapter.Number.String()),
			logger.Int("page", page.Index),
			logger.Err(err))
		w.notify(Event{Type: EventPageFailed, Title: cr.key, Chapter: job.Chapter.Number,
			Page: page.Index, Done: done, Total: len(job.Pages), Err: err})
		return nil
	}

	name := pageFileName(page, res.Body)
	if err := checkpoint.WriteFileAtomic(filepath.Join(job.OutputDir, name), res.Body); err != nil {
		return &checkpoint.IOError{Op: "write page", Path: filepath.Join(job.OutputDir, name), Err: err}
	}

	cr.mu.Lock()
	job.Completed[page.Index] = true
	job.Pages[cr.position[page.Index]].File = name
	cr.fetched++
	done := len(job.Completed)
	err = w.saveLocked(cr, "")
	cr.mu.Unlock()
	if err != nil {
		return err
	}

	w.notify(Event{Type: EventPageCompleted, Title: cr.key, Chapter: job.Chapter.Number,
		Page: page.Index, Done: done, Total: len(job.Pages)})
	return nil
}

func (w *ChapterWorker) save(cr *chapterRun, lastErr string) error {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return w.saveLocked(cr, lastErr)
}

func (w *ChapterWorker) saveLocked(cr *chapterRun, lastErr string) error {
	job := cr.job
	completed := make([]int, 0, len(job.Completed))
	for idx, ok := range job.Completed {
		if ok {
			completed = append(completed, idx)
		}
	}
	sort.Ints(completed)

	cp := &checkpoint.Checkpoint{
		TitleURL:   job.Title.URL,
		Status:     job.State,
		TotalPages: len(job.Pages),
		Completed:  completed,
		Pages:      append([]data.PageRef(nil), job.Pages...),
		LastError:  lastErr,
		UpdatedAt:  time.Now().UTC(),
	}
	return w.store.Save(cr.key, job.Chapter.Number, cp)
}

func (cr *chapterRun) index() {
	cr.position = make(map[int]int, len(cr.job.Pages))
	for i, p := range cr.job.Pages {
		cr.position[p.Index] = i
	}
}

var pageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true, ".avif": true}

// pageFileName names a page file by its 1-based position, zero padded, with
// the extension of the sniffed content, falling back to the URL's.
func pageFileName(page data.PageRef, body []byte) string {
	ext := ""
	if mt := mimetype.Detect(body); strings.HasPrefix(mt.String(), "image/") {
		ext = mt.Extension()
	}
	if ext == "" {
		if u, err := url.Parse(page.URL); err == nil {
			ext = strings.ToLower(path.Ext(u.Path))
		}
		if !pageExtensions[ext] {
			ext = ".jpg"
		}
	}
	return fmt.Sprintf("%03d%s", page.Index+1, ext)
}

// pageOnDisk reports whether a recorded page file still exists and is non-empty.
func pageOnDisk(dir string, page data.PageRef) bool {
	if page.File == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, page.File))
	return err == nil && info.Size() > 0
}
