// Package services coordinates chapter downloads: planning from checkpoints,
// the bounded chapter and page pools, and the hand-off to conversion.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kerbaras/mangadl/pkg/checkpoint"
	"github.com/kerbaras/mangadl/pkg/data"
	"github.com/kerbaras/mangadl/pkg/fetch"
	"github.com/kerbaras/mangadl/pkg/integrations"
	"github.com/kerbaras/mangadl/pkg/logger"
)

// Concurrency bounds accepted by Run.
const (
	MaxChapterWorkers = 8
	MaxPageWorkers    = 10
)

// BrokenChapter is a selected chapter whose checkpoint could not be read.
type BrokenChapter struct {
	Chapter data.ChapterRef
	Err     error
}

// DownloadPlan is the ordered work of a run: the selected chapters minus
// those already converted by an earlier run.
type DownloadPlan struct {
	Title   *data.Title
	Jobs    []*data.ChapterJob
	Skipped []data.ChapterRef
	Broken  []BrokenChapter
}

// Orchestrator runs download plans.
type Orchestrator struct {
	lister    PageLister
	fetcher   *fetch.Fetcher
	store     checkpoint.Store
	layout    data.Layout
	pipeline  *integrations.Pipeline
	delay     time.Duration
	recorder  Recorder
	observers observers
	log       logger.Logger

	mu     sync.Mutex
	snap   Snapshot
	start  time.Time
	active int
	peak   int
}

type Option func(*Orchestrator)

// WithPipeline packages completed chapters.
func WithPipeline(p *integrations.Pipeline) Option {
	return func(o *Orchestrator) { o.pipeline = p }
}

// WithDelay sets the minimum gap between requests of one fetch slot.
func WithDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.delay = d }
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.log = logger.OrNop(l) }
}

func NewOrchestrator(lister PageLister, fetcher *fetch.Fetcher, store checkpoint.Store, outputRoot string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		lister:  lister,
		fetcher: fetcher,
		store:   store,
		layout:  data.Layout{Root: outputRoot},
		delay:   time.Second,
		log:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Plan builds the download plan for the selected chapters. Checkpoints are
// read once here: converted chapters are skipped and resumed chapters carry
// their page list and the pages still present on disk.
func (o *Orchestrator) Plan(title *data.Title, selection data.SelectionSet) (*DownloadPlan, error) {
	if title == nil {
		return nil, errors.New("title cannot be nil")
	}
	key := title.Key()
	plan := &DownloadPlan{Title: title}

	for _, n := range selection {
		ref, ok := title.Chapter(n)
		if !ok {
			continue
		}

		cp, err := o.store.Load(key, n)
		if err != nil {
			plan.Broken = append(plan.Broken, BrokenChapter{Chapter: ref, Err: err})
			continue
		}
		if cp != nil && !cp.Resumable() {
			plan.Skipped = append(plan.Skipped, ref)
			continue
		}

		job := data.NewChapterJob(title, ref, o.layout.ChapterDir(key, n))
		if cp != nil && len(cp.Pages) > 0 {
			job.Pages = append([]data.PageRef(nil), cp.Pages...)
			done := cp.CompletedSet()
			for _, p := range job.Pages {
				if done[p.Index] && pageOnDisk(job.OutputDir, p) {
					job.Completed[p.Index] = true
				}
			}
			if cp.Status == data.StatusCompleted && len(job.Missing()) == 0 {
				job.State = data.StatusCompleted
			}
		}
		plan.Jobs = append(plan.Jobs, job)
	}
	return plan, nil
}

// Run executes the plan with at most chapterWorkers chapters fetching at a
// time, each with up to pageWorkers concurrent page fetches. Widths are
// clamped to 1..MaxChapterWorkers and 1..MaxPageWorkers.
//
// Cancelling ctx stops new chapters and pages from being dispatched; fetches
// already on the wire finish and are checkpointed. Failures are reported per
// chapter in the summary, never as the returned error.
func (o *Orchestrator) Run(ctx context.Context, plan *DownloadPlan, chapterWorkers, pageWorkers int) (*Summary, error) {
	if plan == nil || plan.Title == nil {
		return nil, errors.New("plan cannot be nil")
	}
	chapterWorkers = clamp(chapterWorkers, 1, MaxChapterWorkers)
	pageWorkers = clamp(pageWorkers, 1, MaxPageWorkers)

	title := plan.Title
	sum := &Summary{RunID: uuid.NewString(), Title: title.Name, Started: time.Now()}
	log := o.log.With(logger.String("run_id", sum.RunID), logger.String("title", title.Name))

	o.mu.Lock()
	o.start = sum.Started
	o.snap = Snapshot{Pending: len(plan.Jobs)}
	o.active, o.peak = 0, 0
	o.mu.Unlock()

	o.record(func(r Recorder) error { return r.RecordTitle(title, "downloading") }, log)
	log.Info("starting run",
		logger.Int("chapters", len(plan.Jobs)),
		logger.Int("skipped", len(plan.Skipped)),
		logger.Int("chapter_workers", chapterWorkers),
		logger.Int("page_workers", pageWorkers))

	var resMu sync.Mutex
	collect := func(r ChapterResult) {
		resMu.Lock()
		sum.add(r)
		resMu.Unlock()
		o.finish(r)
		o.record(func(rec Recorder) error { return rec.RecordChapter(title, r) }, log)
	}

	for _, ref := range plan.Skipped {
		collect(ChapterResult{Chapter: ref.Number, Name: ref.Name, Outcome: OutcomeSkipped})
		o.emit(Event{Type: EventChapterSkipped, RunID: sum.RunID, Title: title.Key(), Chapter: ref.Number})
	}
	for _, b := range plan.Broken {
		collect(ChapterResult{Chapter: b.Chapter.Number, Name: b.Chapter.Name, Outcome: OutcomeFailed, Err: b.Err})
		o.emit(Event{Type: EventChapterFailed, RunID: sum.RunID, Title: title.Key(), Chapter: b.Chapter.Number, Err: b.Err})
	}

	worker := &ChapterWorker{
		lister:      o.lister,
		fetcher:     o.fetcher,
		store:       o.store,
		delay:       o.delay,
		pageWorkers: pageWorkers,
		log:         log,
		notify: func(e Event) {
			e.RunID = sum.RunID
			if e.Type == EventPageCompleted {
				o.mu.Lock()
				o.snap.PagesFetched++
				o.mu.Unlock()
			}
			o.emit(e)
		},
	}

	g := new(errgroup.Group)
	g.SetLimit(chapterWorkers)
	for _, job := range plan.Jobs {
		if ctx.Err() != nil {
			collect(o.cancelled(sum.RunID, job))
			continue
		}
		g.Go(func() error {
			// a slot may free up only after cancellation
			if ctx.Err() != nil {
				collect(o.cancelled(sum.RunID, job))
				return nil
			}
			collect(o.runChapter(ctx, worker, sum.RunID, job))
			return nil
		})
	}
	_ = g.Wait()

	sum.sort()
	sum.Duration = time.Since(sum.Started)
	o.mu.Lock()
	sum.PeakActive = o.peak
	o.mu.Unlock()

	status := "completed"
	if sum.HasFailures() || sum.Cancelled > 0 {
		status = "partial"
	}
	o.record(func(r Recorder) error { return r.RecordTitle(title, status) }, log)

	log.Info("run finished",
		logger.Int("converted", sum.Converted),
		logger.Int("completed", sum.Completed),
		logger.Int("failed", sum.Failed),
		logger.Int("cancelled", sum.Cancelled),
		logger.Int("skipped", sum.Skipped),
		logger.Int("pages", sum.PagesFetched),
		logger.Duration("duration", sum.Duration))
	o.emit(Event{Type: EventRunFinished, RunID: sum.RunID, Title: title.Key(), Summary: sum})
	return sum, nil
}

func (o *Orchestrator) runChapter(ctx context.Context, w *ChapterWorker, runID string, job *data.ChapterJob) ChapterResult {
	start := time.Now()
	key := job.Title.Key()
	n := job.Chapter.Number
	res := ChapterResult{Chapter: n, Name: job.Chapter.Name}

	o.enter()
	o.emit(Event{Type: EventChapterStarted, RunID: runID, Title: key, Chapter: n,
		Done: len(job.Completed), Total: len(job.Pages)})

	fetched, err := w.Run(ctx, job)
	o.leave()

	res.Fetched = fetched
	res.Pages = len(job.Pages)
	res.Duration = time.Since(start)

	switch {
	case err == nil:
	case job.State != data.StatusFailed && ctx.Err() != nil && errors.Is(err, ctx.Err()):
		res.Outcome = OutcomeCancelled
		res.Err = err
		o.emit(Event{Type: EventChapterCancelled, RunID: runID, Title: key, Chapter: n,
			Done: len(job.Completed), Total: res.Pages, Err: err})
		return res
	default:
		res.Outcome = OutcomeFailed
		res.Err = err
		o.emit(Event{Type: EventChapterFailed, RunID: runID, Title: key, Chapter: n,
			Done: len(job.Completed), Total: res.Pages, Err: err})
		return res
	}

	res.Outcome = OutcomeCompleted
	o.emit(Event{Type: EventChapterCompleted, RunID: runID, Title: key, Chapter: n,
		Done: len(job.Completed), Total: res.Pages})

	if !o.pipeline.Enabled() {
		return res
	}

	job.State = data.StatusConverting
	archives, err := o.pipeline.Convert(&integrations.Bundle{
		Title:   job.Title,
		Chapter: job.Chapter,
		Pages:   job.PageFiles(),
		Dir:     job.OutputDir,
	})
	res.Archives = archives
	res.Duration = time.Since(start)
	if err != nil {
		job.State = data.StatusCompleted
		res.Err = err
		o.emit(Event{Type: EventConversionFailed, RunID: runID, Title: key, Chapter: n, Archives: archives, Err: err})
		return res
	}

	if err := o.store.MarkConverted(key, n); err != nil {
		job.State = data.StatusCompleted
		res.Err = fmt.Errorf("archives written but not recorded: %w", err)
		o.log.Error("checkpoint write failed", logger.String("chapter", n.String()), logger.Err(err))
		o.emit(Event{Type: EventConversionFailed, RunID: runID, Title: key, Chapter: n, Archives: archives, Err: res.Err})
		return res
	}

	job.State = data.StatusConverted
	res.Outcome = OutcomeConverted
	o.emit(Event{Type: EventChapterConverted, RunID: runID, Title: key, Chapter: n, Archives: archives,
		Done: len(job.Completed), Total: res.Pages})
	return res
}

func (o *Orchestrator) cancelled(runID string, job *data.ChapterJob) ChapterResult {
	o.mu.Lock()
	o.snap.Pending--
	o.mu.Unlock()
	o.emit(Event{Type: EventChapterCancelled, RunID: runID, Title: job.Title.Key(), Chapter: job.Chapter.Number,
		Done: len(job.Completed), Total: len(job.Pages), Err: context.Canceled})
	return ChapterResult{
		Chapter: job.Chapter.Number,
		Name:    job.Chapter.Name,
		Outcome: OutcomeCancelled,
		Pages:   len(job.Pages),
		Err:     context.Canceled,
	}
}

// Snapshot returns the live counters of the current or last run.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.snap
	s.InProgress = o.active
	if !o.start.IsZero() {
		s.Elapsed = time.Since(o.start)
		if secs := s.Elapsed.Seconds(); secs > 0 {
			s.PagesPerSecond = float64(s.PagesFetched) / secs
		}
	}
	return s
}

// PeakActive is the largest number of chapters fetching at once so far.
func (o *Orchestrator) PeakActive() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.peak
}

func (o *Orchestrator) enter() {
	o.mu.Lock()
	o.active++
	o.snap.Pending--
	if o.active > o.peak {
		o.peak = o.active
	}
	o.mu.Unlock()
}

func (o *Orchestrator) leave() {
	o.mu.Lock()
	o.active--
	o.mu.Unlock()
}

func (o *Orchestrator) finish(r ChapterResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch r.Outcome {
	case OutcomeConverted, OutcomeCompleted:
		o.snap.Done++
	case OutcomeFailed:
		o.snap.Failed++
	case OutcomeSkipped:
		o.snap.Skipped++
	case OutcomeCancelled:
		o.snap.Cancelled++
	}
}

func (o *Orchestrator) emit(e Event) {
	o.observers.Notify(e)
}

func (o *Orchestrator) record(fn func(Recorder) error, log logger.Logger) {
	if o.recorder == nil {
		return
	}
	if err := fn(o.recorder); err != nil {
		log.Warn("failed to record outcome", logger.Err(err))
	}
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
