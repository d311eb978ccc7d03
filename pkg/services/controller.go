package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kerbaras/mangadl/pkg/checkpoint"
	"github.com/kerbaras/mangadl/pkg/config"
	"github.com/kerbaras/mangadl/pkg/data"
	"github.com/kerbaras/mangadl/pkg/fetch"
	"github.com/kerbaras/mangadl/pkg/flaresolverr"
	"github.com/kerbaras/mangadl/pkg/integrations"
	"github.com/kerbaras/mangadl/pkg/logger"
	"github.com/kerbaras/mangadl/pkg/selector"
	"github.com/kerbaras/mangadl/pkg/sources"
)

// MangaController wires the source, fetcher, checkpoint store, conversion
// pipeline and library together from the settings of one invocation.
type MangaController struct {
	settings *config.Settings
	source   sources.Source
	store    *checkpoint.FileStore
	repo     *data.Repository
	solver   *flaresolverr.Client
	client   *http.Client
	log      logger.Logger
}

type ControllerOption func(*MangaController)

// WithSource replaces the default WeebCentral source.
func WithSource(s sources.Source) ControllerOption {
	return func(c *MangaController) { c.source = s }
}

// WithRepository records outcomes in repo instead of opening the library
// database from the settings.
func WithRepository(repo *data.Repository) ControllerOption {
	return func(c *MangaController) { c.repo = repo }
}

// WithHTTPClient sets the client used for page fetches.
func WithHTTPClient(client *http.Client) ControllerOption {
	return func(c *MangaController) { c.client = client }
}

const solverHealthTimeout = 5 * time.Second

func NewMangaController(settings *config.Settings, log logger.Logger, opts ...ControllerOption) (*MangaController, error) {
	if settings == nil {
		return nil, errors.New("settings cannot be nil")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	c := &MangaController{
		settings: settings,
		store:    checkpoint.NewFileStore(settings.OutputDir),
		client:   &http.Client{},
		log:      logger.OrNop(log),
	}
	for _, opt := range opts {
		opt(c)
	}

	if settings.FlareSolverr.Enabled {
		solver, err := flaresolverr.New(settings.FlareSolverr.URL,
			flaresolverr.WithMaxTimeout(settings.FlareSolverr.MaxTimeout),
			flaresolverr.WithLogger(c.log))
		if err != nil {
			return nil, err
		}
		c.solver = solver
	}

	if c.source == nil {
		srcOpts := []sources.WeebCentralOption{sources.WithLogger(c.log)}
		if c.solver != nil {
			srcOpts = append(srcOpts, sources.WithSolver(c.solver))
		}
		c.source = sources.NewWeebCentral(srcOpts...)
	}

	if c.repo == nil && settings.LibraryPath != "" {
		repo, err := data.NewRepository(settings.LibraryPath)
		if err != nil {
			// the library is an index, downloads work without it
			c.log.Warn("library unavailable", logger.String("path", settings.LibraryPath), logger.Err(err))
		} else {
			c.repo = repo
		}
	}
	return c, nil
}

func (c *MangaController) Settings() *config.Settings { return c.settings }

func (c *MangaController) Source() sources.Source { return c.source }

// Library returns the library repository, nil when it could not be opened.
func (c *MangaController) Library() *data.Repository { return c.repo }

// FetchTitle loads title metadata from the source.
func (c *MangaController) FetchTitle(ctx context.Context, url string) (*data.Title, error) {
	title, err := c.source.GetTitle(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch title: %w", err)
	}
	return title, nil
}

// Select resolves a chapter expression against the title.
func (c *MangaController) Select(title *data.Title, expr string) (data.SelectionSet, error) {
	set, _, err := selector.Resolve(expr, title.Chapters)
	return set, err
}

// Checkpoints returns the stored progress records of a title.
func (c *MangaController) Checkpoints(title *data.Title) ([]*checkpoint.Checkpoint, error) {
	return c.store.List(title.Key())
}

// NewFetcher builds the page fetcher from the settings.
func (c *MangaController) NewFetcher() *fetch.Fetcher {
	opts := []fetch.Option{
		fetch.WithClient(c.client),
		fetch.WithPolicy(c.settings.RetryPolicy()),
		fetch.WithTimeout(c.settings.Timeout),
		fetch.WithLogger(c.log),
	}
	if c.solver != nil {
		opts = append(opts, fetch.WithSolver(c.solver))
	}
	return fetch.New(opts...)
}

// NewPipeline builds the conversion pipeline from the settings.
func (c *MangaController) NewPipeline() *integrations.Pipeline {
	s := c.settings
	builders := integrations.Builders(integrations.FormatOptions{
		PDF:          s.PDF,
		CBZ:          s.CBZ,
		EPUB:         s.EPUB,
		PDFMaxWidth:  s.PDFMaxWidth,
		PDFMaxHeight: s.PDFMaxHeight,
	})
	return integrations.NewPipeline(builders, s.DeleteAfter, c.log)
}

// NewOrchestrator builds an orchestrator for one run.
func (c *MangaController) NewOrchestrator(obs ...Observer) *Orchestrator {
	opts := []Option{
		WithPipeline(c.NewPipeline()),
		WithDelay(c.settings.DelayDuration()),
		WithLogger(c.log),
	}
	if c.repo != nil {
		opts = append(opts, WithRecorder(NewLibraryRecorder(c.repo)))
	}
	for _, o := range obs {
		opts = append(opts, WithObserver(o))
	}
	return NewOrchestrator(c.source, c.NewFetcher(), c.store, c.settings.OutputDir, opts...)
}

// CheckSolver asks the challenge solver for its health. It returns nil when no solver is
// configured.
func (c *MangaController) CheckSolver(ctx context.Context) error {
	if c.solver == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, solverHealthTimeout)
	defer cancel()
	return c.solver.Health(ctx)
}

// Download fetches the title, resolves the selection, plans and runs it.
// A bad selection or unavailable metadata fails the whole run before any
// page is fetched. An unreachable solver only fails challenged fetches.
func (c *MangaController) Download(ctx context.Context, url, expr string, obs ...Observer) (*Summary, error) {
	if err := c.CheckSolver(ctx); err != nil {
		c.log.Warn("challenge solver unreachable, challenged pages will fail",
			logger.String("url", c.settings.FlareSolverr.URL), logger.Err(err))
	}

	title, err := c.FetchTitle(ctx, url)
	if err != nil {
		return nil, err
	}
	set, err := c.Select(title, expr)
	if err != nil {
		return nil, err
	}

	orch := c.NewOrchestrator(obs...)
	plan, err := orch.Plan(title, set)
	if err != nil {
		return nil, err
	}
	return orch.Run(ctx, plan, c.settings.ChapterWorkers, c.settings.PageWorkers)
}

// Close releases the solver session and the library database.
func (c *MangaController) Close() error {
	var errs []error
	if c.solver != nil {
		if err := c.solver.Close(context.Background()); err != nil && !errors.Is(err, fetch.ErrSolverUnavailable) {
			errs = append(errs, err)
		}
	}
	if c.repo != nil {
		errs = append(errs, c.repo.Close())
	}
	return errors.Join(errs...)
}
