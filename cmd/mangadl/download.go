package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kerbaras/mangadl/pkg/app"
	"github.com/kerbaras/mangadl/pkg/app/screens"
	"github.com/kerbaras/mangadl/pkg/data"
	"github.com/kerbaras/mangadl/pkg/logger"
	"github.com/kerbaras/mangadl/pkg/services"
)

var downloadCmd = &cobra.Command{
	Use:   "download <series-url>",
	Short: "Download chapters of a title",
	Long: `Download the selected chapters of a title and package them.

Chapters are selected with -c using numbers and ranges, for example
"1-10", "5,7,9", "1-3,10.5" or "all". Interrupted runs resume from their
checkpoints: chapters already packaged are skipped and only missing pages
are fetched again.`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	f := downloadCmd.Flags()
	f.StringP("chapters", "c", "all", "chapter selection, e.g. 1-10,12,15.5")
	f.Int("chapter-workers", 3, "chapters downloaded concurrently (1-8)")
	f.Int("page-workers", 4, "pages fetched concurrently per chapter (1-10)")
	f.Float64("delay", 1.0, "seconds between requests of one fetch slot (0.5-5)")
	f.Bool("pdf", false, "build a PDF per chapter")
	f.Bool("cbz", true, "build a CBZ per chapter")
	f.Bool("epub", false, "build an EPUB per chapter")
	f.Bool("delete-after", false, "delete raw pages once every archive is written")
	f.StringP("output", "o", "", "output directory")
	f.Bool("plain", false, "plain progress bar instead of the full screen view")

	for key, flag := range map[string]string{
		"chapter_workers": "chapter-workers",
		"page_workers":    "page-workers",
		"delay":           "delay",
		"pdf":             "pdf",
		"cbz":             "cbz",
		"epub":            "epub",
		"delete_after":    "delete-after",
		"output_dir":      "output",
	} {
		if err := v.BindPFlag(key, f.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func runDownload(cmd *cobra.Command, args []string) error {
	expr, _ := cmd.Flags().GetString("chapters")
	plain, _ := cmd.Flags().GetBool("plain")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := newLogger(!plain)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctrl, err := services.NewMangaController(settings, log)
	if err != nil {
		return err
	}
	// a detached run may still be recording into the library
	detached := false
	defer func() {
		if !detached {
			ctrl.Close()
		}
	}()

	if err := ctrl.CheckSolver(ctx); err != nil {
		log.Warn("challenge solver unreachable, challenged pages will fail", logger.Err(err))
	}

	fmt.Printf("🔍 Fetching %s\n", args[0])
	title, err := ctrl.FetchTitle(ctx, args[0])
	if err != nil {
		return err
	}
	selection, err := ctrl.Select(title, expr)
	if err != nil {
		return err
	}
	if len(selection) == 0 {
		fmt.Printf("No chapters of %s match %q\n", title.Name, expr)
		return nil
	}
	log.Info("resolved selection",
		logger.String("title", title.Name),
		logger.String("expr", expr),
		logger.Int("chapters", len(selection)))

	var sum *services.Summary
	if plain {
		sum, err = downloadPlain(ctx, ctrl, title, selection)
	} else {
		sum, err = downloadTUI(ctx, ctrl, title, selection)
	}
	if errors.Is(err, errRunDetached) {
		detached = true
		log.Warn("run did not stop in time, leaving it to finish in the background")
		fmt.Println("Download interrupted. Run the same command again to resume.")
		return errChaptersFailed
	}
	if err != nil {
		return err
	}
	if sum == nil {
		fmt.Println("Download interrupted. Run the same command again to resume.")
		return errChaptersFailed
	}

	printSummary(os.Stdout, sum)
	if sum.HasFailures() || sum.Cancelled > 0 {
		return errChaptersFailed
	}
	return nil
}

type runResult struct {
	sum *services.Summary
	err error
}

var errRunDetached = errors.New("run still in progress")

// abortGrace bounds how long an aborted TUI waits for in-flight pages: one
// request timeout plus some room for the final checkpoint writes.
func abortGrace() time.Duration {
	return settings.Timeout + 5*time.Second
}

// awaitRun waits up to grace for the background run to return.
func awaitRun(done <-chan runResult, grace time.Duration) (runResult, bool) {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case res := <-done:
		return res, true
	case <-timer.C:
		return runResult{}, false
	}
}

// downloadTUI runs the plan in the background while the full screen view
// follows its events. When the user leaves early the run is cancelled and
// given abortGrace to wind down; past that errRunDetached is returned.
func downloadTUI(ctx context.Context, ctrl *services.MangaController, title *data.Title, selection data.SelectionSet) (*services.Summary, error) {
	obs := services.NewChannelObserver(1024)
	orch := ctrl.NewOrchestrator(obs)
	plan, err := orch.Plan(title, selection)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan runResult, 1)
	go func() {
		sum, err := orch.Run(runCtx, plan, settings.ChapterWorkers, settings.PageWorkers)
		obs.Close()
		done <- runResult{sum: sum, err: err}
	}()

	screen, err := app.NewApp(ctrl.Library()).Download(screens.DownloadRun{
		Title:      title.Name,
		Chapters:   len(plan.Jobs) + len(plan.Skipped) + len(plan.Broken),
		Converting: ctrl.NewPipeline().Enabled(),
		Events:     obs.Events(),
		Snapshot:   orch.Snapshot,
		Cancel:     cancel,
	})
	if err != nil {
		cancel()
		res := <-done
		return res.sum, err
	}
	if screen.Aborted() {
		cancel()
		fmt.Println("Stopping, waiting for in-flight pages to finish...")
		res, ok := awaitRun(done, abortGrace())
		if !ok {
			return nil, errRunDetached
		}
		return res.sum, res.err
	}
	res := <-done
	return res.sum, res.err
}

// downloadPlain reports progress with a single line bar, one step per
// finished chapter.
func downloadPlain(ctx context.Context, ctrl *services.MangaController, title *data.Title, selection data.SelectionSet) (*services.Summary, error) {
	converting := ctrl.NewPipeline().Enabled()
	bar := progressbar.NewOptions(len(selection),
		progressbar.OptionSetDescription(title.Name),
		progressbar.OptionSetItsString("chapter"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	obs := services.ObserverFunc(func(e services.Event) {
		switch e.Type {
		case services.EventPageCompleted:
			bar.Describe(fmt.Sprintf("%s ch.%s %d/%d", title.Name, e.Chapter, e.Done, e.Total))
		case services.EventChapterCompleted:
			if !converting {
				_ = bar.Add(1)
			}
		case services.EventChapterConverted, services.EventConversionFailed,
			services.EventChapterFailed, services.EventChapterCancelled, services.EventChapterSkipped:
			_ = bar.Add(1)
		}
	})

	orch := ctrl.NewOrchestrator(obs)
	plan, err := orch.Plan(title, selection)
	if err != nil {
		return nil, err
	}
	sum, err := orch.Run(ctx, plan, settings.ChapterWorkers, settings.PageWorkers)
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)
	return sum, err
}
