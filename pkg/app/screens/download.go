package screens

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kerbaras/mangadl/pkg/app/components"
	"github.com/kerbaras/mangadl/pkg/app/styles"
	"github.com/kerbaras/mangadl/pkg/services"
)

const snapshotInterval = 250 * time.Millisecond

// DownloadRun is the running download a DownloadScreen follows.
type DownloadRun struct {
	Title      string
	Chapters   int  // chapters in the plan, skipped ones included
	Converting bool // archives are built after each chapter
	Events     <-chan services.Event
	Snapshot   func() services.Snapshot
	Cancel     func()
}

// DownloadScreen shows a live run: overall progress, counters and the
// chapters in flight. The first q cancels the run, the second leaves
// without waiting for in-flight pages.
type DownloadScreen struct {
	run        DownloadRun
	tracker    *components.ProgressTracker
	spinner    spinner.Model
	progress   progress.Model
	snap       services.Snapshot
	summary    *services.Summary
	cancelling bool
	aborted    bool
	width      int
}

func NewDownloadScreen(run DownloadRun) *DownloadScreen {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(styles.Primary)

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 50

	tracker := components.NewProgressTracker(80)
	tracker.Converting = run.Converting

	return &DownloadScreen{run: run, tracker: tracker, spinner: sp, progress: prog}
}

// Summary is the run summary once the run_finished event arrived.
func (s *DownloadScreen) Summary() *services.Summary { return s.summary }

// Aborted reports whether the user left before the run finished.
func (s *DownloadScreen) Aborted() bool { return s.aborted }

type eventMsg services.Event

type eventsClosedMsg struct{}

type snapshotTickMsg struct{}

func (s *DownloadScreen) Init() tea.Cmd {
	return tea.Batch(s.spinner.Tick, s.waitForEvent, snapshotTick())
}

func (s *DownloadScreen) waitForEvent() tea.Msg {
	e, ok := <-s.run.Events
	if !ok {
		return eventsClosedMsg{}
	}
	return eventMsg(e)
}

func snapshotTick() tea.Cmd {
	return tea.Tick(snapshotInterval, func(time.Time) tea.Msg { return snapshotTickMsg{} })
}

func (s *DownloadScreen) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.width = msg.Width
		s.progress.Width = min(max(msg.Width-20, 20), 80)
		s.tracker.SetWidth(msg.Width - 4)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if s.cancelling {
				s.aborted = true
				return s, tea.Quit
			}
			s.cancelling = true
			if s.run.Cancel != nil {
				s.run.Cancel()
			}
		}

	case eventMsg:
		e := services.Event(msg)
		s.tracker.Update(e)
		if e.Type == services.EventRunFinished {
			s.summary = e.Summary
		}
		return s, s.waitForEvent

	case eventsClosedMsg:
		s.refresh()
		return s, tea.Quit

	case snapshotTickMsg:
		s.refresh()
		return s, snapshotTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		s.spinner, cmd = s.spinner.Update(msg)
		return s, cmd

	case progress.FrameMsg:
		model, cmd := s.progress.Update(msg)
		s.progress = model.(progress.Model)
		return s, cmd
	}
	return s, nil
}

func (s *DownloadScreen) refresh() {
	if s.run.Snapshot != nil {
		s.snap = s.run.Snapshot()
	}
}

func (s *DownloadScreen) percent() float64 {
	if s.run.Chapters == 0 {
		return 1
	}
	finished := s.snap.Done + s.snap.Failed + s.snap.Skipped + s.snap.Cancelled
	return min(float64(finished)/float64(s.run.Chapters), 1)
}

func (s *DownloadScreen) View() string {
	var b strings.Builder

	b.WriteString(styles.TitleStyle.Render("⬇ " + s.run.Title))
	b.WriteString("\n")

	switch {
	case s.summary != nil:
		b.WriteString(styles.StatusCompleted.Render("Run finished"))
	case s.cancelling:
		b.WriteString(s.spinner.View())
		b.WriteString(" ")
		b.WriteString(styles.StatusWarning.Render("Cancelling, waiting for pages in flight..."))
	default:
		b.WriteString(s.spinner.View())
		b.WriteString(" ")
		b.WriteString(styles.SubtitleStyle.Render("Downloading"))
	}
	b.WriteString("\n\n")

	b.WriteString(s.progress.ViewAs(s.percent()))
	b.WriteString("\n")
	b.WriteString(styles.TextStyle.Render(fmt.Sprintf(
		"done %d • failed %d • active %d • skipped %d • pending %d • %d pages • %.1f pages/s • %s",
		s.snap.Done, s.snap.Failed, s.snap.InProgress, s.snap.Skipped, s.snap.Pending,
		s.snap.PagesFetched, s.snap.PagesPerSecond, s.snap.Elapsed.Round(time.Second),
	)))
	b.WriteString("\n\n")

	b.WriteString(s.tracker.View())

	help := "q: cancel"
	if s.cancelling {
		help = "q: quit now"
	}
	b.WriteString(styles.HelpStyle.Render(help))
	return b.String()
}
