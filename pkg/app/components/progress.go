package components

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/kerbaras/mangadl/pkg/app/styles"
	"github.com/kerbaras/mangadl/pkg/data"
	"github.com/kerbaras/mangadl/pkg/services"
)

const recentLimit = 6

type chapterProgress struct {
	chapter data.ChapterNumber
	status  string
	done    int
	total   int
	err     error
}

// ProgressTracker folds run events into per-chapter progress lines.
// Chapters leave the active set on their terminal event and are kept in a
// short list of recent results.
type ProgressTracker struct {
	active map[data.ChapterNumber]*chapterProgress
	recent []*chapterProgress
	width  int

	// Converting is set when archives are built after a chapter completes,
	// so a completed chapter stays active until it is packaged.
	Converting bool
}

func NewProgressTracker(width int) *ProgressTracker {
	return &ProgressTracker{
		active: make(map[data.ChapterNumber]*chapterProgress),
		width:  width,
	}
}

func (p *ProgressTracker) SetWidth(width int) {
	p.width = width
}

func (p *ProgressTracker) Update(e services.Event) {
	switch e.Type {
	case services.EventChapterStarted:
		p.active[e.Chapter] = &chapterProgress{chapter: e.Chapter, status: "fetching", done: e.Done, total: e.Total}

	case services.EventPageCompleted, services.EventPageFailed:
		cp := p.chapter(e.Chapter)
		cp.done, cp.total = e.Done, e.Total
		if e.Err != nil {
			cp.err = e.Err
		}

	case services.EventChapterCompleted:
		if p.Converting {
			cp := p.chapter(e.Chapter)
			cp.status, cp.done, cp.total = "converting", e.Done, e.Total
			return
		}
		p.finish(e, "completed")

	case services.EventChapterConverted:
		p.finish(e, "converted")
	case services.EventConversionFailed:
		p.finish(e, "completed")
	case services.EventChapterFailed:
		p.finish(e, "failed")
	case services.EventChapterCancelled:
		p.finish(e, "cancelled")
	case services.EventChapterSkipped:
		p.finish(e, "skipped")
	}
}

func (p *ProgressTracker) chapter(n data.ChapterNumber) *chapterProgress {
	cp, ok := p.active[n]
	if !ok {
		cp = &chapterProgress{chapter: n, status: "fetching"}
		p.active[n] = cp
	}
	return cp
}

func (p *ProgressTracker) finish(e services.Event, status string) {
	cp := p.chapter(e.Chapter)
	delete(p.active, e.Chapter)
	cp.status = status
	if e.Total > 0 {
		cp.done, cp.total = e.Done, e.Total
	}
	if e.Err != nil {
		cp.err = e.Err
	}

	p.recent = append(p.recent, cp)
	if len(p.recent) > recentLimit {
		p.recent = p.recent[len(p.recent)-recentLimit:]
	}
}

func (p *ProgressTracker) Clear() {
	p.active = make(map[data.ChapterNumber]*chapterProgress)
	p.recent = nil
}

func (p *ProgressTracker) HasActive() bool {
	return len(p.active) > 0
}

func (p *ProgressTracker) View() string {
	if len(p.active) == 0 && len(p.recent) == 0 {
		return ""
	}

	var b strings.Builder
	if len(p.active) > 0 {
		b.WriteString(styles.SubtitleStyle.Render("Active chapters"))
		b.WriteString("\n")

		active := make([]*chapterProgress, 0, len(p.active))
		for _, cp := range p.active {
			active = append(active, cp)
		}
		sort.Slice(active, func(i, j int) bool { return active[i].chapter < active[j].chapter })

		for _, cp := range active {
			label := fmt.Sprintf("Ch. %-6s %3d/%-3d ", cp.chapter, cp.done, cp.total)
			b.WriteString(styles.TextStyle.Render(label))
			b.WriteString(renderProgressBar(cp.done, cp.total, max(p.width-len(label)-14, 10)))
			b.WriteString(" ")
			b.WriteString(styles.StatusStyle(cp.status).Render(cp.status))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(p.recent) > 0 {
		b.WriteString(styles.SubtitleStyle.Render("Recent"))
		b.WriteString("\n")
		for _, cp := range p.recent {
			line := fmt.Sprintf("Ch. %-6s %s", cp.chapter, cp.status)
			if cp.err != nil {
				line += ": " + truncate(cp.err.Error(), max(p.width-ansi.StringWidth(line)-2, 20))
			}
			b.WriteString(styles.StatusStyle(cp.status).Render(line))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func renderProgressBar(current, total, width int) string {
	if total == 0 || width <= 0 {
		return ""
	}

	filled := int(float64(current) / float64(total) * float64(width))
	if filled > width {
		filled = width
	}

	return styles.ProgressBarStyle.Render(strings.Repeat("█", filled)) +
		styles.ProgressEmptyStyle.Render(strings.Repeat("░", width-filled))
}

// SimpleProgress renders a bare progress bar.
func SimpleProgress(current, total, width int) string {
	return renderProgressBar(current, total, width)
}

func truncate(s string, n int) string {
	return ansi.Truncate(s, n, "...")
}
