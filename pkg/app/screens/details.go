package screens

import (
	"fmt"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kerbaras/mangadl/pkg/app/styles"
	"github.com/kerbaras/mangadl/pkg/data"
)

const visibleChapters = 10

// DetailsScreen lists the recorded chapter outcomes of one title.
type DetailsScreen struct {
	repo            *data.Repository
	titleID         string
	title           *data.TitleRecord
	chapters        []*data.ChapterRecord
	selectedChapter int
	width           int
	height          int
	err             error
}

func NewDetailsScreen(repo *data.Repository, titleID string) *DetailsScreen {
	return &DetailsScreen{repo: repo, titleID: titleID}
}

func (s *DetailsScreen) Init() tea.Cmd {
	return s.loadDetails
}

func (s *DetailsScreen) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.width = msg.Width
		s.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if s.selectedChapter > 0 {
				s.selectedChapter--
			}
		case "down", "j":
			if s.selectedChapter < len(s.chapters)-1 {
				s.selectedChapter++
			}
		case "r":
			return s, s.loadDetails
		case "esc", "backspace":
			return s, func() tea.Msg {
				return SwitchScreenMsg{Screen: "library"}
			}
		}

	case detailsLoadedMsg:
		s.title = msg.title
		s.chapters = msg.chapters
		s.err = msg.err
		if s.selectedChapter >= len(s.chapters) {
			s.selectedChapter = max(len(s.chapters)-1, 0)
		}
	}

	return s, nil
}

func (s *DetailsScreen) View() string {
	if s.err != nil && s.title == nil {
		return styles.StatusError.Render(fmt.Sprintf("Error: %s", s.err))
	}
	if s.width == 0 || s.title == nil {
		return "Loading..."
	}

	header := styles.TitleStyle.Render(fmt.Sprintf("📖 %s", s.title.Name))

	var errorMsg string
	if s.err != nil {
		errorMsg = styles.StatusError.Render(fmt.Sprintf("Error: %s", s.err)) + "\n\n"
	}

	help := styles.HelpStyle.Render("↑/k ↓/j: navigate • r: refresh • esc: back • q: quit")
	return fmt.Sprintf("%s\n\n%s%s\n%s\n%s", header, errorMsg, s.renderInfo(), s.renderChapters(), help)
}

func (s *DetailsScreen) renderInfo() string {
	status := s.title.Status
	if status == "" {
		status = "unknown"
	}
	info := lipgloss.JoinVertical(
		lipgloss.Left,
		styles.MutedStyle.Render(s.title.URL),
		styles.MutedStyle.Render("Source: "+s.title.Source),
		styles.StatusStyle(status).Render("Status: "+status),
		styles.MutedStyle.Render("Updated: "+s.title.UpdatedAt.Format("2006-01-02 15:04")),
	)
	return styles.CardStyle.Width(s.width - 4).Render(info)
}

func (s *DetailsScreen) renderChapters() string {
	if len(s.chapters) == 0 {
		return styles.MutedStyle.Render("No chapters recorded")
	}

	var b strings.Builder
	b.WriteString(styles.SubtitleStyle.Render(fmt.Sprintf("Chapters (%d recorded):", len(s.chapters))))
	b.WriteString("\n\n")

	start, end := window(s.selectedChapter, len(s.chapters), visibleChapters)
	for i := start; i < end; i++ {
		ch := s.chapters[i]
		line := fmt.Sprintf("Ch. %-7s %-10s %3d pages", ch.Number, ch.Status, ch.Pages)
		for _, a := range ch.Archives {
			line += "  " + filepath.Ext(a)
		}
		if ch.LastError != "" {
			line += "  " + ch.LastError
		}

		if i == s.selectedChapter {
			line = styles.SelectedStyle.Render(line)
		} else {
			line = styles.StatusStyle(ch.Status).Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(s.chapters) > visibleChapters {
		b.WriteString("\n")
		b.WriteString(styles.MutedStyle.Render(fmt.Sprintf("Showing %d-%d of %d chapters", start+1, end, len(s.chapters))))
	}
	return b.String()
}

// window returns the [start, end) range of size n around selected.
func window(selected, total, n int) (int, int) {
	if total <= n {
		return 0, total
	}
	start := max(selected-n/2, 0)
	end := start + n
	if end > total {
		end = total
		start = end - n
	}
	return start, end
}

type detailsLoadedMsg struct {
	title    *data.TitleRecord
	chapters []*data.ChapterRecord
	err      error
}

func (s *DetailsScreen) loadDetails() tea.Msg {
	if s.repo == nil {
		return detailsLoadedMsg{err: errNoLibrary}
	}
	title, err := s.repo.GetTitle(s.titleID)
	if err != nil {
		return detailsLoadedMsg{err: err}
	}
	if title == nil {
		return detailsLoadedMsg{err: fmt.Errorf("title %q not found", s.titleID)}
	}

	chapters, err := s.repo.GetChapters(s.titleID)
	return detailsLoadedMsg{title: title, chapters: chapters, err: err}
}
