package screens

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kerbaras/mangadl/pkg/app/components"
	"github.com/kerbaras/mangadl/pkg/app/styles"
	"github.com/kerbaras/mangadl/pkg/data"
)

var errNoLibrary = errors.New("library database is not available")

type LibraryScreen struct {
	repo   *data.Repository
	titles *components.TitleList
	width  int
	height int
	err    error
}

func NewLibraryScreen(repo *data.Repository) *LibraryScreen {
	return &LibraryScreen{
		repo:   repo,
		titles: components.NewTitleList(),
	}
}

func (s *LibraryScreen) Init() tea.Cmd {
	return s.loadLibrary
}

func (s *LibraryScreen) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.width = msg.Width
		s.height = msg.Height
		s.titles.Width = msg.Width - 4
		s.titles.Height = msg.Height - 10

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			s.titles.Prev()
		case "down", "j":
			s.titles.Next()
		case "r":
			return s, s.loadLibrary
		case "d":
			if selected := s.titles.Selected(); selected != nil {
				return s, s.deleteTitle(selected.Title.ID)
			}
		case "enter":
			if selected := s.titles.Selected(); selected != nil {
				id := selected.Title.ID
				return s, func() tea.Msg {
					return SwitchScreenMsg{Screen: "details", Data: id}
				}
			}
		}

	case libraryLoadedMsg:
		s.titles.SetItems(msg.items)
		s.err = msg.err

	case titleDeletedMsg:
		s.err = msg.err
		return s, s.loadLibrary
	}

	return s, nil
}

func (s *LibraryScreen) View() string {
	if s.width == 0 {
		return "Loading..."
	}

	header := styles.TitleStyle.Render("📚 Library")

	var errorMsg string
	if s.err != nil {
		errorMsg = styles.StatusError.Render(fmt.Sprintf("Error: %s", s.err)) + "\n\n"
	}

	help := styles.HelpStyle.Render("↑/k: up • ↓/j: down • enter: chapters • d: forget title • r: refresh • q: quit")
	return fmt.Sprintf("%s\n\n%s%s\n%s", header, errorMsg, s.titles.View(), help)
}

type libraryLoadedMsg struct {
	items []components.TitleListItem
	err   error
}

type titleDeletedMsg struct {
	err error
}

func (s *LibraryScreen) loadLibrary() tea.Msg {
	if s.repo == nil {
		return libraryLoadedMsg{err: errNoLibrary}
	}
	titles, err := s.repo.ListTitles()
	if err != nil {
		return libraryLoadedMsg{err: err}
	}

	items := make([]components.TitleListItem, len(titles))
	for i, title := range titles {
		_, total, done, _ := s.repo.GetTitleWithChapterCount(title.ID)
		items[i] = components.TitleListItem{Title: title, ChapterCount: total, DoneCount: done}
	}
	return libraryLoadedMsg{items: items}
}

// deleteTitle removes the title from the library index only; downloaded
// files and checkpoints stay on disk.
func (s *LibraryScreen) deleteTitle(titleID string) tea.Cmd {
	return func() tea.Msg {
		if s.repo == nil {
			return titleDeletedMsg{err: errNoLibrary}
		}
		return titleDeletedMsg{err: s.repo.DeleteTitle(titleID)}
	}
}
