package screens

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kerbaras/mangadl/pkg/data"
)

type screenType int

const (
	libraryView screenType = iota
	detailsView
)

// SwitchScreenMsg asks the root screen to show another screen.
type SwitchScreenMsg struct {
	Screen string
	Data   interface{}
}

// RootScreen browses the library: the title list and a title's chapters.
type RootScreen struct {
	repo *data.Repository

	currentView screenType
	library     *LibraryScreen
	details     *DetailsScreen

	width  int
	height int
}

func NewRootScreen(repo *data.Repository) *RootScreen {
	return &RootScreen{
		repo:        repo,
		currentView: libraryView,
		library:     NewLibraryScreen(repo),
	}
}

func (r *RootScreen) Init() tea.Cmd {
	return r.library.Init()
}

func (r *RootScreen) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		r.width = msg.Width
		r.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return r, tea.Quit
		}

	case SwitchScreenMsg:
		switch msg.Screen {
		case "library":
			r.currentView = libraryView
			return r, r.library.Init()
		case "details":
			if titleID, ok := msg.Data.(string); ok {
				r.details = NewDetailsScreen(r.repo, titleID)
				r.currentView = detailsView
				return r, tea.Batch(r.details.Init(), r.resize())
			}
		}
		return r, nil
	}

	switch r.currentView {
	case detailsView:
		if r.details != nil {
			model, cmd := r.details.Update(msg)
			r.details = model.(*DetailsScreen)
			return r, cmd
		}
	}
	model, cmd := r.library.Update(msg)
	r.library = model.(*LibraryScreen)
	return r, cmd
}

// resize replays the last window size to a freshly created screen.
func (r *RootScreen) resize() tea.Cmd {
	if r.width == 0 {
		return nil
	}
	w, h := r.width, r.height
	return func() tea.Msg { return tea.WindowSizeMsg{Width: w, Height: h} }
}

func (r *RootScreen) View() string {
	if r.currentView == detailsView && r.details != nil {
		return r.details.View()
	}
	return r.library.View()
}
