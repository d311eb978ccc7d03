package app

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kerbaras/mangadl/pkg/app/screens"
	"github.com/kerbaras/mangadl/pkg/data"
)

type App struct {
	repo *data.Repository
}

func NewApp(repo *data.Repository) *App {
	return &App{repo: repo}
}

// Run opens the library browser.
func (a *App) Run() error {
	model := screens.NewRootScreen(a.repo)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := p.Run()
	return err
}

// Download follows a running download until its event stream is closed
// or the user leaves. The returned screen tells which of the two happened.
func (a *App) Download(run screens.DownloadRun) (*screens.DownloadScreen, error) {
	model := screens.NewDownloadScreen(run)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return model, err
}
