package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kerbaras/mangadl/pkg/app/styles"
	"github.com/kerbaras/mangadl/pkg/data"
)

type TitleListItem struct {
	Title        *data.TitleRecord
	ChapterCount int
	DoneCount    int
}

// TitleList renders library titles as selectable cards.
type TitleList struct {
	Items         []TitleListItem
	SelectedIndex int
	Width         int
	Height        int
}

func NewTitleList() *TitleList {
	return &TitleList{
		Width:  80,
		Height: 20,
	}
}

func (m *TitleList) SetItems(items []TitleListItem) {
	m.Items = items
	if m.SelectedIndex >= len(items) {
		m.SelectedIndex = max(len(items)-1, 0)
	}
}

func (m *TitleList) Next() {
	if len(m.Items) == 0 {
		return
	}
	m.SelectedIndex = (m.SelectedIndex + 1) % len(m.Items)
}

func (m *TitleList) Prev() {
	if len(m.Items) == 0 {
		return
	}
	m.SelectedIndex--
	if m.SelectedIndex < 0 {
		m.SelectedIndex = len(m.Items) - 1
	}
}

func (m *TitleList) Selected() *TitleListItem {
	if len(m.Items) == 0 || m.SelectedIndex >= len(m.Items) {
		return nil
	}
	return &m.Items[m.SelectedIndex]
}

func (m *TitleList) View() string {
	if len(m.Items) == 0 {
		empty := styles.MutedStyle.Render("No titles in library. Run 'mangadl download <url>' to add one.")
		return lipgloss.Place(m.Width, m.Height, lipgloss.Center, lipgloss.Center, empty)
	}

	var b strings.Builder
	for i, item := range m.Items {
		cardStyle := styles.CardStyle
		if i == m.SelectedIndex {
			cardStyle = styles.ActiveCardStyle
		}

		status := item.Title.Status
		if status == "" {
			status = "unknown"
		}

		content := lipgloss.JoinVertical(
			lipgloss.Left,
			styles.TitleStyle.Render(item.Title.Name),
			styles.MutedStyle.Render(item.Title.URL),
			"",
			styles.MutedStyle.Render(fmt.Sprintf("Chapters: %d / %d done", item.DoneCount, item.ChapterCount)),
			styles.StatusStyle(status).Render("Status: "+status),
			styles.MutedStyle.Render("Source: "+item.Title.Source),
		)

		b.WriteString(cardStyle.Width(m.Width - 4).Render(content))
		b.WriteString("\n")
	}
	return b.String()
}
