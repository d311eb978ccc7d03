package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/kerbaras/mangadl/pkg/app/styles"
	"github.com/kerbaras/mangadl/pkg/services"
)

func newTable(columns []table.Column, rows []table.Row) table.Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(false),
		table.WithHeight(len(rows)),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = lipgloss.NewStyle()
	t.SetStyles(s)
	return t
}

func printSummary(w io.Writer, sum *services.Summary) {
	columns := []table.Column{
		{Title: "Chapter", Width: 8},
		{Title: "Outcome", Width: 10},
		{Title: "Pages", Width: 7},
		{Title: "Fetched", Width: 8},
		{Title: "Archives", Width: 16},
		{Title: "Error", Width: 48},
	}

	rows := make([]table.Row, 0, len(sum.Results))
	for _, r := range sum.Results {
		var formats []string
		for _, a := range r.Archives {
			formats = append(formats, strings.TrimPrefix(filepath.Ext(a), "."))
		}
		errText := ""
		if r.Err != nil {
			errText = truncateString(r.Err.Error(), 46)
		}
		rows = append(rows, table.Row{
			r.Chapter.String(),
			string(r.Outcome),
			fmt.Sprintf("%d", r.Pages),
			fmt.Sprintf("%d", r.Fetched),
			strings.Join(formats, ","),
			errText,
		})
	}

	fmt.Fprintf(w, "\n%s\n\n", styles.TitleStyle.Render(fmt.Sprintf("📦 %s", sum.Title)))
	if len(rows) > 0 {
		fmt.Fprintln(w, newTable(columns, rows).View())
	}
	fmt.Fprintf(w, "\nconverted %d • completed %d • failed %d • cancelled %d • skipped %d\n",
		sum.Converted, sum.Completed, sum.Failed, sum.Cancelled, sum.Skipped)
	fmt.Fprintf(w, "%d pages in %s (%.1f pages/s, up to %d chapters at once)\n",
		sum.PagesFetched, sum.Duration.Round(time.Millisecond), sum.PagesPerSecond(), sum.PeakActive)

	if failed := sum.FailedChapters(); len(failed) > 0 {
		nums := make([]string, len(failed))
		for i, n := range failed {
			nums[i] = n.String()
		}
		fmt.Fprintln(w, styles.StatusError.Render("retry failed chapters with: -c "+strings.Join(nums, ",")))
	}
	if sum.Cancelled > 0 {
		fmt.Fprintln(w, styles.StatusWarning.Render("cancelled chapters resume on the next run"))
	}
}

// truncateString cuts s to maxLen terminal cells, ending with "...".
func truncateString(s string, maxLen int) string {
	return ansi.Truncate(s, maxLen, "...")
}
