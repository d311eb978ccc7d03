package cmd

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	"github.com/spf13/cobra"

	"github.com/kerbaras/mangadl/pkg/data"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the titles in your library",
	Long:  "Display every downloaded title with its last run status in a table",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := data.NewRepository(settings.LibraryPath)
		if err != nil {
			return fmt.Errorf("failed to open library: %w", err)
		}
		defer repo.Close()

		titles, err := repo.ListTitles()
		if err != nil {
			return err
		}
		if len(titles) == 0 {
			fmt.Println("📚 No titles in library. Use 'mangadl download <url>' to add one.")
			return nil
		}

		columns := []table.Column{
			{Title: "Name", Width: 40},
			{Title: "Source", Width: 12},
			{Title: "Status", Width: 12},
			{Title: "Chapters", Width: 10},
			{Title: "Done", Width: 8},
			{Title: "Updated", Width: 17},
		}

		rows := make([]table.Row, 0, len(titles))
		for _, title := range titles {
			_, total, done, err := repo.GetTitleWithChapterCount(title.ID)
			if err != nil {
				return err
			}
			rows = append(rows, table.Row{
				truncateString(title.Name, 38),
				title.Source,
				title.Status,
				fmt.Sprintf("%d", total),
				fmt.Sprintf("%d", done),
				title.UpdatedAt.Format("2006-01-02 15:04"),
			})
		}

		fmt.Printf("\n📚 Library (%d titles)\n\n", len(titles))
		fmt.Println(newTable(columns, rows).View())
		return nil
	},
}
