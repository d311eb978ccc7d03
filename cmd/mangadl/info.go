package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/spf13/cobra"

	"github.com/kerbaras/mangadl/pkg/app/styles"
	"github.com/kerbaras/mangadl/pkg/checkpoint"
	"github.com/kerbaras/mangadl/pkg/data"
	"github.com/kerbaras/mangadl/pkg/services"
)

var infoCmd = &cobra.Command{
	Use:   "info <series-url>",
	Short: "Show a title and the local state of its chapters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger(false)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctrl, err := services.NewMangaController(settings, log)
		if err != nil {
			return err
		}
		defer ctrl.Close()

		title, err := ctrl.FetchTitle(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		cps, err := ctrl.Checkpoints(title)
		if err != nil {
			return err
		}
		byChapter := make(map[data.ChapterNumber]*checkpoint.Checkpoint, len(cps))
		for _, cp := range cps {
			byChapter[cp.Chapter] = cp
		}

		fmt.Println(styles.TitleStyle.Render(title.Name))
		if len(title.Authors) > 0 {
			fmt.Println("Authors: " + strings.Join(title.Authors, ", "))
		}
		if len(title.Tags) > 0 {
			fmt.Println("Tags:    " + strings.Join(title.Tags, ", "))
		}
		if title.Description != "" {
			fmt.Println()
			fmt.Println(styles.MutedStyle.Render(truncateString(title.Description, 400)))
		}
		fmt.Println()

		columns := []table.Column{
			{Title: "Chapter", Width: 8},
			{Title: "Name", Width: 36},
			{Title: "Local", Width: 11},
			{Title: "Pages", Width: 9},
		}
		rows := make([]table.Row, 0, len(title.Chapters))
		for _, ch := range title.Chapters {
			state, pages := "-", ""
			if cp, ok := byChapter[ch.Number]; ok {
				state = string(cp.Status)
				pages = fmt.Sprintf("%d/%d", len(cp.Completed), cp.TotalPages)
			}
			rows = append(rows, table.Row{ch.Number.String(), truncateString(ch.Name, 34), state, pages})
		}

		fmt.Printf("%d chapters, %d with local progress\n\n", len(title.Chapters), len(cps))
		fmt.Println(newTable(columns, rows).View())
		return nil
	},
}
