package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kerbaras/mangadl/pkg/app"
	"github.com/kerbaras/mangadl/pkg/config"
	"github.com/kerbaras/mangadl/pkg/data"
	"github.com/kerbaras/mangadl/pkg/logger"
)

// errChaptersFailed makes the process exit non-zero after a run that
// finished with failed chapters. The summary has already been printed.
var errChaptersFailed = errors.New("some chapters failed")

var (
	cfgFile string
	debug   bool

	v        = viper.New()
	settings *config.Settings
)

var rootCmd = &cobra.Command{
	Use:           "mangadl",
	Short:         "Resumable manga downloader",
	Long:          "Download manga chapters concurrently, resume interrupted runs and package them as PDF, CBZ or EPUB",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		if debug {
			s.Log.Level = "debug"
		}
		settings = s
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := data.NewRepository(settings.LibraryPath)
		if err != nil {
			return fmt.Errorf("failed to open library: %w", err)
		}
		defer repo.Close()
		return app.NewApp(repo).Run()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./mangadl.yaml or ~/.config/mangadl/mangadl.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(listCmd)
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	_ = godotenv.Load()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errChaptersFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

// newLogger builds the command logger. While a full screen TUI owns the
// terminal, logs go to a file next to the library instead of stderr.
func newLogger(toFile bool) (logger.Logger, error) {
	if !toFile {
		return settings.Logger()
	}
	dir := filepath.Dir(settings.LibraryPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return settings.Logger(filepath.Join(dir, "mangadl.log"))
}
