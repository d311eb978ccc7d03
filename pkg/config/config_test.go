package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	s, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 3, s.ChapterWorkers)
	assert.Equal(t, 4, s.PageWorkers)
	assert.Equal(t, 1.0, s.Delay)
	assert.Equal(t, time.Second, s.DelayDuration())
	assert.Equal(t, 30*time.Second, s.Timeout)
	assert.Equal(t, 4, s.MaxAttempts)
	assert.True(t, s.CBZ)
	assert.False(t, s.PDF)
	assert.True(t, s.FlareSolverr.Enabled)
	assert.Equal(t, "http://localhost:8191/v1", s.FlareSolverr.URL)
	assert.Equal(t, "info", s.Log.Level)

	p := s.RetryPolicy()
	assert.Equal(t, 500*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 8*time.Second, p.MaxDelay)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "mangadl.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
output_dir: /tmp/manga
chapter_workers: 5
delay: 2.5
pdf: true
pdf_max_width: 1200
timeout: 45s
flaresolverr:
  enabled: false
log:
  level: debug
`), 0644))

	t.Setenv("MANGADL_PAGE_WORKERS", "7")
	t.Setenv("MANGADL_LOG_DEVELOPMENT", "true")

	s, err := Load(viper.New(), file)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/manga", s.OutputDir)
	assert.Equal(t, 5, s.ChapterWorkers)
	assert.Equal(t, 7, s.PageWorkers)
	assert.Equal(t, 2.5, s.Delay)
	assert.True(t, s.PDF)
	assert.Equal(t, 1200, s.PDFMaxWidth)
	assert.Equal(t, 0, s.PDFMaxHeight)
	assert.Equal(t, 45*time.Second, s.Timeout)
	assert.False(t, s.FlareSolverr.Enabled)
	assert.Equal(t, "debug", s.Log.Level)
	assert.True(t, s.Log.Development)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateClamps(t *testing.T) {
	s := &Settings{OutputDir: "out", ChapterWorkers: 20, PageWorkers: 0, Delay: 0.1}
	require.NoError(t, s.Validate())
	assert.Equal(t, 8, s.ChapterWorkers)
	assert.Equal(t, 1, s.PageWorkers)
	assert.Equal(t, 0.5, s.Delay)

	s = &Settings{OutputDir: "out", ChapterWorkers: 2, PageWorkers: 11, Delay: 9}
	require.NoError(t, s.Validate())
	assert.Equal(t, 2, s.ChapterWorkers)
	assert.Equal(t, 10, s.PageWorkers)
	assert.Equal(t, 5.0, s.Delay)

	s = &Settings{OutputDir: "out", PDFMaxWidth: -5, PDFMaxHeight: 900}
	require.NoError(t, s.Validate())
	assert.Equal(t, 0, s.PDFMaxWidth)
	assert.Equal(t, 900, s.PDFMaxHeight)
}

func TestValidateRejectsEmptyOutput(t *testing.T) {
	assert.Error(t, (&Settings{OutputDir: "  "}).Validate())
}

func TestSettingsLoggerWritesToOutputPath(t *testing.T) {
	out := filepath.Join(t.TempDir(), "mangadl.log")
	s := &Settings{Log: Log{Level: "warn"}}

	log, err := s.Logger(out)
	require.NoError(t, err)
	log.Info("dropped")
	log.Warn("page failed")
	_ = log.Sync()

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "page failed")
	assert.NotContains(t, string(raw), "dropped")
}
