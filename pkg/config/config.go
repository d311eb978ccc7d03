// Package config loads the downloader settings from defaults, an optional
// config file and MANGADL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kerbaras/mangadl/pkg/fetch"
	"github.com/kerbaras/mangadl/pkg/flaresolverr"
	"github.com/kerbaras/mangadl/pkg/logger"
)

const EnvPrefix = "MANGADL"

// Accepted ranges.
const (
	MinChapterWorkers = 1
	MaxChapterWorkers = 8
	MinPageWorkers    = 1
	MaxPageWorkers    = 10
	MinDelay          = 0.5
	MaxDelay          = 5.0
)

type FlareSolverr struct {
	Enabled    bool          `mapstructure:"enabled"`
	URL        string        `mapstructure:"url"`
	MaxTimeout time.Duration `mapstructure:"max_timeout"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Settings holds every configuration option.
type Settings struct {
	OutputDir      string  `mapstructure:"output_dir"`
	ChapterWorkers int     `mapstructure:"chapter_workers"`
	PageWorkers    int     `mapstructure:"page_workers"`
	Delay          float64 `mapstructure:"delay"` // seconds between requests of one fetch slot

	Timeout           time.Duration `mapstructure:"timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`

	PDF         bool `mapstructure:"pdf"`
	CBZ         bool `mapstructure:"cbz"`
	EPUB        bool `mapstructure:"epub"`
	DeleteAfter bool `mapstructure:"delete_after"`
	// PDF pages larger than this are scaled down; zero keeps the source size.
	PDFMaxWidth  int `mapstructure:"pdf_max_width"`
	PDFMaxHeight int `mapstructure:"pdf_max_height"`

	FlareSolverr FlareSolverr `mapstructure:"flaresolverr"`
	LibraryPath  string       `mapstructure:"library_path"`
	Log          Log          `mapstructure:"log"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()

	v.SetDefault("output_dir", filepath.Join(home, "Downloads", "mangadl"))
	v.SetDefault("chapter_workers", 3)
	v.SetDefault("page_workers", 4)
	v.SetDefault("delay", 1.0)

	v.SetDefault("timeout", fetch.DefaultTimeout)
	v.SetDefault("max_attempts", 4)
	v.SetDefault("backoff_base", 500*time.Millisecond)
	v.SetDefault("backoff_multiplier", 2.0)
	v.SetDefault("backoff_max", 8*time.Second)

	v.SetDefault("pdf", false)
	v.SetDefault("cbz", true)
	v.SetDefault("epub", false)
	v.SetDefault("delete_after", false)
	v.SetDefault("pdf_max_width", 0)
	v.SetDefault("pdf_max_height", 0)

	v.SetDefault("flaresolverr.enabled", true)
	v.SetDefault("flaresolverr.url", flaresolverr.DefaultURL)
	v.SetDefault("flaresolverr.max_timeout", flaresolverr.DefaultMaxTimeout)

	v.SetDefault("library_path", filepath.Join(home, ".mangadl", "library.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads settings into v. An explicit configFile must exist; otherwise
// mangadl.{yaml,json,toml} is looked up in the working directory and
// ~/.config/mangadl and is optional.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("mangadl")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "mangadl"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate clamps the concurrency and delay ranges and rejects settings the
// downloader cannot run with.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.OutputDir) == "" {
		return errors.New("output directory must be set")
	}
	s.ChapterWorkers = min(max(s.ChapterWorkers, MinChapterWorkers), MaxChapterWorkers)
	s.PageWorkers = min(max(s.PageWorkers, MinPageWorkers), MaxPageWorkers)
	s.Delay = min(max(s.Delay, MinDelay), MaxDelay)

	if s.Timeout <= 0 {
		s.Timeout = fetch.DefaultTimeout
	}
	if s.MaxAttempts < 1 {
		s.MaxAttempts = 1
	}
	if s.BackoffMultiplier < 1 {
		s.BackoffMultiplier = 1
	}
	s.PDFMaxWidth = max(s.PDFMaxWidth, 0)
	s.PDFMaxHeight = max(s.PDFMaxHeight, 0)
	if s.FlareSolverr.Enabled && s.FlareSolverr.URL == "" {
		s.FlareSolverr.URL = flaresolverr.DefaultURL
	}
	return nil
}

// DelayDuration is the per-slot request gap.
func (s *Settings) DelayDuration() time.Duration {
	return time.Duration(s.Delay * float64(time.Second))
}

// RetryPolicy is the page fetch retry schedule.
func (s *Settings) RetryPolicy() fetch.Policy {
	p := fetch.DefaultPolicy()
	p.MaxAttempts = s.MaxAttempts
	p.BaseDelay = s.BackoffBase
	p.Multiplier = s.BackoffMultiplier
	p.MaxDelay = s.BackoffMax
	return p
}

// Logger builds the logger described by the settings, writing to
// outputPaths when given and to stderr otherwise.
func (s *Settings) Logger(outputPaths ...string) (logger.Logger, error) {
	return logger.New(logger.Config{Level: s.Log.Level, Development: s.Log.Development, OutputPaths: outputPaths})
}
