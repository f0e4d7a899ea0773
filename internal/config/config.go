package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all runtime configuration parameters shared by the exporter and importer
type Config struct {
	DoubanBaseURL     string   `json:"douban_base_url"`
	IMDbBaseURL       string   `json:"imdb_base_url"`
	CSVPath           string   `json:"csv_path"`
	CookiePath        string   `json:"cookie_path"`
	IDCachePath       string   `json:"id_cache_path"`
	MetricsPath       string   `json:"metrics_path"`
	RequestTimeoutMs  int      `json:"request_timeout_ms"`
	RetryAttempts     int      `json:"retry_attempts"`
	RetryDelayMs      int      `json:"retry_delay_ms"`
	JitterMinMs       int      `json:"jitter_min_ms"`
	JitterMaxMs       int      `json:"jitter_max_ms"`
	PageDelayMinMs    int      `json:"page_delay_min_ms"`
	PageDelayMaxMs    int      `json:"page_delay_max_ms"`
	DetailDelayMinMs  int      `json:"detail_delay_min_ms"`
	DetailDelayMaxMs  int      `json:"detail_delay_max_ms"`
	ItemPauseMs       int      `json:"item_pause_ms"`
	SearchSettleMs    int      `json:"search_settle_ms"`
	LoginTimeoutMs    int      `json:"login_timeout_ms"`
	BrowserFirstHosts []string `json:"browser_first_hosts"`
	LogLevel          string   `json:"log_level"`
}

// Default returns a configuration with every field set to its default value
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// LoadConfig reads and validates configuration from a JSON file.
// A missing file is not an error: the defaults are returned instead.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for unspecified fields
func applyDefaults(cfg *Config) {
	if cfg.DoubanBaseURL == "" {
		cfg.DoubanBaseURL = "https://movie.douban.com"
	}
	if cfg.IMDbBaseURL == "" {
		cfg.IMDbBaseURL = "https://www.imdb.com"
	}
	if cfg.CSVPath == "" {
		cfg.CSVPath = besideProgram("movie.csv")
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = besideProgram("douban_cookies.json")
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = besideProgram("metrics.json")
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = 20000
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelayMs == 0 {
		cfg.RetryDelayMs = 5000
	}
	if cfg.JitterMinMs == 0 && cfg.JitterMaxMs == 0 {
		cfg.JitterMinMs = 1000
		cfg.JitterMaxMs = 5000
	}
	if cfg.PageDelayMinMs == 0 && cfg.PageDelayMaxMs == 0 {
		cfg.PageDelayMinMs = 2000
		cfg.PageDelayMaxMs = 5000
	}
	if cfg.DetailDelayMinMs == 0 && cfg.DetailDelayMaxMs == 0 {
		cfg.DetailDelayMinMs = 1000
		cfg.DetailDelayMaxMs = 2000
	}
	if cfg.ItemPauseMs == 0 {
		cfg.ItemPauseMs = 2000
	}
	if cfg.SearchSettleMs == 0 {
		cfg.SearchSettleMs = 3000
	}
	if cfg.LoginTimeoutMs == 0 {
		cfg.LoginTimeoutMs = 600000
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// programDir is the directory holding the running executable, or "." when unknown
var programDir = func() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

// besideProgram places a default file name next to the executable.
// Paths given in the config file are used as written.
func besideProgram(name string) string {
	return filepath.Join(programDir(), name)
}

// validate checks that values are sensible
func validate(cfg *Config) error {
	if cfg.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be >= 1")
	}
	if cfg.RequestTimeoutMs < 1000 {
		return fmt.Errorf("request_timeout_ms must be >= 1000")
	}
	if cfg.RetryDelayMs < 0 {
		return fmt.Errorf("retry_delay_ms must be >= 0")
	}
	if cfg.JitterMinMs < 0 || cfg.JitterMaxMs < cfg.JitterMinMs {
		return fmt.Errorf("jitter range [%d, %d] is invalid", cfg.JitterMinMs, cfg.JitterMaxMs)
	}
	if cfg.PageDelayMinMs < 0 || cfg.PageDelayMaxMs < cfg.PageDelayMinMs {
		return fmt.Errorf("page delay range [%d, %d] is invalid", cfg.PageDelayMinMs, cfg.PageDelayMaxMs)
	}
	if cfg.DetailDelayMinMs < 0 || cfg.DetailDelayMaxMs < cfg.DetailDelayMinMs {
		return fmt.Errorf("detail delay range [%d, %d] is invalid", cfg.DetailDelayMinMs, cfg.DetailDelayMaxMs)
	}
	if cfg.ItemPauseMs < 0 || cfg.SearchSettleMs < 0 {
		return fmt.Errorf("item_pause_ms and search_settle_ms must be >= 0")
	}
	if cfg.LoginTimeoutMs < 1000 {
		return fmt.Errorf("login_timeout_ms must be >= 1000")
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c *Config) RequestTimeout() time.Duration { return ms(c.RequestTimeoutMs) }
func (c *Config) RetryDelay() time.Duration     { return ms(c.RetryDelayMs) }
func (c *Config) ItemPause() time.Duration      { return ms(c.ItemPauseMs) }
func (c *Config) SearchSettle() time.Duration   { return ms(c.SearchSettleMs) }
func (c *Config) LoginTimeout() time.Duration   { return ms(c.LoginTimeoutMs) }

// Jitter returns the bounds of the random delay added to every retry
func (c *Config) Jitter() (time.Duration, time.Duration) {
	return ms(c.JitterMinMs), ms(c.JitterMaxMs)
}

// PageDelay returns the bounds of the random pause between collection pages
func (c *Config) PageDelay() (time.Duration, time.Duration) {
	return ms(c.PageDelayMinMs), ms(c.PageDelayMaxMs)
}

// DetailDelay returns the bounds of the random pause before each detail page
func (c *Config) DetailDelay() (time.Duration, time.Duration) {
	return ms(c.DetailDelayMinMs), ms(c.DetailDelayMaxMs)
}
