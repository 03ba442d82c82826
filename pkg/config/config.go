package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Cursor policies control how far the stored feed cursor may advance when
// some items in a batch fail.
const (
	// CursorBestEffort advances past batches whose failures are recorded,
	// accepting that failed items need a later overwrite pass.
	CursorBestEffort = "best-effort"
	// CursorAllOrNothing refuses to advance past any batch with a failed
	// item, trading repeat work for a gap-free archive.
	CursorAllOrNothing = "all-or-nothing"
)

// Config holds all configuration options for the sync engine
type Config struct {
	// Platform account settings
	Platform PlatformConfig `yaml:"platform" json:"platform"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Sync policy settings
	Sync SyncConfig `yaml:"sync" json:"sync"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// PlatformConfig holds platform-specific configuration
type PlatformConfig struct {
	Name      string `yaml:"name" json:"name"`
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	BaseURL   string `yaml:"base_url" json:"base_url"`
	// RuleSources overrides the built-in signing rule mirrors when set.
	RuleSources []string `yaml:"rule_sources" json:"rule_sources"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	MinRequestDelay   time.Duration `yaml:"min_request_delay" json:"min_request_delay"`
	BurstSize         int           `yaml:"burst_size" json:"burst_size"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	DownloadTimeout     time.Duration `yaml:"download_timeout" json:"download_timeout"`
	RetryAttempts       int           `yaml:"retry_attempts" json:"retry_attempts"`
	MaxRateLimitWait    time.Duration `yaml:"max_rate_limit_wait" json:"max_rate_limit_wait"`
}

// SyncConfig holds incremental sync policy settings
type SyncConfig struct {
	// Categories selects which content feeds to walk (posts, messages,
	// archived, stories, highlights). Empty means posts only.
	Categories []string `yaml:"categories" json:"categories"`
	// CursorPolicy is best-effort or all-or-nothing.
	CursorPolicy string `yaml:"cursor_policy" json:"cursor_policy"`
	// Overwrite re-downloads items the fingerprint index already knows.
	Overwrite bool `yaml:"overwrite" json:"overwrite"`
	// DownloadPreviews accepts locked preview variants when no full
	// variant is available.
	DownloadPreviews bool `yaml:"download_previews" json:"download_previews"`
	// MaxPostsPerCreator caps how many posts one sync walks, 0 = no cap.
	MaxPostsPerCreator int `yaml:"max_posts_per_creator" json:"max_posts_per_creator"`
	// Incremental stops pagination at the stored cursor instead of
	// walking the full history.
	Incremental bool `yaml:"incremental" json:"incremental"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// ValidCategories lists the content feeds the engine knows how to walk.
var ValidCategories = []string{"posts", "messages", "archived", "stories", "highlights"}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Platform: PlatformConfig{
			Name:      "onlyfans",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			MinRequestDelay:   500 * time.Millisecond,
			BurstSize:         10,
		},
		Output: OutputConfig{
			BaseDirectory: "./downloads",
		},
		Download: DownloadConfig{
			ConcurrentDownloads: 4,
			DownloadTimeout:     60 * time.Second,
			RetryAttempts:       4,
			MaxRateLimitWait:    10 * time.Minute,
		},
		Sync: SyncConfig{
			Categories:       []string{"posts"},
			CursorPolicy:     CursorBestEffort,
			Overwrite:        false,
			DownloadPreviews: false,
			Incremental:      true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if userAgent := os.Getenv("CREATORSYNC_USER_AGENT"); userAgent != "" {
		c.Platform.UserAgent = userAgent
	}
	if baseURL := os.Getenv("CREATORSYNC_BASE_URL"); baseURL != "" {
		c.Platform.BaseURL = baseURL
	}

	if rpm := os.Getenv("CREATORSYNC_REQUESTS_PER_MINUTE"); rpm != "" {
		var val int
		fmt.Sscanf(rpm, "%d", &val)
		if val > 0 {
			c.RateLimit.RequestsPerMinute = val
		}
	}
	if delay := os.Getenv("CREATORSYNC_MIN_REQUEST_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil && d >= 0 {
			c.RateLimit.MinRequestDelay = d
		}
	}

	if outputDir := os.Getenv("CREATORSYNC_OUTPUT_DIR"); outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}

	if concurrent := os.Getenv("CREATORSYNC_CONCURRENT_DOWNLOADS"); concurrent != "" {
		var val int
		fmt.Sscanf(concurrent, "%d", &val)
		if val > 0 {
			c.Download.ConcurrentDownloads = val
		}
	}

	if policy := os.Getenv("CREATORSYNC_CURSOR_POLICY"); policy != "" {
		c.Sync.CursorPolicy = policy
	}

	if logLevel := os.Getenv("CREATORSYNC_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	// Check in order of precedence
	locations := []string{
		".creatorsync.yaml",
		".creatorsync.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "creatorsync", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "creatorsync", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".creatorsync.yaml"),
		filepath.Join(os.Getenv("HOME"), ".creatorsync.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Platform.Name != "onlyfans" && c.Platform.Name != "fansly" {
		errs = append(errs, fmt.Errorf("unknown platform %q", c.Platform.Name))
	}
	if c.Platform.UserAgent == "" {
		errs = append(errs, errors.New("user agent is required"))
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.MinRequestDelay < 0 {
		errs = append(errs, errors.New("min request delay cannot be negative"))
	}
	if c.RateLimit.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}

	if c.Download.ConcurrentDownloads <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Download.ConcurrentDownloads > 16 {
		errs = append(errs, errors.New("concurrent downloads should not exceed 16"))
	}
	if c.Download.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}
	if c.Download.RetryAttempts < 0 {
		errs = append(errs, errors.New("retry attempts cannot be negative"))
	}

	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}

	switch c.Sync.CursorPolicy {
	case CursorBestEffort, CursorAllOrNothing:
	default:
		errs = append(errs, fmt.Errorf("invalid cursor policy %q", c.Sync.CursorPolicy))
	}
	for _, category := range c.Sync.Categories {
		if !isValidCategory(category) {
			errs = append(errs, fmt.Errorf("unknown content category %q", category))
		}
	}
	if c.Sync.MaxPostsPerCreator < 0 {
		errs = append(errs, errors.New("max posts per creator cannot be negative"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func isValidCategory(name string) bool {
	for _, c := range ValidCategories {
		if c == name {
			return true
		}
	}
	return false
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if concurrent, ok := flags["concurrent"].(int); ok && concurrent > 0 {
		c.Download.ConcurrentDownloads = concurrent
	}
	if rpm, ok := flags["rate-limit"].(int); ok && rpm > 0 {
		c.RateLimit.RequestsPerMinute = rpm
	}
	if platform, ok := flags["platform"].(string); ok && platform != "" {
		c.Platform.Name = platform
	}
	if policy, ok := flags["cursor-policy"].(string); ok && policy != "" {
		c.Sync.CursorPolicy = policy
	}
	if overwrite, ok := flags["overwrite"].(bool); ok && overwrite {
		c.Sync.Overwrite = true
	}
	if previews, ok := flags["previews"].(bool); ok && previews {
		c.Sync.DownloadPreviews = true
	}
	if maxPosts, ok := flags["max-posts"].(int); ok && maxPosts > 0 {
		c.Sync.MaxPostsPerCreator = maxPosts
	}
	if categories, ok := flags["categories"].([]string); ok && len(categories) > 0 {
		c.Sync.Categories = categories
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".env"))
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".creatorsync.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
