package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "onlyfans", cfg.Platform.Name)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimit.MinRequestDelay)
	assert.Equal(t, 4, cfg.Download.ConcurrentDownloads)
	assert.Equal(t, CursorBestEffort, cfg.Sync.CursorPolicy)
	assert.Equal(t, []string{"posts"}, cfg.Sync.Categories)
	assert.False(t, cfg.Sync.Overwrite)
	assert.True(t, cfg.Sync.Incremental)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
platform:
  name: fansly
  user_agent: "custom-agent"
rate_limit:
  requests_per_minute: 30
  min_request_delay: 2000000000
download:
  concurrent_downloads: 2
sync:
  categories: [posts, messages]
  cursor_policy: all-or-nothing
  overwrite: true
  max_posts_per_creator: 100
output:
  base_directory: /data/archive
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, "fansly", cfg.Platform.Name)
	assert.Equal(t, "custom-agent", cfg.Platform.UserAgent)
	assert.Equal(t, 30, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.MinRequestDelay)
	assert.Equal(t, 2, cfg.Download.ConcurrentDownloads)
	assert.Equal(t, []string{"posts", "messages"}, cfg.Sync.Categories)
	assert.Equal(t, CursorAllOrNothing, cfg.Sync.CursorPolicy)
	assert.True(t, cfg.Sync.Overwrite)
	assert.Equal(t, 100, cfg.Sync.MaxPostsPerCreator)
	assert.Equal(t, "/data/archive", cfg.Output.BaseDirectory)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFileMissingIsNotError(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err) // explicit path must exist
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CREATORSYNC_OUTPUT_DIR", "/env/output")
	t.Setenv("CREATORSYNC_CONCURRENT_DOWNLOADS", "8")
	t.Setenv("CREATORSYNC_MIN_REQUEST_DELAY", "750ms")
	t.Setenv("CREATORSYNC_CURSOR_POLICY", "all-or-nothing")
	t.Setenv("CREATORSYNC_LOG_LEVEL", "warn")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "/env/output", cfg.Output.BaseDirectory)
	assert.Equal(t, 8, cfg.Download.ConcurrentDownloads)
	assert.Equal(t, 750*time.Millisecond, cfg.RateLimit.MinRequestDelay)
	assert.Equal(t, CursorAllOrNothing, cfg.Sync.CursorPolicy)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"output":        "/flag/output",
		"concurrent":    6,
		"cursor-policy": CursorAllOrNothing,
		"overwrite":     true,
		"previews":      true,
		"max-posts":     25,
		"categories":    []string{"posts", "archived"},
	})

	assert.Equal(t, "/flag/output", cfg.Output.BaseDirectory)
	assert.Equal(t, 6, cfg.Download.ConcurrentDownloads)
	assert.Equal(t, CursorAllOrNothing, cfg.Sync.CursorPolicy)
	assert.True(t, cfg.Sync.Overwrite)
	assert.True(t, cfg.Sync.DownloadPreviews)
	assert.Equal(t, 25, cfg.Sync.MaxPostsPerCreator)
	assert.Equal(t, []string{"posts", "archived"}, cfg.Sync.Categories)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown platform", func(c *Config) { c.Platform.Name = "myspace" }},
		{"empty user agent", func(c *Config) { c.Platform.UserAgent = "" }},
		{"zero rpm", func(c *Config) { c.RateLimit.RequestsPerMinute = 0 }},
		{"zero concurrency", func(c *Config) { c.Download.ConcurrentDownloads = 0 }},
		{"excessive concurrency", func(c *Config) { c.Download.ConcurrentDownloads = 64 }},
		{"empty output dir", func(c *Config) { c.Output.BaseDirectory = "" }},
		{"bad cursor policy", func(c *Config) { c.Sync.CursorPolicy = "sometimes" }},
		{"bad category", func(c *Config) { c.Sync.Categories = []string{"reels"} }},
		{"negative max posts", func(c *Config) { c.Sync.MaxPostsPerCreator = -1 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Output.BaseDirectory = "/saved/output"
	cfg.Sync.Categories = []string{"posts", "stories"}
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reloaded := DefaultConfig()
	require.NoError(t, reloaded.LoadFromFile(path))
	assert.Equal(t, "/saved/output", reloaded.Output.BaseDirectory)
	assert.Equal(t, []string{"posts", "stories"}, reloaded.Sync.Categories)
}
