package adapter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mmcdole/nexdl/internal/domain"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, domain.PositionManual, cfg.PositionMode())
	assert.Nil(t, cfg.ClickPreset())
	assert.True(t, cfg.Download.AutoClose)
	assert.Equal(t, 0.8, cfg.Detection.Confidence)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
collection: my_mods.json
game: skyrimspecialedition
progress:
  file: state/progress.db
download:
  delay_before_click: 3s
  auto_close: false
  batch_size: 20
detection:
  enabled: true
  confidence: 0.9
click:
  x: 1200
  y: 800
browser:
  provider: dry-run
`)

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "my_mods.json", cfg.Collection)
	assert.Equal(t, "skyrimspecialedition", cfg.Game)
	assert.Equal(t, "state/progress.db", cfg.Progress.File)
	assert.Equal(t, 3*time.Second, cfg.Download.DelayBeforeClick)
	assert.Equal(t, 6*time.Second, cfg.Download.DelayForDownload, "unset keys keep defaults")
	assert.False(t, cfg.Download.AutoClose)
	assert.Equal(t, 20, cfg.Download.BatchSize)
	assert.Equal(t, domain.PositionAuto, cfg.PositionMode())
	assert.Equal(t, &domain.ClickPosition{X: 1200, Y: 800}, cfg.ClickPreset())
	assert.Equal(t, ProviderDryRun, cfg.Browser.Provider)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "download:\n  batch_size: 20\n")
	t.Setenv("NEXDL_DOWNLOAD_BATCH_SIZE", "7")
	t.Setenv("NEXDL_DOWNLOAD_DELAY_FOR_DOWNLOAD", "10s")

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Download.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Download.DelayForDownload)
}

func TestLoadConfig_FlagsOverrideEverything(t *testing.T) {
	path := writeConfig(t, "game: fallout4\ndownload:\n  batch_size: 20\n")
	t.Setenv("NEXDL_DOWNLOAD_BATCH_SIZE", "7")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("batch-size", 50, "")
	flags.Bool("fast", false, "")
	flags.String("game", "", "")
	flags.Duration("delay-click", 0, "")
	require.NoError(t, flags.Parse([]string{"--batch-size=9", "--fast", "--delay-click=1500ms"}))

	cfg, err := LoadConfig(path, flags)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Download.BatchSize)
	assert.False(t, cfg.Download.AutoClose)
	assert.Equal(t, 1500*time.Millisecond, cfg.Download.DelayBeforeClick)
	assert.Equal(t, "fallout4", cfg.Game, "unchanged flags do not override")
}

func TestLoadConfig_ExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	path := writeConfig(t, "progress:\n  file: ~/nexdl/progress.json\n")

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "nexdl", "progress.json"), cfg.Progress.File)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty collection", func(c *Config) { c.Collection = "" }, "collection"},
		{"empty game", func(c *Config) { c.Game = "" }, "game"},
		{"game with slash", func(c *Config) { c.Game = "skyrim/mods" }, "game"},
		{"bad progress ext", func(c *Config) { c.Progress.File = "progress.csv" }, "progress.file"},
		{"negative delay", func(c *Config) { c.Download.DelayBetweenMods = -time.Second }, "download.delay_between_mods"},
		{"zero batch", func(c *Config) { c.Download.BatchSize = 0 }, "download.batch_size"},
		{"zero attempts", func(c *Config) { c.Download.MaxAttempts = 0 }, "download.max_attempts"},
		{"too many attempts", func(c *Config) { c.Download.MaxAttempts = 64 }, "download.max_attempts"},
		{"confidence too high", func(c *Config) { c.Detection.Confidence = 1.5 }, "detection.confidence"},
		{"confidence zero", func(c *Config) { c.Detection.Confidence = 0 }, "detection.confidence"},
		{"scale zero", func(c *Config) { c.Detection.SearchScale = 0 }, "detection.search_scale"},
		{"no template", func(c *Config) { c.Detection.Enabled = true; c.Detection.Template = "" }, "detection.template"},
		{"negative click", func(c *Config) { c.Click.X = -1 }, "click"},
		{"unknown provider", func(c *Config) { c.Browser.Provider = "selenium" }, "browser.provider"},
		{"unknown dashboard", func(c *Config) { c.UI.Dashboard = "sometimes" }, "ui.dashboard"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var ce *domain.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestSuggestGame(t *testing.T) {
	_, ok := SuggestGame("cyberpunk2077")
	assert.False(t, ok, "known games need no suggestion")

	s, ok := SuggestGame("skyrimspecial")
	assert.True(t, ok)
	assert.Equal(t, "skyrimspecialedition", s)

	s, ok = SuggestGame("cyberpnuk2077")
	assert.True(t, ok)
	assert.Equal(t, "cyberpunk2077", s)

	_, ok = SuggestGame("zzzzzzzzzzzzzzzz")
	assert.False(t, ok)
}
