package adapter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/mmcdole/nexdl/internal/domain"
	"github.com/mmcdole/nexdl/internal/store"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BrowserProvider selects the browser capability implementation
type BrowserProvider string

const (
	ProviderPlaywright BrowserProvider = "playwright"
	ProviderDryRun     BrowserProvider = "dry-run"
)

// DashboardMode selects whether the terminal dashboard is shown
type DashboardMode string

const (
	DashboardAuto DashboardMode = "auto" // only when stdout is a terminal
	DashboardOn   DashboardMode = "on"
	DashboardOff  DashboardMode = "off"
)

// Config holds all application configuration
type Config struct {
	Collection string          `mapstructure:"collection"`
	Game       string          `mapstructure:"game"`
	Progress   ProgressConfig  `mapstructure:"progress"`
	Download   DownloadConfig  `mapstructure:"download"`
	Detection  DetectionConfig `mapstructure:"detection"`
	Click      ClickConfig     `mapstructure:"click"`
	Browser    BrowserConfig   `mapstructure:"browser"`
	Logging    LoggingConfig   `mapstructure:"logging"`
	UI         UIConfig        `mapstructure:"ui"`
}

// ProgressConfig holds progress persistence configuration
type ProgressConfig struct {
	File string `mapstructure:"file"` // .txt, .json or .db
}

// DownloadConfig holds the pacing of the download loop
type DownloadConfig struct {
	DelayBeforeClick time.Duration `mapstructure:"delay_before_click"`
	DelayForDownload time.Duration `mapstructure:"delay_for_download"`
	DelayBetweenMods time.Duration `mapstructure:"delay_between_mods"`
	AutoClose        bool          `mapstructure:"auto_close"` // false = batched mode
	BatchSize        int           `mapstructure:"batch_size"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	TabCloseDelay    time.Duration `mapstructure:"tab_close_delay"`
	ModManager       bool          `mapstructure:"mod_manager"` // append nmm=1
}

// DetectionConfig holds button detection configuration
type DetectionConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Confidence     float64 `mapstructure:"confidence"`
	Template       string  `mapstructure:"template"` // hover sibling: *_hover.png
	SearchScale    int     `mapstructure:"search_scale"`
	TemplateWidth  int     `mapstructure:"template_width"`
	TemplateHeight int     `mapstructure:"template_height"`
}

// ClickConfig holds an optional preset click position
type ClickConfig struct {
	X int `mapstructure:"x"`
	Y int `mapstructure:"y"`
}

// BrowserConfig holds browser capability configuration
type BrowserConfig struct {
	Provider     BrowserProvider `mapstructure:"provider"`
	UserDataDir  string          `mapstructure:"user_data_dir"`
	DownloadsDir string          `mapstructure:"downloads_dir"`
	Headless     bool            `mapstructure:"headless"`
	Channel      string          `mapstructure:"channel"` // e.g. "chrome", "msedge"
	Width        int             `mapstructure:"width"`
	Height       int             `mapstructure:"height"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// UIConfig holds UI configuration
type UIConfig struct {
	Dashboard DashboardMode `mapstructure:"dashboard"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Collection: "collection.json",
		Game:       "cyberpunk2077",
		Progress: ProgressConfig{
			File: "downloaded_mods.json",
		},
		Download: DownloadConfig{
			DelayBeforeClick: 2 * time.Second,
			DelayForDownload: 6 * time.Second,
			DelayBetweenMods: 500 * time.Millisecond,
			AutoClose:        true,
			BatchSize:        50,
			MaxAttempts:      3,
			RetryBaseDelay:   time.Second,
			TabCloseDelay:    100 * time.Millisecond,
			ModManager:       true,
		},
		Detection: DetectionConfig{
			Enabled:        false,
			Confidence:     0.8,
			Template:       filepath.Join("templates", "slow_download_button.png"),
			SearchScale:    4,
			TemplateWidth:  200,
			TemplateHeight: 100,
		},
		Browser: BrowserConfig{
			Provider:     ProviderPlaywright,
			UserDataDir:  filepath.Join(defaultDataPath(), "browser"),
			DownloadsDir: defaultDownloadsPath(),
			Width:        1920,
			Height:       1080,
		},
		Logging: LoggingConfig{
			File:  filepath.Join(defaultDataPath(), "nexdl.log"),
			Level: "INFO",
		},
		UI: UIConfig{
			Dashboard: DashboardAuto,
		},
	}
}

// defaultDataPath returns the per-user data directory for the current OS
func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "nexdl")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "nexdl")
	}
}

func defaultDownloadsPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Downloads", "nexdl")
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "nexdl")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "nexdl")
	}
}

// flagKeys maps command-line flag names to config keys
var flagKeys = map[string]string{
	"collection":     "collection",
	"game":           "game",
	"progress":       "progress.file",
	"auto-detect":    "detection.enabled",
	"confidence":     "detection.confidence",
	"template":       "detection.template",
	"fast":           "download.auto_close",
	"batch-size":     "download.batch_size",
	"delay-click":    "download.delay_before_click",
	"delay-download": "download.delay_for_download",
	"delay-between":  "download.delay_between_mods",
	"max-attempts":   "download.max_attempts",
	"click-x":        "click.x",
	"click-y":        "click.y",
	"browser":        "browser.provider",
	"headless":       "browser.headless",
	"log-level":      "logging.level",
	"dashboard":      "ui.dashboard",
}

// LoadConfig loads configuration from defaults, the config file, NEXDL_*
// environment variables and finally any flags that were set. An empty path
// searches the default locations; a missing file there is not an error.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(defaultConfigPath())
		v.AddConfigPath(".")
	}

	// Environment variable overrides: NEXDL_DOWNLOAD_BATCH_SIZE etc.
	v.SetEnvPrefix("NEXDL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	// --fast is the inverse of auto_close
	if flags != nil {
		if f := flags.Lookup("fast"); f != nil && f.Changed {
			fast, _ := flags.GetBool("fast")
			cfg.Download.AutoClose = !fast
		}
	}

	cfg.expandPaths()
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("collection", cfg.Collection)
	v.SetDefault("game", cfg.Game)
	v.SetDefault("progress.file", cfg.Progress.File)

	d := cfg.Download
	v.SetDefault("download.delay_before_click", d.DelayBeforeClick)
	v.SetDefault("download.delay_for_download", d.DelayForDownload)
	v.SetDefault("download.delay_between_mods", d.DelayBetweenMods)
	v.SetDefault("download.auto_close", d.AutoClose)
	v.SetDefault("download.batch_size", d.BatchSize)
	v.SetDefault("download.max_attempts", d.MaxAttempts)
	v.SetDefault("download.retry_base_delay", d.RetryBaseDelay)
	v.SetDefault("download.tab_close_delay", d.TabCloseDelay)
	v.SetDefault("download.mod_manager", d.ModManager)

	det := cfg.Detection
	v.SetDefault("detection.enabled", det.Enabled)
	v.SetDefault("detection.confidence", det.Confidence)
	v.SetDefault("detection.template", det.Template)
	v.SetDefault("detection.search_scale", det.SearchScale)
	v.SetDefault("detection.template_width", det.TemplateWidth)
	v.SetDefault("detection.template_height", det.TemplateHeight)

	v.SetDefault("click.x", cfg.Click.X)
	v.SetDefault("click.y", cfg.Click.Y)

	b := cfg.Browser
	v.SetDefault("browser.provider", string(b.Provider))
	v.SetDefault("browser.user_data_dir", b.UserDataDir)
	v.SetDefault("browser.downloads_dir", b.DownloadsDir)
	v.SetDefault("browser.headless", b.Headless)
	v.SetDefault("browser.channel", b.Channel)
	v.SetDefault("browser.width", b.Width)
	v.SetDefault("browser.height", b.Height)

	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("ui.dashboard", string(cfg.UI.Dashboard))
}

// bindFlags binds the flags that were explicitly set over file and env values.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil || !f.Changed || name == "fast" {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) expandPaths() {
	for _, p := range []*string{
		&c.Collection,
		&c.Progress.File,
		&c.Detection.Template,
		&c.Browser.UserDataDir,
		&c.Browser.DownloadsDir,
		&c.Logging.File,
	} {
		*p = expandHome(*p)
	}
}

// expandHome replaces a leading ~ with the user's home directory
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// maxAttempts bounds download.max_attempts
const maxAttempts = 20

// Validate checks every value the run depends on. It returns a
// *domain.ConfigError for the first invalid field.
func (c *Config) Validate() error {
	invalid := func(field, reason string) error {
		return &domain.ConfigError{Field: field, Reason: reason}
	}

	if c.Collection == "" {
		return invalid("collection", "must not be empty")
	}
	if c.Game == "" {
		return invalid("game", "must not be empty")
	}
	if strings.ContainsAny(c.Game, "/?&# ") {
		return invalid("game", fmt.Sprintf("%q is not a game domain", c.Game))
	}
	if c.Progress.File == "" {
		return invalid("progress.file", "must not be empty")
	}
	if _, err := store.DetectFormat(c.Progress.File); err != nil {
		return invalid("progress.file", err.Error())
	}

	d := c.Download
	for field, value := range map[string]time.Duration{
		"download.delay_before_click": d.DelayBeforeClick,
		"download.delay_for_download": d.DelayForDownload,
		"download.delay_between_mods": d.DelayBetweenMods,
		"download.retry_base_delay":   d.RetryBaseDelay,
		"download.tab_close_delay":    d.TabCloseDelay,
	} {
		if value < 0 {
			return invalid(field, "must not be negative")
		}
	}
	if d.BatchSize <= 0 {
		return invalid("download.batch_size", "must be positive")
	}
	if d.MaxAttempts <= 0 || d.MaxAttempts > maxAttempts {
		return invalid("download.max_attempts", fmt.Sprintf("must be between 1 and %d", maxAttempts))
	}

	det := c.Detection
	if det.Confidence <= 0 || det.Confidence > 1 {
		return invalid("detection.confidence", "must be in (0, 1]")
	}
	if det.SearchScale < 1 {
		return invalid("detection.search_scale", "must be at least 1")
	}
	if det.TemplateWidth <= 0 || det.TemplateHeight <= 0 {
		return invalid("detection.template_width", "template size must be positive")
	}
	if det.Enabled && det.Template == "" {
		return invalid("detection.template", "required when detection is enabled")
	}

	if c.Click.X < 0 || c.Click.Y < 0 {
		return invalid("click", "coordinates must not be negative")
	}

	switch c.Browser.Provider {
	case ProviderPlaywright, ProviderDryRun:
	default:
		return invalid("browser.provider", fmt.Sprintf("unknown provider %q", c.Browser.Provider))
	}
	if c.Browser.Width <= 0 || c.Browser.Height <= 0 {
		return invalid("browser.width", "viewport size must be positive")
	}

	switch c.UI.Dashboard {
	case DashboardAuto, DashboardOn, DashboardOff:
	default:
		return invalid("ui.dashboard", fmt.Sprintf("unknown mode %q", c.UI.Dashboard))
	}
	return nil
}

// PositionMode returns how click positions are obtained
func (c *Config) PositionMode() domain.PositionMode {
	if c.Detection.Enabled {
		return domain.PositionAuto
	}
	return domain.PositionManual
}

// ClickPreset returns the configured manual position, or nil to record one
func (c *Config) ClickPreset() *domain.ClickPosition {
	pos := domain.ClickPosition{X: c.Click.X, Y: c.Click.Y}
	if pos.IsZero() {
		return nil
	}
	return &pos
}

// knownGames are common Nexus Mods game domains, used only for suggestions
var knownGames = []string{
	"baldursgate3",
	"cyberpunk2077",
	"eldenring",
	"fallout3",
	"fallout4",
	"falloutnewvegas",
	"finalfantasy7remake",
	"hogwartslegacy",
	"mountandblade2bannerlord",
	"newvegas",
	"oblivion",
	"skyrim",
	"skyrimspecialedition",
	"stardewvalley",
	"starfield",
	"thewitcher3",
}

// SuggestGame returns the closest known game domain when game is not one of
// them. ok is false when game is known or nothing is close.
func SuggestGame(game string) (suggestion string, ok bool) {
	lower := strings.ToLower(game)
	for _, known := range knownGames {
		if known == lower {
			return "", false
		}
	}

	// Abbreviations: "skyrimse" is a subsequence of "skyrimspecialedition".
	if ranks := fuzzy.RankFindNormalizedFold(lower, knownGames); len(ranks) > 0 {
		best := ranks[0]
		for _, r := range ranks[1:] {
			if r.Distance < best.Distance {
				best = r
			}
		}
		return best.Target, true
	}

	// Typos
	best, bestDist := "", 4
	for _, known := range knownGames {
		if d := fuzzy.LevenshteinDistance(lower, known); d < bestDist {
			best, bestDist = known, d
		}
	}
	return best, best != ""
}
