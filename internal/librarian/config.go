// Package librarian wires the meeting-recording pipeline together.
package librarian

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigDir is where the pipeline keeps its config and state,
// relative to the user's home directory.
const DefaultConfigDir = ".librarian"

// ConfigFileName is the config file within the config directory.
const ConfigFileName = "config.json"

// Default values for optional configuration fields.
const (
	DefaultLanguage           = "auto"
	DefaultTimezoneOffset     = 0.0
	DefaultStableDelaySec     = 2
	DefaultStableAttempts     = 30
	DefaultRenameAttempts     = 5
	DefaultRenameBackoffSec   = 3
	DefaultCalendarID         = "primary"
	DefaultStatusPollSec      = 10
	DefaultCallbackSweepDays  = 14
	DefaultConnectivityTarget = "8.8.8.8:53"
)

// DefaultWatchPatterns are the recording extensions watched by default.
var DefaultWatchPatterns = []string{"*.mp4", "*.mkv", "*.webm", "*.m4a", "*.mp3"}

// Config is the pipeline configuration, read from
// ~/.librarian/config.json with environment variable overrides.
type Config struct {
	WatchDir      string   `json:"watch_dir" env:"LIBRARIAN_WATCH_DIR"`
	OutputDir     string   `json:"output_dir" env:"LIBRARIAN_OUTPUT_DIR"`
	WatchPatterns []string `json:"watch_patterns"`

	Language            string  `json:"language" env:"LIBRARIAN_LANGUAGE"`
	TimezoneOffsetHours float64 `json:"timezone_offset_hours" env:"LIBRARIAN_TZ_OFFSET"`

	StableDelaySec   int `json:"stable_delay_sec"`
	StableAttempts   int `json:"stable_attempts"`
	RenameAttempts   int `json:"rename_attempts"`
	RenameBackoffSec int `json:"rename_backoff_sec"`

	CalendarID            string `json:"calendar_id" env:"LIBRARIAN_CALENDAR_ID"`
	GoogleCredentialsPath string `json:"google_credentials_path" env:"LIBRARIAN_GOOGLE_CREDENTIALS"`
	SpreadsheetID         string `json:"spreadsheet_id" env:"LIBRARIAN_SPREADSHEET_ID"`
	DriveFolderID         string `json:"drive_folder_id" env:"LIBRARIAN_DRIVE_FOLDER_ID"`

	ScriberrURL    string `json:"scriberr_url" env:"LIBRARIAN_SCRIBERR_URL"`
	ScriberrAPIKey string `json:"scriberr_api_key" env:"LIBRARIAN_SCRIBERR_API_KEY"`
	ScriberrWebURL string `json:"scriberr_web_url" env:"LIBRARIAN_SCRIBERR_WEB_URL"`
	StatusPollSec  int    `json:"status_poll_sec"`

	OpenRouterAPIKey string `json:"openrouter_api_key" env:"LIBRARIAN_OPENROUTER_API_KEY"`
	OpenRouterModel  string `json:"openrouter_model" env:"LIBRARIAN_OPENROUTER_MODEL"`

	TelegramToken  string `json:"telegram_token" env:"LIBRARIAN_TELEGRAM_TOKEN"`
	TelegramChatID int64  `json:"telegram_chat_id" env:"LIBRARIAN_TELEGRAM_CHAT_ID"`

	CallbackSweepDays  int    `json:"callback_sweep_days"`
	ConnectivityTarget string `json:"connectivity_target"`

	LogLevel string `json:"log_level" env:"LIBRARIAN_LOG_LEVEL"`
	LogFile  string `json:"log_file" env:"LIBRARIAN_LOG_FILE"`

	DryRun bool `json:"dry_run" env:"LIBRARIAN_DRY_RUN"`
}

// Validation errors.
var (
	ErrWatchDirRequired      = errors.New("watch_dir is required")
	ErrOutputDirRequired     = errors.New("output_dir is required")
	ErrScriberrURLRequired   = errors.New("scriberr_url is required")
	ErrTelegramTokenRequired = errors.New("telegram_token is required")
	ErrTelegramChatRequired  = errors.New("telegram_chat_id is required")
)

// ConfigDir returns the state directory, honoring LIBRARIAN_HOME.
func ConfigDir() string {
	if dir := os.Getenv("LIBRARIAN_HOME"); dir != "" {
		return expandTilde(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfigDir
	}
	return filepath.Join(home, DefaultConfigDir)
}

// LoadConfig reads the config file and applies environment overrides,
// defaults and tilde expansion.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(filepath.Join(ConfigDir(), ConfigFileName))
}

// LoadConfigFrom reads the configuration from a specific path.
func LoadConfigFrom(path string) (*Config, error) {
	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, err
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	cfg.expandPaths()
	return &cfg, nil
}

// Save writes the configuration to path with 0600 permissions; it holds
// API keys.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that all required fields are present.
func (c *Config) Validate() error {
	if c.WatchDir == "" {
		return ErrWatchDirRequired
	}
	if c.OutputDir == "" {
		return ErrOutputDirRequired
	}
	if c.ScriberrURL == "" {
		return ErrScriberrURLRequired
	}
	if c.TelegramToken == "" {
		return ErrTelegramTokenRequired
	}
	if c.TelegramChatID == 0 {
		return ErrTelegramChatRequired
	}
	return nil
}

// ApplyDefaults fills optional fields that are empty or zero.
func (c *Config) ApplyDefaults() {
	if len(c.WatchPatterns) == 0 {
		c.WatchPatterns = DefaultWatchPatterns
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.StableDelaySec == 0 {
		c.StableDelaySec = DefaultStableDelaySec
	}
	if c.StableAttempts == 0 {
		c.StableAttempts = DefaultStableAttempts
	}
	if c.RenameAttempts == 0 {
		c.RenameAttempts = DefaultRenameAttempts
	}
	if c.RenameBackoffSec == 0 {
		c.RenameBackoffSec = DefaultRenameBackoffSec
	}
	if c.CalendarID == "" {
		c.CalendarID = DefaultCalendarID
	}
	if c.StatusPollSec == 0 {
		c.StatusPollSec = DefaultStatusPollSec
	}
	if c.CallbackSweepDays == 0 {
		c.CallbackSweepDays = DefaultCallbackSweepDays
	}
	if c.ConnectivityTarget == "" {
		c.ConnectivityTarget = DefaultConnectivityTarget
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(ConfigDir(), "librarian.log")
	}
}

func (c *Config) expandPaths() {
	c.WatchDir = expandTilde(c.WatchDir)
	c.OutputDir = expandTilde(c.OutputDir)
	c.GoogleCredentialsPath = expandTilde(c.GoogleCredentialsPath)
	c.LogFile = expandTilde(c.LogFile)
}

// expandTilde expands ~ at the beginning of a path to the user's home
// directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
