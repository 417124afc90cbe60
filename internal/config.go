package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/quire/internal/pathutil"
	"github.com/starford/quire/internal/storage"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Session  SessionConfig     `yaml:"session"`
	Settings SettingsConfig    `yaml:"settings"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.Settings.Validate(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SessionConfig tunes the document session.
type SessionConfig struct {
	// Root confines file access and resolves relative paths. Empty means
	// unconfined, relative to the working directory.
	Root             string        `yaml:"root"`
	RecoveryDir      string        `yaml:"recovery_dir"`
	CacheCapacity    int           `yaml:"cache_capacity"`
	AutosaveDelay    time.Duration `yaml:"autosave_delay"`
	PersistDelay     time.Duration `yaml:"persist_delay"`
	RestoreTimeout   time.Duration `yaml:"restore_timeout"`
	SaveEchoWindow   time.Duration `yaml:"save_echo_window"`
	WatchDebounce    time.Duration `yaml:"watch_debounce"`
	FallbackEncoding string        `yaml:"fallback_encoding"`
	HiddenPatterns   []string      `yaml:"hidden_patterns"`
	ExtraBlacklist   []string      `yaml:"extra_blacklist"`
}

// Validate validates the session configuration.
func (c *SessionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RecoveryDir, validation.Required),
		validation.Field(&c.CacheCapacity, validation.Required, validation.Min(1)),
		validation.Field(&c.AutosaveDelay, validation.Required, validation.Min(10*time.Millisecond)),
		validation.Field(&c.PersistDelay, validation.Required, validation.Min(10*time.Millisecond)),
		validation.Field(&c.RestoreTimeout, validation.Required, validation.Min(100*time.Millisecond)),
		validation.Field(&c.SaveEchoWindow, validation.Min(time.Duration(0))),
		validation.Field(&c.WatchDebounce, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.FallbackEncoding, validation.Required, validation.By(func(v any) error {
			return storage.CheckEncoding(v.(string))
		})),
		validation.Field(&c.HiddenPatterns, validation.By(func(v any) error {
			_, err := pathutil.NewFilter(v.([]string))
			return err
		})),
		validation.Field(&c.ExtraBlacklist, validation.Each(validation.Required, validation.Length(1, 32))),
	)
}

// SettingsConfig holds the SQLite settings store location.
type SettingsConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the settings configuration.
func (c *SettingsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return errors.New("auth: mode is \"token\" but token is empty")
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Session: SessionConfig{
			RecoveryDir:      "./.quire/recovery",
			CacheCapacity:    50,
			AutosaveDelay:    500 * time.Millisecond,
			PersistDelay:     500 * time.Millisecond,
			RestoreTimeout:   5 * time.Second,
			SaveEchoWindow:   time.Second,
			WatchDebounce:    100 * time.Millisecond,
			FallbackEncoding: storage.DefaultFallbackEncoding,
			HiddenPatterns:   []string{".*", "*~"},
		},
		Settings: SettingsConfig{
			Path: "./.quire/settings.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
