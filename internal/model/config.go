package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// IMAPConfig holds the mail server connection settings.
type IMAPConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`

	// TLS selects implicit TLS; when false STARTTLS is used.
	TLS bool `mapstructure:"tls" yaml:"tls"`
}

// SyncConfig tunes folder refresh and history pagination.
type SyncConfig struct {
	// PageSize is the number of messages requested per fetch.
	PageSize int `mapstructure:"page_size" yaml:"page_size"`

	// MaxFetchCalls bounds the fetches made by one "load more" gesture.
	MaxFetchCalls int `mapstructure:"max_fetch_calls" yaml:"max_fetch_calls"`

	// PollIntervalSec is how often (in seconds) folders are refreshed.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// AccountConfig holds account lifecycle settings.
type AccountConfig struct {
	// TokenLifetimeDays is the validity assigned to app passwords
	// entered at login, which carry no expiry of their own.
	TokenLifetimeDays int `mapstructure:"token_lifetime_days" yaml:"token_lifetime_days"`
}

// LogConfig controls the structured log output.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// DisplayConfig holds UI/rendering preferences.
type DisplayConfig struct {
	Theme string `mapstructure:"theme" yaml:"theme"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	DataDir string        `mapstructure:"data_dir" yaml:"data_dir"`
	IMAP    IMAPConfig    `mapstructure:"imap" yaml:"imap"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Account AccountConfig `mapstructure:"account" yaml:"account"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Display DisplayConfig `mapstructure:"display" yaml:"display"`
}

// MailboxInfoPath returns the database file holding mailbox metadata.
func (c *AppConfig) MailboxInfoPath() string {
	return filepath.Join(c.DataDir, "mailbox-info.db")
}

// ContactsPath returns the database file holding learned contacts.
func (c *AppConfig) ContactsPath() string {
	return filepath.Join(c.DataDir, "contacts.db")
}

// MailboxContentPath returns the per-mailbox database file for folders
// and threads.
func (c *AppConfig) MailboxContentPath(userID, mailboxID string) string {
	name := fmt.Sprintf("mailbox-%s-%s.db", sanitizeFileName(userID), sanitizeFileName(mailboxID))
	return filepath.Join(c.DataDir, name)
}

func sanitizeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailcache/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mailcache")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	dir := configDir()
	return &AppConfig{
		DataDir: filepath.Join(dir, "data"),
		IMAP: IMAPConfig{
			Port: "993",
			TLS:  true,
		},
		Sync: SyncConfig{
			PageSize:        50,
			MaxFetchCalls:   5,
			PollIntervalSec: 120,
		},
		Account: AccountConfig{
			TokenLifetimeDays: 90,
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(dir, "mailcache.log"),
		},
		Display: DisplayConfig{
			Theme: "default",
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
// MAILCACHE_* environment variables override file values
// (e.g. MAILCACHE_IMAP_HOST).
func LoadConfig(path string) (*AppConfig, error) {
	def := defaultAppConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("mailcache")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("imap.host", def.IMAP.Host)
	v.SetDefault("imap.port", def.IMAP.Port)
	v.SetDefault("imap.tls", def.IMAP.TLS)
	v.SetDefault("sync.page_size", def.Sync.PageSize)
	v.SetDefault("sync.max_fetch_calls", def.Sync.MaxFetchCalls)
	v.SetDefault("sync.poll_interval_sec", def.Sync.PollIntervalSec)
	v.SetDefault("account.token_lifetime_days", def.Account.TokenLifetimeDays)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("display.theme", def.Display.Theme)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if _, ok := err.(*os.PathError); !ok && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Sync.PageSize < 1 {
		cfg.Sync.PageSize = def.Sync.PageSize
	}
	if cfg.Sync.MaxFetchCalls < 1 {
		cfg.Sync.MaxFetchCalls = def.Sync.MaxFetchCalls
	}
	if cfg.Sync.PollIntervalSec <= 0 {
		cfg.Sync.PollIntervalSec = def.Sync.PollIntervalSec
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("data_dir", cfg.DataDir)
	v.Set("imap", cfg.IMAP)
	v.Set("sync", cfg.Sync)
	v.Set("account", cfg.Account)
	v.Set("log", cfg.Log)
	v.Set("display", cfg.Display)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
