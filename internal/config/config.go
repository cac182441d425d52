package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ajramos/orionmail/internal/db"
	"github.com/ajramos/orionmail/internal/gateway"
	"github.com/ajramos/orionmail/internal/mailserver"
	"github.com/ajramos/orionmail/internal/services"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. ORIONMAIL_IMAP_USERNAME.
const EnvPrefix = "ORIONMAIL"

// Auth modes for the IMAP login.
const (
	AuthXOAuth2  = "xoauth2"
	AuthPassword = "password"
)

// IMAPConfig holds the mail server settings
type IMAPConfig struct {
	Host        string `mapstructure:"host" yaml:"host"`
	Port        int    `mapstructure:"port" yaml:"port"`
	Username    string `mapstructure:"username" yaml:"username"`
	Auth        string `mapstructure:"auth" yaml:"auth"`
	Password    string `mapstructure:"password" yaml:"password,omitempty"`
	Folder      string `mapstructure:"folder" yaml:"folder"`
	TrashFolder string `mapstructure:"trash_folder" yaml:"trash_folder"`
	TLS         bool   `mapstructure:"tls" yaml:"tls"`
	DialTimeout string `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// SyncConfig tunes the controller and the push watcher. Durations are
// strings such as "500ms" or "3m".
type SyncConfig struct {
	PageSize         int    `mapstructure:"page_size" yaml:"page_size"`
	BootstrapPoll    string `mapstructure:"bootstrap_poll" yaml:"bootstrap_poll"`
	BootstrapTimeout string `mapstructure:"bootstrap_timeout" yaml:"bootstrap_timeout"`
	BackgroundDelay  string `mapstructure:"background_delay" yaml:"background_delay"`
	PollInterval     string `mapstructure:"poll_interval" yaml:"poll_interval"`
	MessageClear     string `mapstructure:"message_clear" yaml:"message_clear"`
	BootstrapWindow  int    `mapstructure:"bootstrap_window" yaml:"bootstrap_window"`
	PushMinInterval  string `mapstructure:"push_min_interval" yaml:"push_min_interval"`
	IdleRenew        string `mapstructure:"idle_renew" yaml:"idle_renew"`
}

// CacheConfig holds the local cache settings
type CacheConfig struct {
	DBPath        string `mapstructure:"db_path" yaml:"db_path"`
	BodyEntries   int    `mapstructure:"body_entries" yaml:"body_entries"`
	PrefetchCount int    `mapstructure:"prefetch_count" yaml:"prefetch_count"`
	FetchPermits  int    `mapstructure:"fetch_permits" yaml:"fetch_permits"`
}

// LogConfig holds the logging settings
type LogConfig struct {
	File  string `mapstructure:"file" yaml:"file"`
	Level string `mapstructure:"level" yaml:"level"`
}

// Config holds all configuration for OrionMail
type Config struct {
	IMAP  IMAPConfig  `mapstructure:"imap" yaml:"imap"`
	Sync  SyncConfig  `mapstructure:"sync" yaml:"sync"`
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`
	Log   LogConfig   `mapstructure:"log" yaml:"log"`

	Credentials string `mapstructure:"credentials_path" yaml:"credentials_path"`
	Token       string `mapstructure:"token_path" yaml:"token_path"`
	EnvFile     string `mapstructure:"env_file" yaml:"env_file"`

	// Theme is a theme file name under the themes directory, or a path.
	Theme string `mapstructure:"theme" yaml:"theme"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	dir := DefaultConfigDir()
	return &Config{
		IMAP: IMAPConfig{
			Host:        "imap.gmail.com",
			Port:        993,
			Auth:        AuthXOAuth2,
			Folder:      "INBOX",
			TrashFolder: "[Gmail]/Trash",
			TLS:         true,
			DialTimeout: "30s",
		},
		Sync: SyncConfig{
			PageSize:         25,
			BootstrapPoll:    "500ms",
			BootstrapTimeout: "120s",
			BackgroundDelay:  "500ms",
			PollInterval:     "180s",
			MessageClear:     "3s",
			BootstrapWindow:  200,
			PushMinInterval:  "2s",
			IdleRenew:        "15m",
		},
		Cache: CacheConfig{
			DBPath:        filepath.Join(dir, "cache", "mail.db"),
			BodyEntries:   50,
			PrefetchCount: 25,
			FetchPermits:  3,
		},
		Log: LogConfig{
			File:  filepath.Join(dir, "orionmail.log"),
			Level: "info",
		},
		Credentials: filepath.Join(dir, "credentials.json"),
		Token:       filepath.Join(dir, "token.json"),
		EnvFile:     filepath.Join(dir, ".env"),
	}
}

// setDefaults registers every key so that environment overrides apply even
// when the file does not mention them.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("imap.host", cfg.IMAP.Host)
	v.SetDefault("imap.port", cfg.IMAP.Port)
	v.SetDefault("imap.username", cfg.IMAP.Username)
	v.SetDefault("imap.auth", cfg.IMAP.Auth)
	v.SetDefault("imap.password", cfg.IMAP.Password)
	v.SetDefault("imap.folder", cfg.IMAP.Folder)
	v.SetDefault("imap.trash_folder", cfg.IMAP.TrashFolder)
	v.SetDefault("imap.tls", cfg.IMAP.TLS)
	v.SetDefault("imap.dial_timeout", cfg.IMAP.DialTimeout)

	v.SetDefault("sync.page_size", cfg.Sync.PageSize)
	v.SetDefault("sync.bootstrap_poll", cfg.Sync.BootstrapPoll)
	v.SetDefault("sync.bootstrap_timeout", cfg.Sync.BootstrapTimeout)
	v.SetDefault("sync.background_delay", cfg.Sync.BackgroundDelay)
	v.SetDefault("sync.poll_interval", cfg.Sync.PollInterval)
	v.SetDefault("sync.message_clear", cfg.Sync.MessageClear)
	v.SetDefault("sync.bootstrap_window", cfg.Sync.BootstrapWindow)
	v.SetDefault("sync.push_min_interval", cfg.Sync.PushMinInterval)
	v.SetDefault("sync.idle_renew", cfg.Sync.IdleRenew)

	v.SetDefault("cache.db_path", cfg.Cache.DBPath)
	v.SetDefault("cache.body_entries", cfg.Cache.BodyEntries)
	v.SetDefault("cache.prefetch_count", cfg.Cache.PrefetchCount)
	v.SetDefault("cache.fetch_permits", cfg.Cache.FetchPermits)

	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.level", cfg.Log.Level)

	v.SetDefault("credentials_path", cfg.Credentials)
	v.SetDefault("token_path", cfg.Token)
	v.SetDefault("env_file", cfg.EnvFile)
	v.SetDefault("theme", cfg.Theme)
}

// LoadConfig reads the configuration file at path, applying ORIONMAIL_
// environment overrides on top. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	path = expandHome(path)

	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Credentials = expandHome(cfg.Credentials)
	cfg.Token = expandHome(cfg.Token)
	cfg.EnvFile = expandHome(cfg.EnvFile)
	cfg.Cache.DBPath = expandHome(cfg.Cache.DBPath)
	cfg.Log.File = expandHome(cfg.Log.File)
	return cfg, nil
}

// SaveConfig writes the configuration to path as YAML.
func (c *Config) SaveConfig(path string) error {
	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// DefaultConfigDir returns ~/.config/orionmail.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".orionmail")
	}
	return filepath.Join(home, ".config", "orionmail")
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultThemesDir returns the directory searched for theme files.
func DefaultThemesDir() string {
	return filepath.Join(DefaultConfigDir(), "themes")
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ControllerConfig returns the controller tuning.
func (c *Config) ControllerConfig() services.ControllerConfig {
	def := services.DefaultControllerConfig()
	out := services.ControllerConfig{
		PageSize:              c.Sync.PageSize,
		BootstrapPollInterval: parseDuration(c.Sync.BootstrapPoll, def.BootstrapPollInterval),
		BootstrapTimeout:      parseDuration(c.Sync.BootstrapTimeout, def.BootstrapTimeout),
		BackgroundSyncDelay:   parseDuration(c.Sync.BackgroundDelay, def.BackgroundSyncDelay),
		PollInterval:          parseDuration(c.Sync.PollInterval, def.PollInterval),
		MessageClearAfter:     parseDuration(c.Sync.MessageClear, def.MessageClearAfter),
	}
	if out.PageSize <= 0 {
		out.PageSize = def.PageSize
	}
	// The durable cache never returns more rows per page
	if out.PageSize > db.MaxPageLimit {
		out.PageSize = db.MaxPageLimit
	}
	return out
}

// GatewayOptions returns the sync service tuning.
func (c *Config) GatewayOptions() gateway.Options {
	opts := gateway.DefaultOptions()
	if c.IMAP.Folder != "" {
		opts.Mailbox = c.IMAP.Folder
	}
	if c.Sync.BootstrapWindow > 0 {
		opts.BootstrapWindow = uint32(c.Sync.BootstrapWindow)
	}
	if c.Cache.PrefetchCount > 0 {
		opts.PrefetchLimit = c.Cache.PrefetchCount
	}
	if c.Cache.BodyEntries > 0 {
		opts.BodyCacheSize = c.Cache.BodyEntries
	}
	if c.Cache.FetchPermits > 0 {
		opts.Permits = int64(c.Cache.FetchPermits)
	}
	return opts
}

// WatcherOptions returns the push watcher tuning.
func (c *Config) WatcherOptions() gateway.WatcherOptions {
	opts := gateway.DefaultWatcherOptions()
	opts.Renew = parseDuration(c.Sync.IdleRenew, opts.Renew)
	opts.MinInterval = parseDuration(c.Sync.PushMinInterval, opts.MinInterval)
	return opts
}

// ServerConfig returns the IMAP connection settings.
func (c *Config) ServerConfig() mailserver.Config {
	def := mailserver.DefaultConfig()
	out := mailserver.Config{
		Host:         c.IMAP.Host,
		Port:         c.IMAP.Port,
		Username:     c.IMAP.Username,
		Mailbox:      c.IMAP.Folder,
		TrashMailbox: c.IMAP.TrashFolder,
		TLS:          c.IMAP.TLS,
		DialTimeout:  parseDuration(c.IMAP.DialTimeout, def.DialTimeout),
	}
	return out
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.IMAP.Username) == "" {
		errs = append(errs, errors.New("imap.username is required"))
	}
	switch c.IMAP.Auth {
	case AuthXOAuth2:
	case AuthPassword:
		if c.IMAP.Password == "" {
			errs = append(errs, errors.New("imap.password is required for password auth"))
		}
	default:
		errs = append(errs, fmt.Errorf("imap.auth must be %q or %q, got %q", AuthXOAuth2, AuthPassword, c.IMAP.Auth))
	}
	if c.Cache.DBPath == "" {
		errs = append(errs, errors.New("cache.db_path is required"))
	}
	return errors.Join(errs...)
}
