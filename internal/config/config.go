// Package config loads menuboard configuration.
//
// Values come from, in increasing priority: built-in defaults, a
// menuboard.yaml file, and MENUBOARD_* environment variables. Nested keys
// map to environment names by replacing dots with underscores, so
// storage.backend is MENUBOARD_STORAGE_BACKEND.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file searched for when no path is given.
const DefaultFileName = "menuboard.yaml"

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "MENUBOARD"

// ErrExists is returned by Write when the target file already exists.
var ErrExists = errors.New("config file already exists")

// Storage backends.
const (
	StorageSQLite   = "sqlite"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
	StorageDisabled = "disabled"
)

// Bus backends.
const (
	BusLocal = "local"
	BusRedis = "redis"
	BusSpool = "spool"
)

// Config is the full menuboard configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Bus     BusConfig     `mapstructure:"bus" yaml:"bus"`
	KV      KVConfig      `mapstructure:"kv" yaml:"kv"`
	Offline OfflineConfig `mapstructure:"offline" yaml:"offline"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Menu    MenuConfig    `mapstructure:"menu" yaml:"menu"`

	// File is the config file that was loaded, empty for defaults only.
	File string `mapstructure:"-" yaml:"-"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	// Addr is the public listener fronted by the offline coordinator.
	Addr string `mapstructure:"addr" yaml:"addr"`

	// OriginAddr is the listener of the menu origin (API and web root).
	OriginAddr string `mapstructure:"origin_addr" yaml:"origin_addr"`

	// WebRoot holds the static app shell served by the origin.
	WebRoot string `mapstructure:"web_root" yaml:"web_root"`
}

// StorageConfig selects the persisted area behind the key-value store.
type StorageConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	Path        string `mapstructure:"path" yaml:"path"`
	RedisAddr   string `mapstructure:"redis_addr" yaml:"redis_addr"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`

	// QuotaBytes caps the memory backend (0: unlimited).
	QuotaBytes int `mapstructure:"quota_bytes" yaml:"quota_bytes"`
}

// BusConfig selects the cross-context notification transport.
type BusConfig struct {
	Backend   string `mapstructure:"backend" yaml:"backend"`
	SpoolDir  string `mapstructure:"spool_dir" yaml:"spool_dir"`
	RedisAddr string `mapstructure:"redis_addr" yaml:"redis_addr"`
	Channel   string `mapstructure:"channel" yaml:"channel"`
}

// KVConfig configures the key-value store.
type KVConfig struct {
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// OfflineConfig configures the offline cache coordinator.
type OfflineConfig struct {
	CachePrefix string `mapstructure:"cache_prefix" yaml:"cache_prefix"`

	// Version overrides the manifest version when set.
	Version string `mapstructure:"version" yaml:"version"`

	// ManifestFile is a TOML precache manifest (default: built-in).
	ManifestFile string `mapstructure:"manifest_file" yaml:"manifest_file"`

	// Origin is the absolute URL the coordinator fronts.
	Origin string `mapstructure:"origin" yaml:"origin"`
}

// LogConfig configures log output. An empty File logs to stderr only.
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// MenuConfig configures the menu domain.
type MenuConfig struct {
	Currency string `mapstructure:"currency" yaml:"currency"`
	Language string `mapstructure:"language" yaml:"language"`

	// AdminEmail and AdminPassword seed the first admin on serve when the
	// admin list is empty.
	AdminEmail    string `mapstructure:"admin_email" yaml:"admin_email"`
	AdminPassword string `mapstructure:"admin_password" yaml:"admin_password"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:       ":8080",
			OriginAddr: "127.0.0.1:8081",
			WebRoot:    "web",
		},
		Storage: StorageConfig{
			Backend:   StorageSQLite,
			Path:      filepath.Join(".menuboard", "menuboard.db"),
			RedisAddr: "localhost:6379",
		},
		Bus: BusConfig{
			Backend:   BusLocal,
			SpoolDir:  filepath.Join(".menuboard", "spool"),
			RedisAddr: "localhost:6379",
			Channel:   "menuboard:events:",
		},
		KV: KVConfig{
			Prefix: "menuboard",
		},
		Offline: OfflineConfig{
			CachePrefix: "menuboard",
			Origin:      "http://127.0.0.1:8081",
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Menu: MenuConfig{
			Currency: "INR",
			Language: "en-IN",
		},
	}
}

// Load reads configuration. With an empty path it searches the working
// directory and $HOME/.menuboard for menuboard.yaml; a missing file is not
// an error. An explicit path must exist.
func Load(path string) (*Config, error) {
	base, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return nil, fmt.Errorf("failed to read defaults: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFileName, filepath.Ext(DefaultFileName)))
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".menuboard"))
		}
	}

	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks backend names and the offline origin.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageSQLite, StorageRedis, StoragePostgres, StorageMemory, StorageDisabled:
	default:
		return fmt.Errorf("invalid storage.backend %q", c.Storage.Backend)
	}
	switch c.Bus.Backend {
	case BusLocal, BusRedis, BusSpool:
	default:
		return fmt.Errorf("invalid bus.backend %q", c.Bus.Backend)
	}
	if c.Storage.Backend == StoragePostgres && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
	}
	if _, err := c.OriginURL(); err != nil {
		return err
	}
	return nil
}

// OriginURL parses offline.origin.
func (c *Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Offline.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid offline.origin: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("offline.origin must be an absolute URL: %q", c.Offline.Origin)
	}
	return u, nil
}

// Write saves cfg as YAML at path, creating parent directories. It refuses
// to replace an existing file unless force is set.
func Write(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s: %w", path, ErrExists)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// YAML renders cfg as YAML.
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}
