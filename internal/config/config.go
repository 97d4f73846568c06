// Package config loads walletsync settings from an optional YAML file and
// WALLETSYNC_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. WALLETSYNC_LOG_LEVEL.
const EnvPrefix = "WALLETSYNC"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendGCS      = "gcs"
)

// Feed sources.
const (
	SourceMemory = "memory"
	SourceRedis  = "redis"
)

type Config struct {
	Env        string        `mapstructure:"env"`
	Log        LogConfig     `mapstructure:"log"`
	Storage    StorageConfig `mapstructure:"storage"`
	Feed       FeedConfig    `mapstructure:"feed"`
	Sync       SyncConfig    `mapstructure:"sync"`
	API        APIConfig     `mapstructure:"api"`
	Notion     NotionConfig  `mapstructure:"notion"`
	ConfigPath string        `mapstructure:"-"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	GCS      GCSConfig      `mapstructure:"gcs"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Namespace string `mapstructure:"namespace"`
}

type GCSConfig struct {
	URI             string `mapstructure:"uri"`
	CredentialsFile string `mapstructure:"credentials_file"`
	Endpoint        string `mapstructure:"endpoint"`
}

type FeedConfig struct {
	Source         string        `mapstructure:"source"`
	Redis          RedisConfig   `mapstructure:"redis"`
	StreamPrefix   string        `mapstructure:"stream_prefix"`
	BlockTimeout   time.Duration `mapstructure:"block_timeout"`
	GrantOnRequest bool          `mapstructure:"grant_on_request"`
}

type SyncConfig struct {
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	WriteBuffer int           `mapstructure:"write_buffer"`
}

type APIConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	// JWTSecret enables bearer token auth on /api when set.
	JWTSecret string `mapstructure:"jwt_secret"`
}

// NotionConfig enables the Notion export when Token is set.
type NotionConfig struct {
	Token            string        `mapstructure:"token"`
	AccountsDBID     string        `mapstructure:"accounts_db_id"`
	TransactionsDBID string        `mapstructure:"transactions_db_id"`
	Debounce         time.Duration `mapstructure:"debounce"`
}

// Enabled reports whether the Notion export is configured.
func (n NotionConfig) Enabled() bool {
	return n.Token != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.sqlite.path", filepath.Join(DataDir(), "walletsync.db"))
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.namespace", "walletsync")
	v.SetDefault("storage.gcs.uri", "")
	v.SetDefault("storage.gcs.credentials_file", "")
	v.SetDefault("storage.gcs.endpoint", "")

	v.SetDefault("feed.source", SourceMemory)
	v.SetDefault("feed.redis.addr", "localhost:6379")
	v.SetDefault("feed.redis.password", "")
	v.SetDefault("feed.redis.db", 0)
	v.SetDefault("feed.stream_prefix", "walletsync")
	v.SetDefault("feed.block_timeout", 5*time.Second)
	v.SetDefault("feed.grant_on_request", false)

	v.SetDefault("sync.settle_delay", 3*time.Second)
	v.SetDefault("sync.write_buffer", 64)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.jwt_secret", "")

	v.SetDefault("notion.token", "")
	v.SetDefault("notion.accounts_db_id", "")
	v.SetDefault("notion.transactions_db_id", "")
	v.SetDefault("notion.debounce", 10*time.Second)
}

// Load reads configuration. An empty path searches for config.yaml in the
// working directory and DataDir; a missing file is fine in that case.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(DataDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks option values that viper cannot.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	case BackendGCS:
		if c.Storage.GCS.URI == "" {
			return errors.New("storage.gcs.uri is required for the gcs backend")
		}
	case BackendPostgres:
		if c.Storage.Postgres.URL == "" {
			return errors.New("storage.postgres.url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Feed.Source {
	case SourceMemory, SourceRedis:
	default:
		return fmt.Errorf("unknown feed source %q", c.Feed.Source)
	}

	if c.Sync.SettleDelay < 0 {
		return errors.New("sync.settle_delay must not be negative")
	}
	if c.Notion.Enabled() && c.Notion.AccountsDBID == "" && c.Notion.TransactionsDBID == "" {
		return errors.New("notion export needs accounts_db_id or transactions_db_id")
	}
	return nil
}

// DataDir is the default directory for local state.
func DataDir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, err := os.UserHomeDir()
		if err != nil {
			return ".walletsync"
		}
		return filepath.Join(home, ".walletsync")
	}
	return filepath.Join(configDir, "walletsync")
}
