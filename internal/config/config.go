// Package config loads notesync settings from an optional YAML file,
// NOTESYNC_* environment variables and command-line flags.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/logging"
	"github.com/glidenotes/notesync/internal/remote"
	"github.com/glidenotes/notesync/internal/remote/dynamo"
	"github.com/glidenotes/notesync/internal/sync/scheduler"
)

// EnvPrefix is prepended to every environment override, e.g. NOTESYNC_SYNC_INTERVAL.
const EnvPrefix = "NOTESYNC"

// Remote kinds.
const (
	RemoteMemory   = "memory"
	RemoteDynamoDB = "dynamodb"
)

// Config is the full notesync configuration.
type Config struct {
	DataDir string       `mapstructure:"data_dir" yaml:"data_dir"`
	Log     LogConfig    `mapstructure:"log" yaml:"log"`
	Sync    SyncConfig   `mapstructure:"sync" yaml:"sync"`
	Remote  RemoteConfig `mapstructure:"remote" yaml:"remote"`
	Serve   ServeConfig  `mapstructure:"serve" yaml:"serve"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// SyncConfig configures the engine and the background scheduler.
type SyncConfig struct {
	Interval           time.Duration `mapstructure:"interval" yaml:"interval"`
	QueueInterval      time.Duration `mapstructure:"queue_interval" yaml:"queue_interval"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PageSize           int           `mapstructure:"page_size" yaml:"page_size"`
	DispatchRate       float64       `mapstructure:"dispatch_rate" yaml:"dispatch_rate"`
	PruneRemoteDeletes bool          `mapstructure:"prune_remote_deletes" yaml:"prune_remote_deletes"`
}

// RemoteConfig selects the remote service.
type RemoteConfig struct {
	Kind     string         `mapstructure:"kind" yaml:"kind"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb" yaml:"dynamodb"`
}

// DynamoDBConfig configures the DynamoDB remote.
type DynamoDBConfig struct {
	Table    string `mapstructure:"table" yaml:"table"`
	Region   string `mapstructure:"region" yaml:"region"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Owner    string `mapstructure:"owner" yaml:"owner"`
}

// ServeConfig configures the local HTTP API.
type ServeConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DefaultDataDir returns ~/.notesync, or ./.notesync if the home directory
// cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".notesync"
	}
	return filepath.Join(home, ".notesync")
}

// Default returns the built-in configuration.
func Default() *Config {
	sched := scheduler.DefaultConfig()
	return &Config{
		DataDir: DefaultDataDir(),
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Sync: SyncConfig{
			Interval:           sched.SyncInterval,
			QueueInterval:      sched.QueueInterval,
			Timeout:            sched.SyncTimeout,
			PageSize:           remote.MaxPerPage,
			PruneRemoteDeletes: true,
		},
		Remote: RemoteConfig{Kind: RemoteMemory},
		Serve:  ServeConfig{Addr: "127.0.0.1:8787"},
	}
}

// SetDefaults registers every key of Default on v so environment variables
// resolve even without a config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("sync.interval", d.Sync.Interval)
	v.SetDefault("sync.queue_interval", d.Sync.QueueInterval)
	v.SetDefault("sync.timeout", d.Sync.Timeout)
	v.SetDefault("sync.page_size", d.Sync.PageSize)
	v.SetDefault("sync.dispatch_rate", d.Sync.DispatchRate)
	v.SetDefault("sync.prune_remote_deletes", d.Sync.PruneRemoteDeletes)
	v.SetDefault("remote.kind", d.Remote.Kind)
	v.SetDefault("remote.dynamodb.table", d.Remote.DynamoDB.Table)
	v.SetDefault("remote.dynamodb.region", d.Remote.DynamoDB.Region)
	v.SetDefault("remote.dynamodb.endpoint", d.Remote.DynamoDB.Endpoint)
	v.SetDefault("remote.dynamodb.owner", d.Remote.DynamoDB.Owner)
	v.SetDefault("serve.addr", d.Serve.Addr)
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (if non-empty) into v and decodes the result. Without a
// path, notesync.yaml in the data directory is read when present.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("notesync")
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("data_dir"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !stderrors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return apperrors.New(apperrors.ErrInvalid, "data_dir is required")
	case c.Sync.Interval <= 0:
		return apperrors.New(apperrors.ErrInvalid, "sync.interval must be positive")
	case c.Sync.QueueInterval <= 0:
		return apperrors.New(apperrors.ErrInvalid, "sync.queue_interval must be positive")
	case c.Sync.Timeout <= 0:
		return apperrors.New(apperrors.ErrInvalid, "sync.timeout must be positive")
	case c.Sync.PageSize <= 0 || c.Sync.PageSize > remote.MaxPerPage:
		return apperrors.Newf(apperrors.ErrInvalid, "sync.page_size must be between 1 and %d", remote.MaxPerPage)
	case c.Sync.DispatchRate < 0:
		return apperrors.New(apperrors.ErrInvalid, "sync.dispatch_rate must not be negative")
	}
	switch c.Remote.Kind {
	case RemoteMemory:
	case RemoteDynamoDB:
		if c.Remote.DynamoDB.Table == "" {
			return apperrors.New(apperrors.ErrInvalid, "remote.dynamodb.table is required")
		}
	default:
		return apperrors.Newf(apperrors.ErrInvalid, "unknown remote.kind %q", c.Remote.Kind)
	}
	return nil
}

// LoggingOptions converts the log section.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      logging.ParseLevel(c.Log.Level),
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   true,
	}
}

// SchedulerConfig converts the sync section.
func (c *Config) SchedulerConfig() *scheduler.Config {
	return &scheduler.Config{
		SyncInterval:  c.Sync.Interval,
		QueueInterval: c.Sync.QueueInterval,
		SyncTimeout:   c.Sync.Timeout,
	}
}

// DynamoConfig converts the remote.dynamodb section.
func (c *Config) DynamoConfig() dynamo.Config {
	return dynamo.Config{
		Table:    c.Remote.DynamoDB.Table,
		Region:   c.Remote.DynamoDB.Region,
		Endpoint: c.Remote.DynamoDB.Endpoint,
		Owner:    c.Remote.DynamoDB.Owner,
	}
}
