package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/l0p7/uriguard/internal/policy"
)

// Config holds every server-level option.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Cache    CacheConfig    `koanf:"cache"`
	Patterns PatternsConfig `koanf:"patterns"`
	Reload   ReloadConfig   `koanf:"reload"`
	Store    StoreConfig    `koanf:"store"`
}

// ServerConfig collects the admin listener and logging knobs.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CacheConfig bounds each resolution cache.
type CacheConfig struct {
	MaxEntries int `koanf:"maxEntries"`
	Shards     int `koanf:"shards"`
}

// PatternsConfig limits what a policy table may contain.
type PatternsConfig struct {
	MaxPatternLength int `koanf:"maxPatternLength"`
	MaxProgramSize   int `koanf:"maxProgramSize"`
	MaxRecords       int `koanf:"maxRecords"`
}

// BuildOptions converts the limits for policy.Build.
func (p PatternsConfig) BuildOptions() policy.BuildOptions {
	return policy.BuildOptions{
		MaxPatternLength: p.MaxPatternLength,
		MaxProgramSize:   p.MaxProgramSize,
		MaxRecords:       p.MaxRecords,
	}
}

// ReloadConfig controls when tables are rebuilt.
type ReloadConfig struct {
	Timeout  string `koanf:"timeout"`
	Schedule string `koanf:"schedule"`
	Watch    bool   `koanf:"watch"`
}

// TimeoutDuration returns the parsed fetch timeout; an empty or invalid value
// yields zero, which disables the deadline. Validate rejects invalid values.
func (r ReloadConfig) TimeoutDuration() time.Duration {
	if strings.TrimSpace(r.Timeout) == "" {
		return 0
	}
	d, err := time.ParseDuration(r.Timeout)
	if err != nil {
		return 0
	}
	return d
}

type StoreConfig struct {
	Backend string            `koanf:"backend"`
	File    StoreFileConfig   `koanf:"file"`
	SQLite  StoreSQLiteConfig `koanf:"sqlite"`
	Redis   StoreRedisConfig  `koanf:"redis"`
}

type StoreFileConfig struct {
	Path string `koanf:"path"`
}

type StoreSQLiteConfig struct {
	Path string `koanf:"path"`
}

type StoreRedisConfig struct {
	Address   string              `koanf:"address"`
	Username  string              `koanf:"username"`
	Password  string              `koanf:"password"`
	DB        int                 `koanf:"db"`
	KeyPrefix string              `koanf:"keyPrefix"`
	TLS       StoreRedisTLSConfig `koanf:"tls"`
}

type StoreRedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// Store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("config: cache.maxEntries invalid: %d", c.Cache.MaxEntries)
	}
	if c.Cache.Shards < 0 {
		return fmt.Errorf("config: cache.shards invalid: %d", c.Cache.Shards)
	}
	if c.Patterns.MaxPatternLength <= 0 {
		return fmt.Errorf("config: patterns.maxPatternLength invalid: %d", c.Patterns.MaxPatternLength)
	}
	if c.Patterns.MaxProgramSize <= 0 {
		return fmt.Errorf("config: patterns.maxProgramSize invalid: %d", c.Patterns.MaxProgramSize)
	}
	if c.Patterns.MaxRecords <= 0 {
		return fmt.Errorf("config: patterns.maxRecords invalid: %d", c.Patterns.MaxRecords)
	}
	if strings.TrimSpace(c.Reload.Timeout) != "" {
		d, err := time.ParseDuration(c.Reload.Timeout)
		if err != nil {
			return fmt.Errorf("config: reload.timeout invalid: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("config: reload.timeout negative: %s", c.Reload.Timeout)
		}
	}
	if schedule := strings.TrimSpace(c.Reload.Schedule); schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return fmt.Errorf("config: reload.schedule invalid: %w", err)
		}
	}

	backend := c.Store.NormalizedBackend()
	switch backend {
	case BackendFile:
		if strings.TrimSpace(c.Store.File.Path) == "" {
			return errors.New("config: store.file.path required for file backend")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.Store.SQLite.Path) == "" {
			return errors.New("config: store.sqlite.path required for sqlite backend")
		}
	case BackendRedis:
		if strings.TrimSpace(c.Store.Redis.Address) == "" {
			return errors.New("config: store.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: store.backend unsupported: %s", c.Store.Backend)
	}
	if c.Reload.Watch && backend != BackendFile {
		return fmt.Errorf("config: reload.watch requires the file backend, got %s", backend)
	}
	return nil
}

// NormalizedBackend returns the lower-cased backend name, defaulting to file.
func (s StoreConfig) NormalizedBackend() string {
	backend := strings.TrimSpace(strings.ToLower(s.Backend))
	if backend == "" {
		return BackendFile
	}
	return backend
}

// DefaultConfig returns the baseline values that align with the design defaults.
func DefaultConfig() Config {
	build := policy.DefaultBuildOptions()
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
		},
		Cache: CacheConfig{
			MaxEntries: 10_000,
		},
		Patterns: PatternsConfig{
			MaxPatternLength: build.MaxPatternLength,
			MaxProgramSize:   build.MaxProgramSize,
			MaxRecords:       build.MaxRecords,
		},
		Reload: ReloadConfig{
			Timeout: "10s",
		},
		Store: StoreConfig{
			Backend: BackendFile,
			File:    StoreFileConfig{Path: "./policies.yaml"},
			SQLite:  StoreSQLiteConfig{Path: "./uriguard.db"},
			Redis:   StoreRedisConfig{KeyPrefix: "uriguard"},
		},
	}
}
