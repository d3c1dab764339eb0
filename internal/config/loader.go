package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// canonicalKeys restores camelCase keys that environment variables flatten.
var canonicalKeys = map[string]string{
	"cache.maxentries":          "cache.maxEntries",
	"patterns.maxpatternlength": "patterns.maxPatternLength",
	"patterns.maxprogramsize":   "patterns.maxProgramSize",
	"patterns.maxrecords":       "patterns.maxRecords",
	"store.redis.keyprefix":     "store.redis.keyPrefix",
	"store.redis.tls.cafile":    "store.redis.tls.caFile",
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			// Double underscores signal a nested path (URIGUARD_STORE__REDIS__ADDRESS -> store.redis.address).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonicalKeys[lower]; ok {
				return mapped
			}
			if mapped, ok := canonicalKeys[strings.ReplaceAll(lower, "_", "")]; ok {
				return mapped
			}
			// Single underscores are removed so MAX_ENTRIES collapses into maxentries.
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
		},
		"cache": map[string]any{
			"maxEntries": cfg.Cache.MaxEntries,
			"shards":     cfg.Cache.Shards,
		},
		"patterns": map[string]any{
			"maxPatternLength": cfg.Patterns.MaxPatternLength,
			"maxProgramSize":   cfg.Patterns.MaxProgramSize,
			"maxRecords":       cfg.Patterns.MaxRecords,
		},
		"reload": map[string]any{
			"timeout":  cfg.Reload.Timeout,
			"schedule": cfg.Reload.Schedule,
			"watch":    cfg.Reload.Watch,
		},
		"store": map[string]any{
			"backend": cfg.Store.Backend,
			"file": map[string]any{
				"path": cfg.Store.File.Path,
			},
			"sqlite": map[string]any{
				"path": cfg.Store.SQLite.Path,
			},
			"redis": map[string]any{
				"address":   cfg.Store.Redis.Address,
				"username":  cfg.Store.Redis.Username,
				"password":  cfg.Store.Redis.Password,
				"db":        cfg.Store.Redis.DB,
				"keyPrefix": cfg.Store.Redis.KeyPrefix,
				"tls": map[string]any{
					"enabled": cfg.Store.Redis.TLS.Enabled,
					"caFile":  cfg.Store.Redis.TLS.CAFile,
				},
			},
		},
	}
}
