package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	invalidPort := cfg
	invalidPort.Server.Listen.Port = -1
	require.Error(t, invalidPort.Validate())

	zeroCache := cfg
	zeroCache.Cache.MaxEntries = 0
	require.Error(t, zeroCache.Validate())

	negativeShards := cfg
	negativeShards.Cache.Shards = -2
	require.Error(t, negativeShards.Validate())

	zeroProgram := cfg
	zeroProgram.Patterns.MaxProgramSize = 0
	require.Error(t, zeroProgram.Validate())

	t.Run("reload settings", func(t *testing.T) {
		badTimeout := DefaultConfig()
		badTimeout.Reload.Timeout = "soon"
		require.Error(t, badTimeout.Validate())

		negative := DefaultConfig()
		negative.Reload.Timeout = "-1s"
		require.Error(t, negative.Validate())

		badSchedule := DefaultConfig()
		badSchedule.Reload.Schedule = "whenever"
		require.Error(t, badSchedule.Validate())

		goodSchedule := DefaultConfig()
		goodSchedule.Reload.Schedule = "*/5 * * * *"
		require.NoError(t, goodSchedule.Validate())
	})

	t.Run("store backends", func(t *testing.T) {
		unknown := DefaultConfig()
		unknown.Store.Backend = "mysql"
		require.Error(t, unknown.Validate())

		noPath := DefaultConfig()
		noPath.Store.File.Path = " "
		require.Error(t, noPath.Validate())

		sqlite := DefaultConfig()
		sqlite.Store.Backend = "SQLite"
		require.NoError(t, sqlite.Validate())
		sqlite.Store.SQLite.Path = ""
		require.Error(t, sqlite.Validate())

		redis := DefaultConfig()
		redis.Store.Backend = BackendRedis
		require.Error(t, redis.Validate())
		redis.Store.Redis.Address = "localhost:6379"
		require.NoError(t, redis.Validate())

		watchRedis := redis
		watchRedis.Reload.Watch = true
		require.Error(t, watchRedis.Validate())

		watchFile := DefaultConfig()
		watchFile.Reload.Watch = true
		require.NoError(t, watchFile.Validate())
	})

	var nilCfg *Config
	require.Error(t, nilCfg.Validate())
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "0.0.0.0", cfg.Server.Listen.Address)
	require.Equal(t, 8080, cfg.Server.Listen.Port)
	require.Equal(t, "info", cfg.Server.Logging.Level)
	require.Equal(t, 10_000, cfg.Cache.MaxEntries)
	require.Zero(t, cfg.Cache.Shards)
	require.Equal(t, 1024, cfg.Patterns.MaxPatternLength)
	require.Equal(t, 4096, cfg.Patterns.MaxProgramSize)
	require.Equal(t, 100_000, cfg.Patterns.MaxRecords)
	require.Equal(t, "./policies.yaml", cfg.Store.File.Path)
	require.Equal(t, "uriguard", cfg.Store.Redis.KeyPrefix)
	require.Empty(t, cfg.Reload.Schedule)
	require.False(t, cfg.Reload.Watch)
}

func TestReloadTimeoutDuration(t *testing.T) {
	require.Equal(t, 10*time.Second, ReloadConfig{Timeout: "10s"}.TimeoutDuration())
	require.Zero(t, ReloadConfig{}.TimeoutDuration())
	require.Zero(t, ReloadConfig{Timeout: "nope"}.TimeoutDuration())
}

func TestPatternsBuildOptions(t *testing.T) {
	opts := PatternsConfig{MaxPatternLength: 1, MaxProgramSize: 2, MaxRecords: 3}.BuildOptions()
	require.Equal(t, 1, opts.MaxPatternLength)
	require.Equal(t, 2, opts.MaxProgramSize)
	require.Equal(t, 3, opts.MaxRecords)
}
