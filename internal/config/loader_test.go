package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoader(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) []string
		wantErr bool
		assert  func(t *testing.T, cfg Config)
	}{
		{
			name:  "returns defaults when no overrides",
			setup: func(t *testing.T) []string { return nil },
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 8080, cfg.Server.Listen.Port)
				require.Equal(t, 10_000, cfg.Cache.MaxEntries)
				require.Equal(t, BackendFile, cfg.Store.Backend)
				require.Equal(t, 10*time.Second, cfg.Reload.TimeoutDuration())
			},
		},
		{
			name: "merges file overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.yaml")
				contents := "server:\n  listen:\n    port: 9090\ncache:\n  maxEntries: 500\n  shards: 4\nreload:\n  schedule: \"@every 30s\"\n"
				require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9090, cfg.Server.Listen.Port)
				require.Equal(t, 500, cfg.Cache.MaxEntries)
				require.Equal(t, 4, cfg.Cache.Shards)
				require.Equal(t, "@every 30s", cfg.Reload.Schedule)
			},
		},
		{
			name: "prefers env overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.yaml")
				require.NoError(t, os.WriteFile(path, []byte("server:\n  listen:\n    port: 9090\n"), 0o600))
				t.Setenv("URIGUARD_SERVER__LISTEN__PORT", "9091")
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9091, cfg.Server.Listen.Port)
			},
		},
		{
			name: "maps camel case env keys",
			setup: func(t *testing.T) []string {
				t.Setenv("URIGUARD_CACHE__MAX_ENTRIES", "42")
				t.Setenv("URIGUARD_PATTERNS__MAXPROGRAMSIZE", "2048")
				t.Setenv("URIGUARD_STORE__BACKEND", "redis")
				t.Setenv("URIGUARD_STORE__REDIS__ADDRESS", "127.0.0.1:6379")
				t.Setenv("URIGUARD_STORE__REDIS__KEY_PREFIX", "edge")
				t.Setenv("URIGUARD_STORE__REDIS__TLS__CAFILE", "/etc/ca.pem")
				return nil
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 42, cfg.Cache.MaxEntries)
				require.Equal(t, 2048, cfg.Patterns.MaxProgramSize)
				require.Equal(t, BackendRedis, cfg.Store.NormalizedBackend())
				require.Equal(t, "127.0.0.1:6379", cfg.Store.Redis.Address)
				require.Equal(t, "edge", cfg.Store.Redis.KeyPrefix)
				require.Equal(t, "/etc/ca.pem", cfg.Store.Redis.TLS.CAFile)
			},
		},
		{
			name: "fails when file missing",
			setup: func(t *testing.T) []string {
				return []string{filepath.Join(t.TempDir(), "absent.yaml")}
			},
			wantErr: true,
		},
		{
			name: "fails validation for redis without address",
			setup: func(t *testing.T) []string {
				t.Setenv("URIGUARD_STORE__BACKEND", "redis")
				return nil
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			args := tc.setup(t)
			loader := NewLoader("URIGUARD", args...)

			cfg, err := loader.Load(ctx)
			if tc.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			tc.assert(t, cfg)
		})
	}
}

func TestLoaderHonoursCancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: {}\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLoader("URIGUARD", path).Load(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
