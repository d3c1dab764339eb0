package store

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	valkey "github.com/valkey-io/valkey-go"

	"github.com/l0p7/uriguard/internal/policy"
)

const defaultKeyPrefix = "uriguard"

type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

type RedisConfig struct {
	Address   string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	TLS       RedisTLSConfig
}

// Redis reads policy tables from two hashes, <prefix>:circuit_breakers and
// <prefix>:blacklist. Each field is a URI pattern and its value the JSON
// payload. Fields are returned sorted so builds are deterministic.
type Redis struct {
	client valkey.Client
	prefix string
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Address == "" {
		return nil, errors.New("store: redis address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("store: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("store: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("store: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("store: redis ping: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) circuitKey() string   { return r.prefix + ":circuit_breakers" }
func (r *Redis) blacklistKey() string { return r.prefix + ":blacklist" }

func (r *Redis) LoadCircuitBreakers(ctx context.Context) ([]policy.Record[policy.CircuitBreaker], error) {
	return loadHash[policy.CircuitBreaker](ctx, r.client, r.circuitKey())
}

func (r *Redis) LoadBlacklistRules(ctx context.Context) ([]policy.Record[policy.BlacklistRule], error) {
	return loadHash[policy.BlacklistRule](ctx, r.client, r.blacklistKey())
}

// PutCircuitBreaker upserts one circuit breaker policy.
func (r *Redis) PutCircuitBreaker(ctx context.Context, rec policy.Record[policy.CircuitBreaker]) error {
	return putHash(ctx, r.client, r.circuitKey(), rec)
}

// PutBlacklistRule upserts one blacklist rule.
func (r *Redis) PutBlacklistRule(ctx context.Context, rec policy.Record[policy.BlacklistRule]) error {
	return putHash(ctx, r.client, r.blacklistKey(), rec)
}

func (r *Redis) Close() error {
	r.client.Close()
	return nil
}

func loadHash[P any](ctx context.Context, client valkey.Client, key string) ([]policy.Record[P], error) {
	fields, err := client.Do(ctx, client.B().Hgetall().Key(key).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("store: redis hgetall %s: %w", key, err)
	}
	patterns := make([]string, 0, len(fields))
	for pattern := range fields {
		patterns = append(patterns, pattern)
	}
	slices.Sort(patterns)

	out := make([]policy.Record[P], 0, len(patterns))
	for _, pattern := range patterns {
		var payload P
		if err := json.Unmarshal([]byte(fields[pattern]), &payload); err != nil {
			return nil, fmt.Errorf("store: redis decode %s field %q: %w", key, pattern, err)
		}
		out = append(out, policy.Record[P]{Pattern: pattern, Payload: payload})
	}
	return out, nil
}

func putHash[P any](ctx context.Context, client valkey.Client, key string, rec policy.Record[P]) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("store: redis marshal: %w", err)
	}
	cmd := client.B().Hset().Key(key).FieldValue().FieldValue(rec.Pattern, string(payload)).Build()
	if err := client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("store: redis hset %s: %w", key, err)
	}
	return nil
}
