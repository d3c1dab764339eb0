package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/l0p7/uriguard/internal/policy"
	"github.com/l0p7/uriguard/internal/reload"
)

type fileCircuitBreaker struct {
	URI                   string `koanf:"uri"`
	TimeoutMillis         int    `koanf:"timeoutMillis"`
	MaxConcurrentRequests int    `koanf:"maxConcurrentRequests"`
	ErrorThresholdPercent int    `koanf:"errorThresholdPercent"`
	ForceClosed           bool   `koanf:"forceClosed"`
	FallbackStatus        int    `koanf:"fallbackStatus"`
	FallbackBody          string `koanf:"fallbackBody"`
}

type fileBlacklistRule struct {
	URI        string   `koanf:"uri"`
	Name       string   `koanf:"name"`
	Dimensions []string `koanf:"dimensions"`
	Reason     string   `koanf:"reason"`
}

type policyDocument struct {
	CircuitBreakers []fileCircuitBreaker `koanf:"circuitBreakers"`
	Blacklist       []fileBlacklistRule  `koanf:"blacklist"`
}

// File reads both tables from a single YAML, JSON or TOML document. The file
// is re-read on every load so edits are picked up by the next reload.
type File struct {
	path string
}

// NewFile validates the extension and returns a file-backed store. The file
// itself may not exist yet.
func NewFile(path string) (*File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store: policy file path required")
	}
	if _, err := parserFor(path); err != nil {
		return nil, err
	}
	return &File{path: path}, nil
}

// Path returns the watched document path.
func (f *File) Path() string { return f.path }

func (f *File) LoadCircuitBreakers(ctx context.Context) ([]policy.Record[policy.CircuitBreaker], error) {
	doc, err := f.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]policy.Record[policy.CircuitBreaker], 0, len(doc.CircuitBreakers))
	for _, cb := range doc.CircuitBreakers {
		out = append(out, policy.Record[policy.CircuitBreaker]{
			Pattern: cb.URI,
			Payload: policy.CircuitBreaker{
				TimeoutMillis:         cb.TimeoutMillis,
				MaxConcurrentRequests: cb.MaxConcurrentRequests,
				ErrorThresholdPercent: cb.ErrorThresholdPercent,
				ForceClosed:           cb.ForceClosed,
				FallbackStatus:        cb.FallbackStatus,
				FallbackBody:          cb.FallbackBody,
			},
		})
	}
	return out, nil
}

func (f *File) LoadBlacklistRules(ctx context.Context) ([]policy.Record[policy.BlacklistRule], error) {
	doc, err := f.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]policy.Record[policy.BlacklistRule], 0, len(doc.Blacklist))
	for _, rule := range doc.Blacklist {
		out = append(out, policy.Record[policy.BlacklistRule]{
			Pattern: rule.URI,
			Payload: policy.BlacklistRule{
				Name:       rule.Name,
				Dimensions: rule.Dimensions,
				Reason:     rule.Reason,
			},
		})
	}
	return out, nil
}

func (f *File) Close() error { return nil }

// load reads the document once per reload pass, so both tables reloaded by
// the same pass see the same version of the file.
func (f *File) load(ctx context.Context) (policyDocument, error) {
	return reload.Shared(ctx, f, f.read)
}

func (f *File) read(ctx context.Context) (policyDocument, error) {
	if err := ctx.Err(); err != nil {
		return policyDocument{}, err
	}
	info, err := os.Stat(f.path)
	if err != nil {
		return policyDocument{}, fmt.Errorf("store: policy file %s: %w", f.path, err)
	}
	if info.IsDir() {
		return policyDocument{}, fmt.Errorf("store: policy file %s: expected a file, found directory", f.path)
	}
	parser, err := parserFor(f.path)
	if err != nil {
		return policyDocument{}, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(f.path), parser); err != nil {
		return policyDocument{}, fmt.Errorf("store: load policies from %s: %w", f.path, err)
	}
	var doc policyDocument
	if err := k.Unmarshal("", &doc); err != nil {
		return policyDocument{}, fmt.Errorf("store: decode policies from %s: %w", f.path, err)
	}
	return doc, nil
}

func parserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("store: unsupported policy file extension %q", ext)
	}
}
