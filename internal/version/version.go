// Package version reports the build version served on /version.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var embedded string

// Override is set at link time with -ldflags "-X github.com/l0p7/uriguard/internal/version.Override=v1.2.3".
var Override string

// String returns the link-time override when set, otherwise the embedded
// VERSION file contents.
func String() string {
	if v := strings.TrimSpace(Override); v != "" {
		return v
	}
	if v := strings.TrimSpace(embedded); v != "" {
		return v
	}
	return "unknown"
}
