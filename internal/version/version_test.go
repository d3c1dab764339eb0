package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringPrefersOverride(t *testing.T) {
	require.Equal(t, "0.1.0", String())

	Override = " v9.9.9 "
	t.Cleanup(func() { Override = "" })
	require.Equal(t, "v9.9.9", String())
}
