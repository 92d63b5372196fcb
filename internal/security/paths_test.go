package security

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1000-2.000", "1000-2.000"},
		{"../../etc/passwd", "etc_passwd"},
		{"a b//c", "a_b_c"},
		{"", "unknown"},
		{"...", "unknown"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, SanitizeFilename(tc.in), tc.in)
	}
}

func TestValidatePathWithinDirectory(t *testing.T) {
	assert.NoError(t, ValidatePathWithinDirectory("scans/1000-2.000.csv", "scans"))
	assert.NoError(t, ValidatePathWithinDirectory("scans/sub/../x.csv", "scans"))
	assert.Error(t, ValidatePathWithinDirectory("scans/../x.csv", "scans"))
	assert.Error(t, ValidatePathWithinDirectory("/tmp/x.csv", "scans"))
}

func TestOutputPath(t *testing.T) {
	p, err := OutputPath("scans", "250-0.500", ".png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("scans", "250-0.500.png"), p)

	p, err = OutputPath("scans", "../escape", ".csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("scans", "escape.csv"), p)
}
