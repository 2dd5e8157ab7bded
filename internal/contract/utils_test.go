package contract

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPlainLabel(t *testing.T) {
	tests := []struct {
		name     string
		input    float64
		expected string
	}{
		{"nothing analyzed", 0, PendingValue},
		{"barely started", 0.1, PartialValue},
		{"almost done", 99.9, PartialValue},
		{"done", 100, DoneValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetPlainLabel(tt.input))
		})
	}
}

func TestGetColorLabel(t *testing.T) {
	for _, percent := range []float64{0, 50, 100} {
		assert.Contains(t, GetColorLabel(percent), GetPlainLabel(percent))
	}
}

func TestSelectOutputFile(t *testing.T) {
	t.Run("empty path returns stdout", func(t *testing.T) {
		file, err := SelectOutputFile("")
		require.NoError(t, err)
		assert.Equal(t, os.Stdout, file)
	})

	t.Run("valid path creates file", func(t *testing.T) {
		tempFile := filepath.Join(t.TempDir(), "test_output.txt")
		file, err := SelectOutputFile(tempFile)
		require.NoError(t, err)
		_ = file.Close()
		assert.FileExists(t, tempFile)
	})
}

func TestDBFilePaths(t *testing.T) {
	cachePath := GetCacheDBFilePath()
	runPath := GetRunDBFilePath()
	assert.True(t, strings.HasSuffix(cachePath, ".tsmine_cache.db"))
	assert.True(t, strings.HasSuffix(runPath, ".tsmine_runs.db"))
	assert.NotEqual(t, cachePath, runPath)
}

func TestTruncatePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		maxWidth int
		expected string
	}{
		{"fits", "a/b.py", 10, "a/b.py"},
		{"truncated", "pkg/sub/module.py", 10, "...dule.py"},
		{"width too small", "pkg/sub/module.py", 3, "pkg/sub/module.py"},
		{"multibyte", "ünïcode/path.py", 8, "...th.py"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TruncatePath(tt.path, tt.maxWidth))
		})
	}
}

func TestParseBoolString(t *testing.T) {
	tests := []struct {
		input     string
		want      bool
		expectErr bool
	}{
		{"yes", true, false},
		{"TRUE", true, false},
		{"1", true, false},
		{"No", false, false},
		{"false", false, false},
		{"0", false, false},
		{"maybe", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseBoolString(tt.input)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, zerolog.InfoLevel, true)
	logger.Debug().Msg("hidden")
	logger.Info().Str("repo", "[0001]requests").Msg("mapped")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"repo":"[0001]requests"`)
	assert.Contains(t, out, `"time":`)

	buf.Reset()
	console := NewLogger(&buf, zerolog.InfoLevel, false)
	console.Info().Msg("console line")
	assert.Contains(t, buf.String(), "console line")
}
