package contract

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/huangsam/tsmine/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validInput returns a raw input that passes validation.
func validInput(t *testing.T) *ConfigRawInput {
	t.Helper()
	root := t.TempDir()
	return &ConfigRawInput{
		ReposDir:     filepath.Join(root, "repos"),
		ResultsDir:   filepath.Join(root, "results"),
		WorkDir:      filepath.Join(root, "work"),
		Workers:      4,
		Output:       "text",
		Color:        "yes",
		CacheBackend: "none",
		RunBackend:   "none",
	}
}

func TestProcessAndValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*ConfigRawInput)
		expectError bool
	}{
		{"valid minimal config", func(*ConfigRawInput) {}, false},
		{"zero workers", func(in *ConfigRawInput) { in.Workers = 0 }, true},
		{"invalid output", func(in *ConfigRawInput) { in.Output = "xml" }, true},
		{"parquet output", func(in *ConfigRawInput) { in.Output = "PARQUET" }, false},
		{"invalid color", func(in *ConfigRawInput) { in.Color = "maybe" }, true},
		{"invalid log level", func(in *ConfigRawInput) { in.LogLevel = "loud" }, true},
		{"empty results dir", func(in *ConfigRawInput) { in.ResultsDir = " " }, true},
		{"absolute deadline", func(in *ConfigRawInput) { in.Deadline = "2021-01-01T00:00:00Z" }, false},
		{"relative deadline", func(in *ConfigRawInput) { in.Deadline = "2 years ago" }, false},
		{"invalid deadline", func(in *ConfigRawInput) { in.Deadline = "yesterday-ish" }, true},
		{"div too large", func(in *ConfigRawInput) { in.Div = MaxDiv + 1 }, true},
		{"negative div", func(in *ConfigRawInput) { in.Div = -1 }, true},
		{"invalid timeout", func(in *ConfigRawInput) { in.DetectorTimeout = "soon" }, true},
		{"invalid cache backend", func(in *ConfigRawInput) { in.CacheBackend = "redis" }, true},
		{"mysql without connect", func(in *ConfigRawInput) { in.RunBackend = "mysql" }, true},
		{
			name: "same sqlite file",
			mutate: func(in *ConfigRawInput) {
				in.CacheBackend, in.RunBackend = "sqlite", "sqlite"
				in.CacheConnect, in.RunConnect = "/tmp/same.db", "/tmp/same.db"
			},
			expectError: true,
		},
		{
			name: "distinct sqlite files",
			mutate: func(in *ConfigRawInput) {
				in.CacheBackend, in.RunBackend = "sqlite", "sqlite"
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := validInput(t)
			tt.mutate(input)
			cfg := &Config{}
			err := ProcessAndValidate(cfg, input)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProcessAndValidateDefaults(t *testing.T) {
	input := validInput(t)
	cfg := &Config{}
	require.NoError(t, ProcessAndValidate(cfg, input))

	assert.True(t, filepath.IsAbs(cfg.ReposDir))
	assert.True(t, cfg.Deadline.IsZero())
	assert.Equal(t, DefaultDiv, cfg.Div)
	assert.Equal(t, DefaultDetectorPython, cfg.DetectorPython)
	assert.Equal(t, DefaultDetectorTimeout, cfg.DetectorTimeout)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	assert.Equal(t, schema.TextOut, cfg.Output)
	assert.True(t, cfg.UseColors)
	assert.Nil(t, cfg.Excludes)
}

func TestProcessAndValidateOverrides(t *testing.T) {
	input := validInput(t)
	input.Exclude = "build/, docs/**, ,vendor/"
	input.DetectorTimeout = "2 hours"
	input.Div = 4
	input.LogLevel = "DEBUG"

	cfg := &Config{}
	require.NoError(t, ProcessAndValidate(cfg, input))
	assert.Equal(t, []string{"build/", "docs/**", "vendor/"}, cfg.Excludes)
	assert.Equal(t, 2*time.Hour, cfg.DetectorTimeout)
	assert.Equal(t, 4, cfg.Div)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
}

func TestProcessDeadline(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, processDeadline(cfg, &ConfigRawInput{Deadline: "3 days ago"}, fixedNow))
	assert.Equal(t, fixedNow.Add(-72*time.Hour), cfg.Deadline)

	require.NoError(t, processDeadline(cfg, &ConfigRawInput{}, fixedNow))
	assert.True(t, cfg.Deadline.IsZero())
}

func TestConfigClone(t *testing.T) {
	cfg := &Config{Excludes: []string{"a/"}, Workers: 2}
	clone := cfg.Clone()
	clone.Excludes[0] = "b/"
	clone.Workers = 8
	assert.Equal(t, "a/", cfg.Excludes[0])
	assert.Equal(t, 2, cfg.Workers)
}

func TestValidateDatabaseConnectionString(t *testing.T) {
	tests := []struct {
		name        string
		backend     schema.DatabaseBackend
		connStr     string
		expectError bool
	}{
		{"sqlite empty", schema.SQLiteBackend, "", false},
		{"none", schema.NoneBackend, "", false},
		{"mysql valid", schema.MySQLBackend, "user:pass@tcp(localhost:3306)/tsmine", false},
		{"mysql missing tcp", schema.MySQLBackend, "user:pass@localhost/tsmine", true},
		{"postgres valid", schema.PostgreSQLBackend, "host=localhost dbname=tsmine", false},
		{"postgres missing dbname", schema.PostgreSQLBackend, "host=localhost", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDatabaseConnectionString(tt.backend, tt.connStr)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProcessProfilingConfig(t *testing.T) {
	var profile ProfileConfig
	require.NoError(t, ProcessProfilingConfig(&profile, ""))
	assert.False(t, profile.Enabled)

	require.NoError(t, ProcessProfilingConfig(&profile, "tsmine"))
	assert.True(t, profile.Enabled)
	assert.Equal(t, "tsmine", profile.Prefix)
}
