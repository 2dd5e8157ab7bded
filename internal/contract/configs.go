package contract

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/huangsam/tsmine/schema"
	"github.com/rs/zerolog"
)

// Default values for configuration.
const (
	DefaultDiv             = 1
	DefaultDetectorTimeout = 30 * time.Minute
	DefaultDetectorPython  = "python3"
	DefaultLogLevel        = "info"
	MaxDiv                 = 99
)

// DefaultWorkers is the default number of concurrent workers to use.
// Most stages wait on git and the filesystem, so it oversubscribes the CPUs.
var DefaultWorkers = 2 * runtime.NumCPU()

// DateTimeFormat is the default date time representation.
var DateTimeFormat = time.RFC3339

// ProfileConfig holds profiling settings.
type ProfileConfig struct {
	Enabled bool
	Prefix  string
}

// Config holds the runtime configuration for the pipeline.
// This struct is the "final, validated" config.
type Config struct {
	ReposDir   string // Root holding the [NNNN]/[NNNN]name clones
	ResultsDir string // Root holding <stage>/<repo>/<shard>
	WorkDir    string // Scratch space for detector copies

	Deadline time.Time // Zero means the whole history
	Workers  int
	Excludes []string // gitignore-style patterns skipped by the import walk

	Div             int
	DetectorRunner  string
	DetectorPython  string
	DetectorTimeout time.Duration

	Output     schema.OutputMode
	OutputFile string
	Width      int // Terminal width override (0 = auto-detect)
	UseColors  bool

	LogLevel zerolog.Level
	LogJSON  bool

	CacheBackend   schema.DatabaseBackend
	CacheDBConnect string // Please use env var as this is plaintext

	RunBackend   schema.DatabaseBackend
	RunDBConnect string // Please use env var as this is plaintext
}

// ConfigRawInput holds the raw inputs from all sources (flags, env, config file).
// Viper unmarshals into this struct.
type ConfigRawInput struct {
	// --- Fields from rootCmd.PersistentFlags() ---
	ReposDir     string `mapstructure:"repos-dir"`
	ResultsDir   string `mapstructure:"results-dir"`
	WorkDir      string `mapstructure:"work-dir"`
	Deadline     string `mapstructure:"deadline"`
	Workers      int    `mapstructure:"workers"`
	Exclude      string `mapstructure:"exclude"`
	Output       string `mapstructure:"output"`
	OutputFile   string `mapstructure:"output-file"`
	Width        int    `mapstructure:"width"`
	Color        string `mapstructure:"color"`
	LogLevel     string `mapstructure:"log-level"`
	LogJSON      bool   `mapstructure:"log-json"`
	CacheBackend string `mapstructure:"cache-backend"`
	CacheConnect string `mapstructure:"cache-db-connect"`
	RunBackend   string `mapstructure:"run-backend"`
	RunConnect   string `mapstructure:"run-db-connect"`

	// --- Fields from detectCmd.Flags() ---
	Div             int    `mapstructure:"div"`
	DetectorRunner  string `mapstructure:"detector-runner"`
	DetectorPython  string `mapstructure:"detector-python"`
	DetectorTimeout string `mapstructure:"detector-timeout"`
}

// Clone returns a deep copy of the Config struct.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Excludes != nil {
		clone.Excludes = make([]string, len(c.Excludes))
		copy(clone.Excludes, c.Excludes)
	}
	return &clone
}

// ProcessAndValidate performs all parsing and validation on the raw inputs
// and updates the final Config struct.
func ProcessAndValidate(cfg *Config, input *ConfigRawInput) error {
	if err := validateSimpleInputs(cfg, input); err != nil {
		return err
	}
	if err := processDirectories(cfg, input); err != nil {
		return err
	}
	if err := processDeadline(cfg, input, time.Now()); err != nil {
		return err
	}
	if err := processDetector(cfg, input); err != nil {
		return err
	}
	return validateBackendConfigs(cfg, input)
}

// ValidateDatabaseConnectionString validates the format of database connection strings
// for MySQL and PostgreSQL backends.
func ValidateDatabaseConnectionString(backend schema.DatabaseBackend, connStr string) error {
	switch backend {
	case schema.SQLiteBackend, schema.NoneBackend:
		return nil
	case schema.MySQLBackend:
		if connStr == "" {
			return fmt.Errorf("a connection string is required when using %s backend", backend)
		}
		if !strings.Contains(connStr, "@tcp(") {
			return fmt.Errorf("MySQL connection string must contain '@tcp(' for host:port specification")
		}
		if !strings.Contains(connStr, "/") {
			return fmt.Errorf("MySQL connection string must contain '/' followed by database name")
		}
	case schema.PostgreSQLBackend:
		if connStr == "" {
			return fmt.Errorf("a connection string is required when using %s backend", backend)
		}
		if !strings.Contains(connStr, "host=") {
			return fmt.Errorf("PostgreSQL connection string must contain 'host=' parameter")
		}
		if !strings.Contains(connStr, "dbname=") {
			return fmt.Errorf("PostgreSQL connection string must contain 'dbname=' parameter")
		}
	}
	return nil
}

// validateBackendConfigs validates cache and run-tracking backend configurations.
func validateBackendConfigs(cfg *Config, input *ConfigRawInput) error {
	// --- Cache Backend Validation ---
	cfg.CacheBackend = schema.DatabaseBackend(strings.ToLower(input.CacheBackend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = schema.SQLiteBackend
	}
	if _, ok := schema.ValidDatabaseBackends[cfg.CacheBackend]; !ok {
		return fmt.Errorf("invalid cache backend '%s'. must be sqlite, mysql, postgresql, none", input.CacheBackend)
	}
	cfg.CacheDBConnect = input.CacheConnect
	if err := ValidateDatabaseConnectionString(cfg.CacheBackend, cfg.CacheDBConnect); err != nil {
		return fmt.Errorf("cache-db-connect: %w", err)
	}

	// --- Run Backend Validation ---
	cfg.RunBackend = schema.DatabaseBackend(strings.ToLower(input.RunBackend))
	if cfg.RunBackend == "" {
		cfg.RunBackend = schema.NoneBackend
	}
	if _, ok := schema.ValidDatabaseBackends[cfg.RunBackend]; !ok {
		return fmt.Errorf("invalid run backend '%s'. must be sqlite, mysql, postgresql, none", input.RunBackend)
	}
	cfg.RunDBConnect = input.RunConnect
	if err := ValidateDatabaseConnectionString(cfg.RunBackend, cfg.RunDBConnect); err != nil {
		return fmt.Errorf("run-db-connect: %w", err)
	}

	// Both stores on one SQLite file would fight over the same schema_migrations table
	if cfg.CacheBackend == schema.SQLiteBackend && cfg.RunBackend == schema.SQLiteBackend {
		cachePath := cfg.CacheDBConnect
		if cachePath == "" {
			cachePath = GetCacheDBFilePath()
		}
		runPath := cfg.RunDBConnect
		if runPath == "" {
			runPath = GetRunDBFilePath()
		}
		if cachePath == runPath {
			return fmt.Errorf("cache and run storage must use different SQLite database files. Both resolve to %q", cachePath)
		}
	}
	return nil
}

// validateSimpleInputs processes and validates all non-path related fields.
func validateSimpleInputs(cfg *Config, input *ConfigRawInput) error {
	cfg.OutputFile = input.OutputFile
	cfg.Width = input.Width
	cfg.LogJSON = input.LogJSON

	colors, err := ParseBoolString(input.Color)
	if err != nil {
		return fmt.Errorf("invalid --color value: %w", err)
	}
	cfg.UseColors = colors

	if input.Workers <= 0 {
		return fmt.Errorf("workers must be greater than 0 (received %d)", input.Workers)
	}
	cfg.Workers = input.Workers

	cfg.Output = schema.OutputMode(strings.ToLower(input.Output))
	if _, ok := schema.ValidOutputModes[cfg.Output]; !ok {
		return fmt.Errorf("invalid output format '%s'. must be text, csv, json, parquet", input.Output)
	}

	levelStr := input.LogLevel
	if levelStr == "" {
		levelStr = DefaultLogLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(levelStr))
	if err != nil {
		return fmt.Errorf("invalid --log-level value '%s': %w", input.LogLevel, err)
	}
	cfg.LogLevel = level

	cfg.Excludes = nil
	for p := range strings.SplitSeq(input.Exclude, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			cfg.Excludes = append(cfg.Excludes, trimmed)
		}
	}
	return nil
}

// processDirectories resolves the pipeline directories to absolute paths.
func processDirectories(cfg *Config, input *ConfigRawInput) error {
	dirs := []struct {
		flag  string
		value string
		dest  *string
	}{
		{"repos-dir", input.ReposDir, &cfg.ReposDir},
		{"results-dir", input.ResultsDir, &cfg.ResultsDir},
		{"work-dir", input.WorkDir, &cfg.WorkDir},
	}
	for _, d := range dirs {
		value := strings.TrimSpace(d.value)
		if value == "" {
			return fmt.Errorf("--%s must not be empty", d.flag)
		}
		abs, err := filepath.Abs(value)
		if err != nil {
			return fmt.Errorf("invalid --%s %q: %w", d.flag, value, err)
		}
		*d.dest = filepath.Clean(abs)
	}

	info, err := os.Stat(cfg.ReposDir)
	if err == nil && !info.IsDir() {
		return fmt.Errorf("--repos-dir %q is not a directory", cfg.ReposDir)
	}
	return nil
}

// processDeadline parses the history deadline as absolute or relative time.
func processDeadline(cfg *Config, input *ConfigRawInput, now time.Time) error {
	t, err := ParseDeadline(input.Deadline, now)
	if err != nil {
		return err
	}
	cfg.Deadline = t
	return nil
}

// ParseDeadline accepts RFC3339 or "N [units] ago". Empty input means no deadline.
func ParseDeadline(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(DateTimeFormat, value); err == nil {
		return t, nil
	}
	t, err := ParseRelativeTime(value, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid deadline format for '%s'. Expected absolute ISO8601 or 'N [units] ago': %w", value, err)
	}
	return t, nil
}

// processDetector validates the detector invocation settings.
func processDetector(cfg *Config, input *ConfigRawInput) error {
	cfg.Div = input.Div
	if cfg.Div == 0 {
		cfg.Div = DefaultDiv
	}
	if cfg.Div < 1 || cfg.Div > MaxDiv {
		return fmt.Errorf("div must be between 1 and %d (received %d)", MaxDiv, input.Div)
	}

	cfg.DetectorRunner = strings.TrimSpace(input.DetectorRunner)
	if cfg.DetectorRunner != "" {
		abs, err := filepath.Abs(cfg.DetectorRunner)
		if err != nil {
			return fmt.Errorf("invalid --detector-runner %q: %w", cfg.DetectorRunner, err)
		}
		cfg.DetectorRunner = abs
	}

	cfg.DetectorPython = strings.TrimSpace(input.DetectorPython)
	if cfg.DetectorPython == "" {
		cfg.DetectorPython = DefaultDetectorPython
	}

	cfg.DetectorTimeout = DefaultDetectorTimeout
	if input.DetectorTimeout != "" {
		timeout, err := ParseTimeoutDuration(input.DetectorTimeout)
		if err != nil {
			return fmt.Errorf("invalid --detector-timeout: %w", err)
		}
		cfg.DetectorTimeout = timeout
	}
	return nil
}

// ProcessProfilingConfig handles the profiling flag and sets up profiling configuration.
func ProcessProfilingConfig(profile *ProfileConfig, profilePrefix string) error {
	if profilePrefix != "" {
		profile.Enabled = true
		profile.Prefix = profilePrefix
	}
	return nil
}
