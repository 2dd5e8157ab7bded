package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/internal/iocache"
	"github.com/huangsam/tsmine/internal/outwriter"
	"github.com/huangsam/tsmine/schema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runBackendFromViper reads and validates the run store settings.
// An empty backend means run tracking is disabled.
func runBackendFromViper() (schema.DatabaseBackend, string, error) {
	backend := schema.NoneBackend
	if s := viper.GetString("run-backend"); s != "" {
		backend = schema.DatabaseBackend(s)
	}
	connStr := viper.GetString("run-db-connect")
	if err := contract.ValidateDatabaseConnectionString(backend, connStr); err != nil {
		return "", "", err
	}
	return backend, connStr, nil
}

// runsSetup loads minimal configuration needed for run store operations.
func runsSetup() error {
	if err := loadConfigFile(); err != nil {
		return err
	}
	backend, connStr, err := runBackendFromViper()
	if err != nil {
		return err
	}

	// No metrics cache for run commands
	if err := iocache.InitStores(schema.NoneBackend, "", backend, connStr); err != nil {
		return fmt.Errorf("failed to initialize run store: %w", err)
	}

	cfg.RunBackend = backend
	cfg.RunDBConnect = connStr
	cfg.OutputFile = viper.GetString("output-file")
	return nil
}

// runsSetupWrapper wraps runsSetup to provide PreRunE for run commands.
func runsSetupWrapper(_ *cobra.Command, _ []string) error {
	return runsSetup()
}

// runsMigrateSetup loads the run store settings without opening the store,
// so migrations can run against a fresh database.
func runsMigrateSetup(_ *cobra.Command, _ []string) error {
	if err := loadConfigFile(); err != nil {
		return err
	}
	backend, connStr, err := runBackendFromViper()
	if err != nil {
		return err
	}
	if backend == schema.SQLiteBackend && connStr == "" {
		connStr = contract.GetRunDBFilePath()
	}
	cfg.RunBackend = backend
	cfg.RunDBConnect = connStr
	return nil
}

// runsCmd focused on run tracking data.
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage the ledger of pipeline runs",
	Long: `Manage the ledger of forge runs and the corpus records they produced.

When --run-backend is set, every forge run stores:
- Run metadata (start and end time, configuration, exit status)
- The corpus records written fresh by that run

Supported backends: SQLite, MySQL, PostgreSQL, or None (disabled, default)

Subcommands:
  status  - Show run ledger statistics
  export  - Export the ledger to Parquet
  clear   - Remove all run data
  migrate - Run database schema migrations

Examples:
  # Check ledger status
  tsmine runs status --run-backend sqlite

  # Export for analysis in pandas or DuckDB
  tsmine runs export --run-backend sqlite --output-file ledger`,
}

// runsClearCmd clears the run ledger.
var runsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all run tracking data",
	Long: `Delete all stored runs and corpus records.

For SQLite: Deletes the database file
For MySQL/PostgreSQL: Drops the run tables

WARNING: This action cannot be undone. Consider exporting data first.

Examples:
  tsmine runs export --run-backend sqlite --output-file backup
  tsmine runs clear --run-backend sqlite`,
	PreRunE: runsSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		iocache.CloseStores()
		if err := iocache.ClearRuns(cfg.RunBackend, runDBFilePath(), cfg.RunDBConnect); err != nil {
			contract.LogFatal("Failed to clear run data", err)
		}
		fmt.Println("Run data cleared successfully.")
	},
}

// runsStatusCmd shows run ledger status.
var runsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display run ledger statistics and connection details",
	Long: `Show detailed information about the run ledger.

Displays:
- Backend type and connection status
- Total number of runs and corpus records
- Last and oldest run timestamps
- Row counts per table

Examples:
  tsmine runs status --run-backend sqlite`,
	PreRunE: runsSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		store := iocache.Manager.GetRunStore()
		if store == nil {
			contract.LogFatal("Failed to get run status", errors.New("run tracking is not configured, set --run-backend"))
		}
		status, err := store.GetStatus()
		if err != nil {
			contract.LogFatal("Failed to get run status", err)
		}
		if err := outwriter.NewOutWriter().WriteRunStatus(os.Stdout, status); err != nil {
			contract.LogFatal("Failed to print run status", err)
		}
	},
}

// runsExportCmd exports the ledger to Parquet files.
var runsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the run ledger to Parquet",
	Long: `Export all runs and corpus records to Parquet.

Writes two files next to --output-file:
- {output-file}.runs.parquet
- {output-file}.corpus_records.parquet

Requires: --output-file parameter

Examples:
  tsmine runs export --run-backend sqlite --output-file ledger
  duckdb -c "SELECT clone_url, avg(bug) FROM read_parquet('ledger.corpus_records.parquet') GROUP BY 1"`,
	PreRunE: runsSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		if _, err := iocache.ExportRuns(iocache.Manager.GetRunStore(), cfg.OutputFile, os.Stdout); err != nil {
			contract.LogFatal("Failed to export run data", err)
		}
	},
}

// runsMigrateCmd runs database migrations for the run store.
var runsMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database schema migrations (upgrades/downgrades)",
	Long: `Manage database schema versions for the run store.

By default, migrates to the latest version. Use --target-version for specific versions.

Examples:
  # Migrate to latest version (default)
  tsmine runs migrate --run-backend sqlite

  # Rollback to the initial state
  tsmine runs migrate --run-backend sqlite --target-version 0`,
	PreRunE: runsMigrateSetup,
	Run: func(_ *cobra.Command, _ []string) {
		result, err := iocache.MigrateRuns(cfg.RunBackend, cfg.RunDBConnect, viper.GetInt("target-version"))
		if err != nil {
			contract.LogFatal("Failed to run migrations", err)
		}
		if !result.Changed {
			fmt.Printf("Run store already at version %d.\n", result.To)
			return
		}
		fmt.Printf("Migrated run store from version %d to %d.\n", result.From, result.To)
	},
}

// runDBFilePath is the SQLite file of the run store.
func runDBFilePath() string {
	if cfg.RunBackend == schema.SQLiteBackend && cfg.RunDBConnect != "" {
		return cfg.RunDBConnect
	}
	return contract.GetRunDBFilePath()
}
