// Package cmd defines the command-line interface for tsmine.
package cmd

import (
	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/schema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	// Call initConfig on Cobra's initialization
	cobra.OnInitialize(initConfig)

	// Add the pipeline stages in the order they run
	rootCmd.AddCommand(cloneCmd)
	rootCmd.AddCommand(commitsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(mapCmd)
	rootCmd.AddCommand(invertCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(forgeCmd)
	rootCmd.AddCommand(provenanceCmd)

	// Add the supporting commands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(runsCmd)

	// Add the cache subcommands to the parent cache command
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatusCmd)

	// Add the runs subcommands to the parent runs command
	runsCmd.AddCommand(runsClearCmd)
	runsCmd.AddCommand(runsStatusCmd)
	runsCmd.AddCommand(runsExportCmd)
	runsCmd.AddCommand(runsMigrateCmd)

	// Bind all persistent flags of rootCmd to Viper
	rootCmd.PersistentFlags().String("repos-dir", "repos", "Directory holding the [NNNN]/[NNNN]name clones")
	rootCmd.PersistentFlags().String("results-dir", "results", "Directory holding the stage shards")
	rootCmd.PersistentFlags().String("work-dir", "", "Scratch directory for detector copies (default: system temp dir)")
	rootCmd.PersistentFlags().String("deadline", "", "Ignore commits after this date (ISO8601 or time ago)")
	rootCmd.PersistentFlags().Int("workers", contract.DefaultWorkers, "Number of concurrent workers")
	rootCmd.PersistentFlags().String("exclude", "", "Comma-separated gitignore-style patterns skipped by the import walk")
	rootCmd.PersistentFlags().String("output", string(schema.TextOut), "Output format: text or csv or json or parquet")
	rootCmd.PersistentFlags().String("output-file", "", "Optional path to write output to")
	rootCmd.PersistentFlags().Int("width", 0, "Terminal width override (0 = auto-detect)")
	rootCmd.PersistentFlags().String("color", "yes", "Enable colored labels in output (yes/no/true/false/1/0)")
	rootCmd.PersistentFlags().String("log-level", contract.DefaultLogLevel, "Log level: debug or info or warn or error")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON lines")
	rootCmd.PersistentFlags().String("cache-backend", string(schema.SQLiteBackend), "Metrics cache backend: sqlite or mysql or postgresql or none")
	rootCmd.PersistentFlags().String("cache-db-connect", "", "Database connection string for mysql/postgresql (e.g., user:pass@tcp(host:port)/dbname)")
	rootCmd.PersistentFlags().String("run-backend", "", "Run tracking backend: sqlite or mysql or postgresql or none")
	rootCmd.PersistentFlags().String("run-db-connect", "", "Database connection string for run tracking (must differ from cache-db-connect)")
	rootCmd.PersistentFlags().String("profile", "", "Enable profiling and write profiles to files with this prefix")
	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		contract.LogFatal("Error binding root flags", err)
	}

	// Bind all flags of detectCmd to Viper
	detectCmd.Flags().Int("div", contract.DefaultDiv, "Split each history into this many interleaved slices run in parallel")
	detectCmd.Flags().String("detector-runner", "", "Path to the detector runner script")
	detectCmd.Flags().String("detector-python", contract.DefaultDetectorPython, "Python interpreter that runs the detector")
	detectCmd.Flags().String("detector-timeout", "", "Per-commit detector timeout (e.g. 30m)")
	if err := viper.BindPFlags(detectCmd.Flags()); err != nil {
		contract.LogFatal("Error binding detect flags", err)
	}

	// progressCmd reads its flag directly, so it is not bound to Viper
	progressCmd.Flags().Bool("all", false, "Include fully analyzed repositories")

	// Bind all flags of runsMigrateCmd to Viper
	runsMigrateCmd.Flags().Int("target-version", -1, "Target migration version (-1 means latest, 0 means rollback to initial state)")
	if err := viper.BindPFlags(runsMigrateCmd.Flags()); err != nil {
		contract.LogFatal("Error binding runs migrate flags", err)
	}
}
