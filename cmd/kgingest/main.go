// Package main is the kgingest CLI entry point and command registration hub.
//
// # File Index
//
//   - main.go       - rootCmd, global flags, boot logging, init()
//   - cmd_run.go    - run, status, stop, report subcommands
//   - cmd_audit.go  - audit subcommand
//   - cmd_derive.go - derive subcommand
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"kgingest/internal/config"
	"kgingest/internal/logging"
)

var (
	repoRoot   string
	storeDir   string
	configPath string
	verbose    bool

	logger *zap.Logger
	cfg    *config.Config
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "kgingest",
	Short: "Developer knowledge-graph ingestion engine",
	Long: `kgingest builds a time-stamped property graph of a repository's
history, source, and planning documents: commits, files, chunks, symbols,
libraries, sprints, and the relationships between them.

Run a subcommand to start a job, check its status, or audit the resulting
graph. See "kgingest run --help" to start ingesting a repository.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapConfig := zap.NewProductionConfig()
		if verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if repoRoot == "" {
			repoRoot, _ = os.Getwd()
		} else if abs, aerr := filepath.Abs(repoRoot); aerr == nil {
			repoRoot = abs
		}
		if storeDir == "" {
			storeDir = filepath.Join(repoRoot, ".kgingest")
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := os.MkdirAll(storeDir, 0755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
		if err := cfg.InitLogging(repoRoot); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&repoRoot, "repo", "r", "", "Repository root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&storeDir, "store-dir", "", "Graph store/manifest directory (default: <repo>/.kgingest)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "kgingest.yaml", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(runCmd, statusCmd, stopCmd, reportCmd, auditCmd, deriveCmd, searchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
