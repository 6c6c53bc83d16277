package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/abhisek/lingoband/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "lingoband",
	Short: "Assessment entitlement and conversational session engine",
	Long: "Lingoband drives spoken and written language assessments: purchased\n" +
		"attempt entitlements, no-repeat question allocation, phased examiner\n" +
		"conversations, and AI-judged band scores.",
	SilenceUsage: true,
}

func Execute() error {
	// Local development keeps credentials in .env; absence is fine.
	_ = godotenv.Load()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Path to SQLite database file (overrides LINGOBAND_DB env var)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(redeemCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(versionCmd)
}

// resolveDBPath returns the database path using --db flag (highest
// priority), then LINGOBAND_DB env var, then the default XDG path.
func resolveDBPath(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		return p, store.EnsureDir(p)
	}
	return store.DefaultDBPath()
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
