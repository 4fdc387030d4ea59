package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/marshallshelly/pebble-integrity/cmd/pebble/output"
)

var (
	// Global flags
	configPath string
	modelsPath string
	verbose    bool
	jsonOutput bool
	showStats  bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pebble",
	Short: "Pebble - relational integrity engine for entity records",
	Long: `Pebble keeps users, profiles, posts and categories consistent with each other.

Every mutation is checked against the declared relationships before it is applied:
  - References must point at existing records
  - One-to-one relationships hold at most one child per parent
  - Deletes cascade, set null or are restricted per relationship
  - Many-to-many links are unique per pair

Records live in memory and are persisted to PostgreSQL or Redis.`,
	Version:       "0.4.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if showStats {
			return printMetrics()
		}
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		output.Error("%v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (YAML or TOML); PEBBLE_* env vars override it")
	rootCmd.PersistentFlags().StringVar(&modelsPath, "models", "", "Load entity kinds from Go source instead of the built-in models")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&showStats, "stats", false, "Print mutation metrics when the command finishes")
}
