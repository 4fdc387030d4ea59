package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/marshallshelly/pebble-integrity/cmd/pebble/tui"
)

var browseSeed bool

// browseCmd opens the interactive browser
var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse kinds and records interactively",
	Long: `Open an interactive browser over every entity kind. Records can be
inspected with their related counts and deleted with the usual policies.

Examples:
  pebble browse --seed                          # In-memory sample data
  PEBBLE_BACKEND=postgres pebble browse          # Records stored in PostgreSQL`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session) error {
			if browseSeed {
				if err := seed(ctx, s.engine, seedUsers); err != nil {
					return err
				}
			}
			return tui.RunBrowseUI(s.engine)
		})
	},
}

func init() {
	rootCmd.AddCommand(browseCmd)

	browseCmd.Flags().BoolVar(&browseSeed, "seed", false, "Insert sample data before browsing")
}
