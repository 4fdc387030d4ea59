package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marshallshelly/pebble-integrity/cmd/pebble/output"
	"github.com/marshallshelly/pebble-integrity/pkg/config"
	"github.com/marshallshelly/pebble-integrity/pkg/events"
)

// watchCmd tails the change feed
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print committed changes from the NATS change feed",
	Long: `Subscribe to the change feed and print every committed change until
interrupted. Requires nats.url (PEBBLE_NATS_URL).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.NATS.URL == "" {
			return errors.New("nats.url is not configured")
		}
		feed, err := events.ConnectNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return err
		}
		defer func() { _ = feed.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sub, err := feed.Subscribe(func(ev events.Event) {
			if jsonOutput {
				_ = output.JSON(ev)
				return
			}
			fmt.Printf("%s %s %s %s %s\n",
				output.StatusIcon(string(ev.Action)), ev.Timestamp, ev.Kind, ev.Key,
				output.MutedText(shortID(ev.Mutation)))
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe: %w", err)
		}
		defer func() { _ = sub.Unsubscribe() }()

		output.Info("Watching %s (ctrl+c to stop)", cfg.NATS.URL)
		<-ctx.Done()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func shortID(id string) string {
	head, _, _ := strings.Cut(id, "-")
	return head
}
