package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sales-intel-be/internal/config"
	"sales-intel-be/internal/pkg/logger"
	"sales-intel-be/pkg/events"
	pktNats "sales-intel-be/pkg/nats"
)

var watchDurable string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow search outcome events on NATS",
	Long: `Follow SEARCH_COMPLETED and SEARCH_FAILED events published by the
backend-for-frontend on the EVENTS stream (NATS_URL).

Examples:
  sales-intel watch
  sales-intel watch --durable audit   # resume where the audit consumer left off`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchDurable, "durable", "", "durable consumer name (default: only new events)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	log := logger.NewConsoleLogger(verbose)
	defer log.Sync()

	sub, err := pktNats.NewSubscriber(cfg.App.NatsURL, log)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer sub.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	err = sub.Subscribe(ctx, pktNats.Subject(">"), watchDurable, func(_ context.Context, evt events.Event) error {
		printEvent(out, evt)
		return nil
	})
	if err != nil {
		return err
	}
	dimColor.Fprintf(out, "watching %s on %s\n", pktNats.Subject(">"), cfg.App.NatsURL)

	<-ctx.Done()
	return nil
}
