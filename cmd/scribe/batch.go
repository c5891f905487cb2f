package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/scribe/internal/backfill"
)

var batchFlags struct {
	targets string
	state   string
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Scrape every chat listed in a targets file",
	RunE:  runBatch,
}

func init() {
	batchCmd.Flags().StringVar(&batchFlags.targets, "targets", "targets.yaml", "YAML targets file")
	batchCmd.Flags().StringVar(&batchFlags.state, "state", "", "resume state file; completed chats are skipped")
}

func runBatch(cmd *cobra.Command, _ []string) error {
	targets, err := backfill.LoadTargets(batchFlags.targets)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	cfg := backfill.Config{Concurrency: a.cfg.Concurrency}
	if batchFlags.state != "" {
		if cfg.State, err = backfill.LoadState(batchFlags.state); err != nil {
			return err
		}
	}

	sum := backfill.NewRunner(cfg, a.service, slog.Default()).Run(ctx, targets)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if sum.Errors > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d chats failed\n", sum.Errors, sum.Total)
	}
	return nil
}
