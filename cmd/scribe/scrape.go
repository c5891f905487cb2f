package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/scribe/internal/scrape"
)

var scrapeFlags struct {
	profile    string
	chat       string
	updateOnly bool
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape one chat and exit",
	Long: `Scrapes the history of one chat with one browser profile. The exit code
is 0 when the chat was fully scraped, 1 on error and 2 when cancelled.`,
	RunE: runScrape,
}

func init() {
	scrapeCmd.Flags().StringVar(&scrapeFlags.profile, "profile", "", "Octo browser profile id")
	scrapeCmd.Flags().StringVar(&scrapeFlags.chat, "chat", "", "chat URL")
	scrapeCmd.Flags().BoolVar(&scrapeFlags.updateOnly, "update-only", false, "extract visible messages without scrolling")
	_ = scrapeCmd.MarkFlagRequired("profile")
	_ = scrapeCmd.MarkFlagRequired("chat")
}

func runScrape(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	_, res := a.service.Run(ctx, scrape.Request{
		ProfileID:  scrapeFlags.profile,
		ChatURL:    scrapeFlags.chat,
		UpdateOnly: scrapeFlags.updateOnly,
	})
	a.close(context.Background())

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	switch res.Outcome {
	case scrape.OutcomeError:
		os.Exit(1)
	case scrape.OutcomeCancelled:
		os.Exit(2)
	}
	return nil
}
