package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/scribe/internal/api"
	"github.com/MikeSquared-Agency/scribe/internal/hermes"
	"github.com/MikeSquared-Agency/scribe/internal/processor"
	"github.com/MikeSquared-Agency/scribe/internal/slack"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control API and NATS handlers",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())
	slog.Info("scribe starting", "port", a.cfg.Port)

	// NATS is optional: without it scrapes are driven over HTTP only.
	var publisher processor.Publisher
	var hermesClient *hermes.Client
	if a.cfg.NatsURL != "" {
		hermesClient, err = hermes.NewClient(ctx, a.cfg.NatsURL, a.cfg.NatsToken, slog.Default())
		if err != nil {
			return err
		}
		defer hermesClient.Close()
		publisher = hermesClient
		slog.Info("NATS connected", "url", a.cfg.NatsURL)
	} else {
		slog.Warn("NATS_URL not set, running without events")
	}

	proc := processor.New(a.service, publisher, slog.Default())
	a.service.OnFinish(proc.SessionFinished)

	if a.cfg.SlackEnabled() {
		poster := slack.NewPoster(a.cfg.SlackBotToken, a.cfg.SlackChannel, slog.Default())
		a.service.OnFinish(poster.SessionFinished)
		slog.Info("slack alerts enabled", "channel", a.cfg.SlackChannel)
	}

	if hermesClient != nil {
		if err := hermesClient.QueueSubscribe(hermes.SubjectScrapeRequested, "scribe", proc.HandleScrapeRequested); err != nil {
			return err
		}
		if err := hermesClient.Subscribe(hermes.SubjectScrapeCancel, proc.HandleScrapeCancel); err != nil {
			return err
		}
	}

	var profiles api.Profiles
	if a.profiles != nil {
		profiles = a.profiles
	}
	srv := api.NewServer(a.cfg.Port, a.cfg.APIToken, a.service, a.db, profiles, slog.Default())
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("scribe ready", "port", a.cfg.Port)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}

	slog.Info("shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	a.close(shutdownCtx)
	slog.Info("scribe stopped")
	return nil
}
