package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/scribe/internal/browser"
	"github.com/MikeSquared-Agency/scribe/internal/config"
	"github.com/MikeSquared-Agency/scribe/internal/dates"
	"github.com/MikeSquared-Agency/scribe/internal/extractor"
	"github.com/MikeSquared-Agency/scribe/internal/octo"
	"github.com/MikeSquared-Agency/scribe/internal/scrape"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

var rootCmd = &cobra.Command{
	Use:           "scribe",
	Short:         "Incremental chat transcript scraper for OnlyFans and Fansly",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, scrapeCmd, batchCmd, profilesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("scribe failed", "error", err)
		os.Exit(1)
	}
}

// app holds what every command needs: configuration, the store and a
// scrape service wired to Octo and the browser driver.
type app struct {
	cfg      config.Config
	db       store.Store
	service  *scrape.Service
	// profiles is nil unless OCTO_API_TOKEN is set.
	profiles *octo.Directory
	once     sync.Once
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	slog.Info("database connected")

	logger := slog.Default()
	octoClient := octo.NewClient(cfg.OctoURL(), cfg.OctoEmail, cfg.OctoPassword, logger)
	if cfg.OctoEndpointHost != "" {
		octoClient.SetEndpointHost(cfg.OctoEndpointHost)
	}

	driver := browser.Driver(cfg.BrowserDriver)
	deps := scrape.Deps{
		Sessions: octoClient,
		Dial: func(ctx context.Context, endpoint string) (browser.Page, error) {
			return browser.Dial(ctx, driver, endpoint, logger)
		},
		Store: db,
		Dates: dates.New(cfg.Location()),
		Options: scrape.Options{
			NavTimeout:        cfg.NavTimeout,
			ContainerTimeout:  cfg.ContainerTimeout,
			ScrollSettle:      cfg.ScrollSettle,
			NoChangeThreshold: cfg.NoChangeThreshold,
			ExtractionPeriod:  cfg.ExtractionPeriod,
			BatchSize:         cfg.BatchSize,
			MaxScrolls:        cfg.MaxScrolls,
		},
		Extractor:       extractor.Options{FanslyOwnerID: cfg.FanslyOwnerID},
		RestartAttempts: cfg.RestartAttempts,
		StopProfile:     cfg.StopProfile,
		Logger:          logger,
	}

	a := &app{
		cfg:     cfg,
		db:      db,
		service: scrape.NewService(deps, scrape.NewRegistry(), cfg.StatusRetention, logger),
	}
	if cfg.OctoAPIToken != "" {
		cloud := octo.NewCloudClient(cfg.OctoCloudURL, cfg.OctoAPIToken, logger)
		a.profiles = octo.NewDirectory(cloud, octoClient, cfg.OctoProfileTag)
	}
	return a, nil
}

func (a *app) close(ctx context.Context) {
	a.once.Do(func() {
		if err := a.service.Shutdown(ctx); err != nil {
			slog.Warn("scrapes still running at shutdown", "error", err)
		}
		a.db.Close()
	})
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
