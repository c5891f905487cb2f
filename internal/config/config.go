package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        int
	NatsURL     string
	NatsToken   string
	DatabaseURL string
	LogLevel    string
	APIToken    string

	OctoHost         string
	OctoPort         int
	OctoEmail        string
	OctoPassword     string
	OctoEndpointHost string
	OctoAPIToken     string
	OctoCloudURL     string
	OctoProfileTag   string
	BrowserDriver    string
	RestartAttempts  int
	StopProfile      bool
	FanslyOwnerID    string
	Timezone         string

	ScrollSettle      time.Duration
	NoChangeThreshold int
	ExtractionPeriod  int
	BatchSize         int
	MaxScrolls        int
	NavTimeout        time.Duration
	ContainerTimeout  time.Duration

	Concurrency     int
	StatusRetention time.Duration

	SlackBotToken string
	SlackChannel  string
}

func Load() Config {
	return Config{
		Port:        envInt("SCRIBE_PORT", 8760),
		NatsURL:     envStr("NATS_URL", ""),
		NatsToken:   envStr("NATS_TOKEN", ""),
		DatabaseURL: envStr("DATABASE_URL", "sqlite://data/scribe.db"),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		APIToken:    envStr("SCRIBE_API_TOKEN", ""),

		OctoHost:         envStr("OCTO_HOST", "octo"),
		OctoPort:         envInt("OCTO_PORT", 58888),
		OctoEmail:        envStr("OCTO_EMAIL", ""),
		OctoPassword:     envStr("OCTO_PASSWORD", ""),
		OctoEndpointHost: envStr("OCTO_ENDPOINT_HOST", ""),
		OctoAPIToken:     envStr("OCTO_API_TOKEN", ""),
		OctoCloudURL:     envStr("OCTO_CLOUD_URL", "https://app.octobrowser.net"),
		OctoProfileTag:   envStr("OCTO_PROFILE_TAG", "parserChat"),
		BrowserDriver:    envStr("BROWSER_DRIVER", "rod"),
		RestartAttempts:  envInt("RESTART_ATTEMPTS", 3),
		StopProfile:      envBool("STOP_PROFILE_ON_FINISH", true),
		FanslyOwnerID:    envStr("FANSLY_OWNER_ID", ""),
		Timezone:         envStr("SCRIBE_TIMEZONE", "UTC"),

		ScrollSettle:      envDuration("SCROLL_SETTLE", 3*time.Second),
		NoChangeThreshold: envInt("NO_CHANGE_THRESHOLD", 5),
		ExtractionPeriod:  envInt("EXTRACTION_PERIOD", 10),
		BatchSize:         envInt("BATCH_SIZE", 100),
		MaxScrolls:        envInt("MAX_SCROLLS", 0),
		NavTimeout:        envDuration("NAV_TIMEOUT", 30*time.Second),
		ContainerTimeout:  envDuration("CONTAINER_TIMEOUT", 10*time.Second),

		Concurrency:     envInt("SCRAPE_CONCURRENCY", 4),
		StatusRetention: envDuration("STATUS_RETENTION", time.Hour),

		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_ALERT_CHANNEL", ""),
	}
}

// OctoURL is the base URL of the Octo Browser local API.
func (c Config) OctoURL() string {
	return fmt.Sprintf("http://%s:%d", c.OctoHost, c.OctoPort)
}

// Location resolves Timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SlackEnabled reports whether failed scrapes should be posted to Slack.
func (c Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration accepts Go durations ("3s", "1m30s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
