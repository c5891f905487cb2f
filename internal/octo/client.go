// Package octo drives the Octo Browser local API, which owns the logged-in
// browser profiles the scraper attaches to.
package octo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrSessionStart means the profile could not be started or attached to.
	ErrSessionStart = errors.New("browser session start failed")
	// ErrProfileNotRunning means the profile has no live browser.
	ErrProfileNotRunning = errors.New("profile not running")
)

const (
	errAlreadyLoggedIn = "Already logged in"
	errAlreadyStarted  = "Profile is already started"
)

// StartResult is a started profile's CDP endpoint.
type StartResult struct {
	Endpoint string
	// AlreadyRunning is set when another caller had started the profile.
	AlreadyRunning bool
}

// Profile is an entry of the local profile listing.
type Profile struct {
	UUID       string `json:"uuid"`
	Status     string `json:"status"`
	State      string `json:"state"`
	WSEndpoint string `json:"ws_endpoint"`
}

func (p Profile) running() bool {
	return strings.EqualFold(p.Status, "running") || strings.EqualFold(p.State, "started")
}

type Client struct {
	baseURL      string
	email        string
	password     string
	endpointHost string
	client       *http.Client
	logger       *slog.Logger

	// StopWait and ForceStopWait are the pauses ForceRestart leaves for the
	// browser process to exit before starting it again.
	StopWait      time.Duration
	ForceStopWait time.Duration
}

// NewClient returns a client for the local API at baseURL.
func NewClient(baseURL, email, password string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		email:         email,
		password:      password,
		client:        &http.Client{Timeout: 60 * time.Second},
		logger:        logger,
		StopWait:      5 * time.Second,
		ForceStopWait: 10 * time.Second,
	}
}

// SetEndpointHost makes returned endpoints reachable from another host: the
// local API reports loopback addresses.
func (c *Client) SetEndpointHost(host string) {
	c.endpointHost = host
}

type errorResponse struct {
	Error string `json:"error"`
}

type startRequest struct {
	UUID      string   `json:"uuid"`
	Headless  bool     `json:"headless"`
	DebugPort bool     `json:"debug_port"`
	Flags     []string `json:"flags"`
}

type uuidRequest struct {
	UUID string `json:"uuid"`
}

// Login authenticates the local client. An existing login is not an error.
func (c *Client) Login(ctx context.Context) error {
	status, body, err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if ok(status) || apiError(body) == errAlreadyLoggedIn {
		return nil
	}
	return fmt.Errorf("login failed %d: %s", status, string(body))
}

// Start starts the profile headless and returns its CDP endpoint. A profile
// that is already running is looked up instead.
func (c *Client) Start(ctx context.Context, profileID string) (StartResult, error) {
	if err := c.Login(ctx); err != nil {
		return StartResult{}, fmt.Errorf("%w: %w", ErrSessionStart, err)
	}

	status, body, err := c.do(ctx, http.MethodPost, "/api/profiles/start", startRequest{
		UUID:      profileID,
		Headless:  true,
		DebugPort: true,
		Flags:     []string{"--disable-dev-shm-usage"},
	})
	if err != nil {
		return StartResult{}, fmt.Errorf("%w: %w", ErrSessionStart, err)
	}

	if ok(status) {
		var p Profile
		if err := json.Unmarshal(body, &p); err != nil {
			return StartResult{}, fmt.Errorf("%w: decode start response: %w", ErrSessionStart, err)
		}
		if p.WSEndpoint == "" {
			return StartResult{}, fmt.Errorf("%w: start response has no ws_endpoint", ErrSessionStart)
		}
		return StartResult{Endpoint: c.rewriteEndpoint(p.WSEndpoint)}, nil
	}

	if apiError(body) == errAlreadyStarted {
		c.logger.Info("profile already started, looking up endpoint", "profile_id", profileID)
		endpoint, err := c.Endpoint(ctx, profileID)
		if err != nil {
			return StartResult{}, fmt.Errorf("%w: %w", ErrSessionStart, err)
		}
		return StartResult{Endpoint: endpoint, AlreadyRunning: true}, nil
	}

	return StartResult{}, fmt.Errorf("%w: start %d: %s", ErrSessionStart, status, string(body))
}

// Stop asks the profile to shut down.
func (c *Client) Stop(ctx context.Context, profileID string) error {
	status, body, err := c.do(ctx, http.MethodPost, "/api/profiles/stop", uuidRequest{UUID: profileID})
	if err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if !ok(status) {
		return fmt.Errorf("stop %d: %s", status, string(body))
	}
	return nil
}

// ForceStop kills the profile's browser. It reports whether the API accepted.
func (c *Client) ForceStop(ctx context.Context, profileID string) bool {
	status, body, err := c.do(ctx, http.MethodPost, "/api/profiles/force_stop", uuidRequest{UUID: profileID})
	if err != nil {
		c.logger.Warn("force stop failed", "profile_id", profileID, "error", err)
		return false
	}
	if !ok(status) {
		c.logger.Warn("force stop rejected", "profile_id", profileID, "status", status, "body", string(body))
		return false
	}
	return true
}

// RunningProfiles lists profiles with a live browser.
func (c *Client) RunningProfiles(ctx context.Context) ([]Profile, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/api/profiles", nil)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	if !ok(status) {
		return nil, fmt.Errorf("list profiles %d: %s", status, string(body))
	}

	var all []Profile
	if err := json.Unmarshal(body, &all); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	running := all[:0]
	for _, p := range all {
		if p.running() {
			running = append(running, p)
		}
	}
	return running, nil
}

// Endpoint returns the CDP endpoint of a running profile.
func (c *Client) Endpoint(ctx context.Context, profileID string) (string, error) {
	profiles, err := c.RunningProfiles(ctx)
	if err != nil {
		return "", err
	}
	for _, p := range profiles {
		if p.UUID == profileID && p.WSEndpoint != "" {
			return c.rewriteEndpoint(p.WSEndpoint), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrProfileNotRunning, profileID)
}

// ForceRestart stops and restarts the profile up to maxAttempts times. The
// last attempt force-stops it first.
func (c *Client) ForceRestart(ctx context.Context, profileID string, maxAttempts int) (StartResult, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c.logger.Info("restarting profile", "profile_id", profileID, "attempt", attempt)

		wait := c.StopWait
		if attempt == maxAttempts {
			c.ForceStop(ctx, profileID)
			wait = c.ForceStopWait
		} else if err := c.Stop(ctx, profileID); err != nil {
			c.logger.Warn("stop before restart failed", "profile_id", profileID, "error", err)
		}

		if err := sleep(ctx, wait); err != nil {
			return StartResult{}, err
		}

		res, err := c.Start(ctx, profileID)
		if err == nil {
			return res, nil
		}
		lastErr = err
		c.logger.Warn("restart attempt failed", "profile_id", profileID, "attempt", attempt, "error", err)
	}

	return StartResult{}, fmt.Errorf("%w: gave up after %d restart attempts: %w", ErrSessionStart, maxAttempts, lastErr)
}

func (c *Client) rewriteEndpoint(endpoint string) string {
	if c.endpointHost == "" {
		return endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	host := u.Hostname()
	if host != "127.0.0.1" && host != "localhost" && host != "0.0.0.0" {
		return endpoint
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(c.endpointHost, port)
	} else {
		u.Host = c.endpointHost
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func ok(status int) bool {
	return status >= 200 && status < 300
}

func apiError(body []byte) string {
	var e errorResponse
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	return e.Error
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
