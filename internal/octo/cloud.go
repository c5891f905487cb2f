package octo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultCloudURL = "https://app.octobrowser.net"

// CloudProfile is a profile as listed by the Octo cloud API.
type CloudProfile struct {
	UUID  string   `json:"uuid"`
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

// CloudClient reads the profile catalogue from the Octo cloud API.
type CloudClient struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

func NewCloudClient(baseURL, token string, logger *slog.Logger) *CloudClient {
	if baseURL == "" {
		baseURL = DefaultCloudURL
	}
	return &CloudClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

type cloudProfilesResponse struct {
	Success bool           `json:"success"`
	Error   string         `json:"error"`
	Data    []CloudProfile `json:"data"`
}

// TaggedProfiles lists the profiles carrying tag.
func (c *CloudClient) TaggedProfiles(ctx context.Context, tag string) ([]CloudProfile, error) {
	q := url.Values{
		"page_len":    {"100"},
		"fields":      {"title,tags"},
		"search_tags": {tag},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2/automation/profiles?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Octo-Api-Token", c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list tagged profiles: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !ok(resp.StatusCode) {
		return nil, fmt.Errorf("list tagged profiles %d: %s", resp.StatusCode, string(body))
	}

	var out cloudProfilesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode tagged profiles: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("list tagged profiles: %s", out.Error)
	}

	c.logger.Debug("listed tagged profiles", "tag", tag, "count", len(out.Data))
	return out.Data, nil
}

// ParserProfile is a scrape-capable profile and whether its browser is up.
type ParserProfile struct {
	UUID    string   `json:"uuid"`
	Title   string   `json:"title"`
	Tags    []string `json:"tags"`
	Running bool     `json:"running"`
}

// Directory joins the tagged cloud catalogue with the local running list.
type Directory struct {
	cloud *CloudClient
	local *Client
	tag   string
}

func NewDirectory(cloud *CloudClient, local *Client, tag string) *Directory {
	return &Directory{cloud: cloud, local: local, tag: tag}
}

// Profiles returns every tagged profile. If the local API is unreachable the
// profiles are returned with Running unset.
func (d *Directory) Profiles(ctx context.Context) ([]ParserProfile, error) {
	tagged, err := d.cloud.TaggedProfiles(ctx, d.tag)
	if err != nil {
		return nil, err
	}

	running := make(map[string]bool)
	if d.local != nil {
		live, err := d.local.RunningProfiles(ctx)
		if err != nil {
			d.cloud.logger.Warn("running profiles unavailable", "error", err)
		}
		for _, p := range live {
			running[p.UUID] = true
		}
	}

	out := make([]ParserProfile, 0, len(tagged))
	for _, p := range tagged {
		out = append(out, ParserProfile{UUID: p.UUID, Title: p.Title, Tags: p.Tags, Running: running[p.UUID]})
	}
	return out, nil
}
