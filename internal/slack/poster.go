// Package slack posts scrape alerts to a Slack channel.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/scrape"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// SessionFinished alerts on failed scrapes. Successful and cancelled scrapes
// are not posted. It is registered with scrape.Service.OnFinish.
func (p *Poster) SessionFinished(rep scrape.Report) {
	if rep.Result.Outcome != scrape.OutcomeError {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := p.PostSessionAlert(ctx, rep); err != nil {
		p.logger.Error("slack alert failed", "session", rep.Handle, "error", err)
	}
}

// PostSessionAlert posts a scrape failure and returns the message timestamp.
func (p *Poster) PostSessionAlert(ctx context.Context, rep scrape.Report) (string, error) {
	text := formatAlert(rep)

	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "session " + rep.Handle,
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}

	p.logger.Info("posted scrape alert to slack", "ts", slackResp.TS, "session", rep.Handle)
	return slackResp.TS, nil
}

func formatAlert(rep scrape.Report) string {
	var sb strings.Builder
	res := rep.Result

	fmt.Fprintf(&sb, "*Scrape failed:* %s\n", res.Reason)
	fmt.Fprintf(&sb, "*Profile:* %s\n", rep.Request.ProfileID)
	fmt.Fprintf(&sb, "*Chat:* %s (%s)\n", rep.Request.ChatURL, rep.Platform)
	if res.Stats.Collected > 0 || res.Stats.Scrolls > 0 {
		fmt.Fprintf(&sb, "Collected %d, inserted %d after %d scrolls\n", res.Stats.Collected, res.Stats.Inserted, res.Stats.Scrolls)
	}
	if res.Reason == scrape.ErrLoginWall.Error() {
		sb.WriteString("_The profile needs to be logged in again._")
	}
	return strings.TrimRight(sb.String(), "\n")
}
