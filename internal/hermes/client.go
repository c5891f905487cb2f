package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectScrapeRequested asks any scribe instance to start a scrape.
	SubjectScrapeRequested = "scribe.scrape.requested"
	// SubjectScrapeCancel asks the instance running a scrape to cancel it.
	SubjectScrapeCancel = "scribe.scrape.cancel"
	// SubjectSessionFinished is published once per finished scrape.
	SubjectSessionFinished = "scribe.session.finished"
)

// ScrapeRequested is the payload of SubjectScrapeRequested.
type ScrapeRequested struct {
	ProfileID  string `json:"profile_id"`
	ChatURL    string `json:"chat_url"`
	UpdateOnly bool   `json:"update_only"`
}

// ScrapeCancel is the payload of SubjectScrapeCancel.
type ScrapeCancel struct {
	Handle string `json:"handle"`
}

// SessionFinished is the payload of SubjectSessionFinished.
type SessionFinished struct {
	Handle     string    `json:"handle"`
	ProfileID  string    `json:"profile_id"`
	ChatURL    string    `json:"chat_url"`
	Platform   string    `json:"platform"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Collected  int       `json:"collected"`
	Inserted   int       `json:"inserted"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Scrolls    int       `json:"scrolls"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("scribe"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// QueueSubscribe delivers each message to one member of queue, so a request
// starts a single scrape however many instances are running.
func (c *Client) QueueSubscribe(subject, queue string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("queue subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject, "queue", queue)
	return nil
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
