package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

type rodPage struct {
	browser *rod.Browser
	page    *rod.Page
	cancel  context.CancelFunc
	events  subscribers
	logger  *slog.Logger
}

// ConnectRod attaches to endpoint with go-rod and opens a blank tab.
func ConnectRod(ctx context.Context, endpoint string, logger *slog.Logger) (Page, error) {
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	b := rod.New().ControlURL(endpoint).Context(connCtx)
	if err := b.Connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open page: %w", err)
	}
	page = page.Context(connCtx)

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		_ = page.Close()
		cancel()
		return nil, fmt.Errorf("enable network domain: %w", err)
	}

	p := &rodPage{browser: b, page: page, cancel: cancel, logger: logger}
	p.listen()
	return p, nil
}

func (p *rodPage) listen() {
	wait := p.page.EachEvent(
		func(ev *proto.NetworkResponseReceived) {
			if ev.Response == nil {
				return
			}
			headers := make(map[string]string, len(ev.Response.Headers))
			for k, v := range ev.Response.Headers {
				headers[k] = v.Str()
			}
			contentType := ev.Response.MIMEType
			if ct := headerValue(headers, "content-type"); ct != "" {
				contentType = ct
			}
			p.events.received(string(ev.RequestID), ResponseMeta{
				URL:         ev.Response.URL,
				ContentType: contentType,
				Status:      ev.Response.Status,
			}, headers)
		},
		func(ev *proto.NetworkLoadingFinished) {
			id := ev.RequestID
			p.events.finished(string(id), func() ([]byte, error) {
				res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(p.page)
				if err != nil {
					return nil, err
				}
				if res.Base64Encoded {
					return base64.StdEncoding.DecodeString(res.Body)
				}
				return []byte(res.Body), nil
			}, p.logger)
		},
		func(ev *proto.NetworkLoadingFailed) {
			p.events.failed(string(ev.RequestID))
		},
	)
	p.events.wg.Add(1)
	go func() {
		defer p.events.wg.Done()
		wait()
	}()
}

func (p *rodPage) Navigate(ctx context.Context, url string, wait WaitUntil, timeout time.Duration) error {
	page := p.page.Context(ctx).Timeout(timeout)
	if wait == WaitDOMContentLoaded {
		waitDOM := page.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
		if err := page.Navigate(url); err != nil {
			return fmt.Errorf("navigate: %w", err)
		}
		waitDOM()
		return ctxErr(ctx, page)
	}
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for load: %w", err)
	}
	return nil
}

// ctxErr reports a timeout that WaitNavigation swallows.
func ctxErr(ctx context.Context, page *rod.Page) error {
	if err := page.GetContext().Err(); err != nil {
		return fmt.Errorf("wait for domcontentloaded: %w", err)
	}
	return ctx.Err()
}

func (p *rodPage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := p.page.Context(ctx).Timeout(timeout).Element(selector)
	if err != nil {
		return fmt.Errorf("find %s: %w", selector, err)
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("wait visible %s: %w", selector, err)
	}
	return nil
}

func (p *rodPage) Evaluate(ctx context.Context, js string, out any) error {
	res, err := p.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if out == nil {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

func (p *rodPage) Subscribe(match func(ResponseMeta) bool, handle func(Response)) {
	p.events.add(match, handle)
}

// Close closes the tab and drops the websocket. The browser belongs to the
// session manager and is left running.
func (p *rodPage) Close() error {
	err := p.page.Close()
	p.cancel()
	p.events.wait()
	if err != nil {
		return fmt.Errorf("close page: %w", err)
	}
	return nil
}
