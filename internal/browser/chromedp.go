package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

type chromedpPage struct {
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	events      subscribers
	logger      *slog.Logger
}

// ConnectChromedp attaches to endpoint with chromedp and opens a new tab.
func ConnectChromedp(ctx context.Context, endpoint string, logger *slog.Logger) (Page, error) {
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(context.WithoutCancel(ctx), endpoint, chromedp.NoModifyURL)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	p := &chromedpPage{
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		logger:      logger,
	}
	chromedp.ListenTarget(tabCtx, p.onEvent)

	// The first Run allocates the tab and binds it to the context it is given,
	// so it must run on tabCtx itself rather than a shorter-lived child.
	stop := context.AfterFunc(ctx, cancelTab)
	err := chromedp.Run(tabCtx, network.Enable())
	stop()
	if err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	return p, nil
}

func (p *chromedpPage) onEvent(ev any) {
	switch ev := ev.(type) {
	case *network.EventResponseReceived:
		if ev.Response == nil {
			return
		}
		headers := make(map[string]string, len(ev.Response.Headers))
		for k, v := range ev.Response.Headers {
			headers[k] = fmt.Sprint(v)
		}
		contentType := ev.Response.MimeType
		if ct := headerValue(headers, "content-type"); ct != "" {
			contentType = ct
		}
		p.events.received(string(ev.RequestID), ResponseMeta{
			URL:         ev.Response.URL,
			ContentType: contentType,
			Status:      int(ev.Response.Status),
		}, headers)
	case *network.EventLoadingFinished:
		id := ev.RequestID
		p.events.finished(string(id), func() ([]byte, error) {
			var body []byte
			err := chromedp.Run(p.tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
				var err error
				body, err = network.GetResponseBody(id).Do(ctx)
				return err
			}))
			return body, err
		}, p.logger)
	case *network.EventLoadingFailed:
		p.events.failed(string(ev.RequestID))
	}
}

// run executes actions in the tab, bounded by ctx and an optional timeout.
func (p *chromedpPage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (p *chromedpPage) Navigate(ctx context.Context, url string, wait WaitUntil, timeout time.Duration) error {
	if wait == WaitDOMContentLoaded {
		if err := p.navigateDOMContent(ctx, url, timeout); err != nil {
			return fmt.Errorf("navigate: %w", err)
		}
		return nil
	}
	if err := p.run(ctx, timeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

// navigateDOMContent navigates without waiting for subresources.
func (p *chromedpPage) navigateDOMContent(ctx context.Context, url string, timeout time.Duration) error {
	listenCtx, stopListening := context.WithCancel(p.tabCtx)
	defer stopListening()

	fired := make(chan struct{}, 1)
	chromedp.ListenTarget(listenCtx, func(ev any) {
		if _, ok := ev.(*cdppage.EventDomContentEventFired); ok {
			select {
			case fired <- struct{}{}:
			default:
			}
		}
	})

	err := p.run(ctx, timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var res cdppage.NavigateReturns
		if err := cdp.Execute(ctx, cdppage.CommandNavigate, cdppage.Navigate(url), &res); err != nil {
			return err
		}
		if res.ErrorText != "" {
			return errors.New(res.ErrorText)
		}
		return nil
	}))
	if err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-fired:
		return nil
	case <-timer.C:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *chromedpPage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if err := p.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait visible %s: %w", selector, err)
	}
	return nil
}

func (p *chromedpPage) Evaluate(ctx context.Context, js string, out any) error {
	var raw []byte
	err := p.run(ctx, 0, chromedp.Evaluate("("+js+")()", &raw, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithAwaitPromise(true)
	}))
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func (p *chromedpPage) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, 0, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("location: %w", err)
	}
	return u, nil
}

func (p *chromedpPage) Subscribe(match func(ResponseMeta) bool, handle func(Response)) {
	p.events.add(match, handle)
}

// Close closes the tab. A remote allocator never closes the browser itself.
func (p *chromedpPage) Close() error {
	p.cancelTab()
	p.cancelAlloc()
	p.events.wait()
	return nil
}
