// Package extractor holds the per-platform knowledge needed to pull chat
// messages out of intercepted API responses and the rendered page.
package extractor

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/MikeSquared-Agency/scribe/internal/message"
)

// ErrUnsupportedPlatform is returned for chat URLs outside the known platforms.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Platform names a supported chat platform.
type Platform string

const (
	OnlyFans Platform = "onlyfans"
	Fansly   Platform = "fansly"
)

// Detect returns the platform serving chatURL.
func Detect(chatURL string) (Platform, error) {
	u, err := url.Parse(chatURL)
	if err != nil {
		return "", fmt.Errorf("parse chat url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "onlyfans.com" || strings.HasSuffix(host, ".onlyfans.com"):
		return OnlyFans, nil
	case host == "fansly.com" || strings.HasSuffix(host, ".fansly.com"):
		return Fansly, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, host)
}

// Selectors locate chat elements in a platform's rendered page.
type Selectors struct {
	Container  string
	Message    string
	Text       string
	Time       string
	Sender     string
	OwnerClass string
	// Login lists elements that only appear on a sign-in page.
	Login []string
}

// ScrollReport is returned by a platform scroll script.
type ScrollReport struct {
	Found bool `json:"found"`
	AtTop bool `json:"atTop"`
}

// Adapter is the per-session view of one platform. Implementations may learn
// state from intercepted responses, so they are safe for concurrent use.
type Adapter interface {
	Platform() Platform
	Selectors() Selectors

	// AtTopThreshold is the no-change streak that ends scrolling once the
	// scroll script reports the container already at its top.
	AtTopThreshold() int

	ScrollScript() string
	CountScript() string
	DOMScript() string

	// MatchResponse reports whether an intercepted response is worth reading.
	MatchResponse(url, contentType string) bool
	// ParseResponse maps a matched response body to candidates. Bodies that
	// carry no messages but teach the adapter something return no candidates.
	ParseResponse(url string, body []byte) ([]message.Candidate, error)
	// FromDOM maps evaluated DOM nodes to candidates.
	FromDOM(nodes []DOMNode) []message.Candidate
}

// Options carries configuration the adapters cannot learn from the page.
type Options struct {
	FanslyOwnerID string
}

// New returns the adapter for chatURL.
func New(chatURL string, opts Options) (Adapter, error) {
	p, err := Detect(chatURL)
	if err != nil {
		return nil, err
	}
	switch p {
	case OnlyFans:
		return newOnlyFans(chatURL), nil
	case Fansly:
		return newFansly(opts.FanslyOwnerID), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, p)
}

func isJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/json")
}
