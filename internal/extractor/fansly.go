package extractor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/MikeSquared-Agency/scribe/internal/message"
)

// Fansly renders messages in an Angular component tree; these selectors
// target its stable class names.
var fanslySelectors = Selectors{
	Container:  ".message-collection",
	Message:    ".message",
	Text:       ".message-text",
	Time:       ".message-timestamp",
	Sender:     ".message-sender",
	OwnerClass: "my-message",
	Login:      DefaultLoginMarkers,
}

type fanslyListing struct {
	Data     []FanslyMessage `json:"data"`
	Response json.RawMessage `json:"response"`
}

type fanslyEnvelope struct {
	Messages []FanslyMessage `json:"messages"`
}

type fanslyAccount struct {
	Response struct {
		Account struct {
			ID flexID `json:"id"`
		} `json:"account"`
	} `json:"response"`
}

type fansly struct {
	mu      sync.Mutex
	ownerID string
}

func newFansly(ownerID string) *fansly {
	return &fansly{ownerID: ownerID}
}

func (a *fansly) Platform() Platform   { return Fansly }
func (a *fansly) Selectors() Selectors { return fanslySelectors }
func (a *fansly) AtTopThreshold() int  { return 3 }

func (a *fansly) ScrollScript() string {
	return fmt.Sprintf(`() => {
	const c = document.querySelector(%s) || document.scrollingElement;
	if (!c) return {found: false, atTop: false};
	const before = c.scrollTop;
	c.scrollBy(0, -100000);
	return {found: true, atTop: before === 0};
}`, strconv.Quote(fanslySelectors.Container))
}

func (a *fansly) CountScript() string { return countScript(fanslySelectors) }
func (a *fansly) DOMScript() string   { return domScript(fanslySelectors) }

// OwnerID returns the logged-in account id, if known.
func (a *fansly) OwnerID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ownerID
}

func (a *fansly) MatchResponse(url, contentType string) bool {
	if !strings.Contains(url, "fansly.com/api/") || !isJSON(contentType) {
		return false
	}
	return strings.Contains(url, "message") || isAccountMe(url)
}

func isAccountMe(url string) bool {
	return strings.Contains(url, "/api/v1/account/me")
}

func (a *fansly) ParseResponse(url string, body []byte) ([]message.Candidate, error) {
	if isAccountMe(url) {
		var acct fanslyAccount
		if err := json.Unmarshal(body, &acct); err != nil {
			return nil, fmt.Errorf("decode fansly account: %w", err)
		}
		if id := string(acct.Response.Account.ID); id != "" {
			a.mu.Lock()
			a.ownerID = id
			a.mu.Unlock()
		}
		return nil, nil
	}

	var listing fanslyListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("decode fansly messages: %w", err)
	}
	msgs := listing.Data
	if len(msgs) == 0 && len(listing.Response) > 0 && listing.Response[0] == '{' {
		var env fanslyEnvelope
		if err := json.Unmarshal(listing.Response, &env); err != nil {
			return nil, fmt.Errorf("decode fansly envelope: %w", err)
		}
		msgs = env.Messages
	}
	return candidates(msgs, ownership{OwnerID: a.OwnerID()}), nil
}

func (a *fansly) FromDOM(nodes []DOMNode) []message.Candidate {
	return candidates(nodes, ownership{OwnerID: a.OwnerID()})
}
