package extractor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/scribe/internal/message"
)

var onlyFansSelectors = Selectors{
	Container:  ".b-chat__messages",
	Message:    ".b-chat__message",
	Text:       ".b-chat__message__text",
	Time:       ".b-chat__message__time span",
	Sender:     ".g-avatar__placeholder",
	OwnerClass: "m-from-me",
	Login:      DefaultLoginMarkers,
}

var onlyFansChatRe = regexp.MustCompile(`/my/chats/chat/(\d+)`)

type onlyFansListing struct {
	List    []OnlyFansMessage `json:"list"`
	HasMore bool              `json:"hasMore"`
}

type onlyFans struct {
	own ownership
}

func newOnlyFans(chatURL string) *onlyFans {
	a := &onlyFans{}
	if m := onlyFansChatRe.FindStringSubmatch(chatURL); m != nil {
		a.own.CounterpartID = m[1]
	}
	return a
}

func (a *onlyFans) Platform() Platform   { return OnlyFans }
func (a *onlyFans) Selectors() Selectors { return onlyFansSelectors }
func (a *onlyFans) AtTopThreshold() int  { return 3 }

func (a *onlyFans) ScrollScript() string {
	return fmt.Sprintf(`() => {
	const c = document.querySelector(%s);
	if (!c) return {found: false, atTop: false};
	const before = c.scrollTop;
	c.scrollTop = 0;
	return {found: true, atTop: before === 0};
}`, strconv.Quote(onlyFansSelectors.Container))
}

func (a *onlyFans) CountScript() string { return countScript(onlyFansSelectors) }
func (a *onlyFans) DOMScript() string   { return domScript(onlyFansSelectors) }

func (a *onlyFans) MatchResponse(url, contentType string) bool {
	return strings.Contains(url, "onlyfans.com/api2/v2/chats/") &&
		strings.Contains(url, "/messages") &&
		isJSON(contentType)
}

func (a *onlyFans) ParseResponse(_ string, body []byte) ([]message.Candidate, error) {
	var listing onlyFansListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("decode onlyfans messages: %w", err)
	}
	return candidates(listing.List, a.own), nil
}

func (a *onlyFans) FromDOM(nodes []DOMNode) []message.Candidate {
	return candidates(nodes, a.own)
}
