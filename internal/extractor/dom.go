package extractor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/MikeSquared-Agency/scribe/internal/message"
)

// DefaultLoginMarkers are present on the sign-in pages of both platforms.
var DefaultLoginMarkers = []string{
	`input[type="email"]`,
	`input[type="password"]`,
	`button[type="submit"]`,
	`.login-form`,
	`#login`,
	`[data-testid="login"]`,
}

var (
	amountRe = regexp.MustCompile(`(?i)(?:\$\s?(\d+(?:[.,]\d{1,2})?)|(\d+(?:[.,]\d{1,2})?)\s?\$|USD\s?(\d+(?:[.,]\d{1,2})?))`)
	unpaidRe = regexp.MustCompile(`(?i)\b(?:not\s+paid|unpaid)\b`)
	paidRe   = regexp.MustCompile(`(?i)\bpaid\b`)

	inlineTimeRe = regexp.MustCompile(`(?i)(?:\b[a-z]{3}\s+\d{1,2},?\s*(?:\d{4},?\s*)?\d{1,2}:\d{2}(?:\s*[ap]\.?m\.?)?|\b(?:yesterday\s+)?\d{1,2}(?::\d{2})?\s*[ap]\.?m\.?|\b\d{1,2}:\d{2}\b)`)
)

// payment reads the paid marker and amount from a node's visible text.
func payment(fullText string) (bool, *float64) {
	if fullText == "" || unpaidRe.MatchString(fullText) || !paidRe.MatchString(fullText) {
		return false, nil
	}
	m := amountRe.FindStringSubmatch(fullText)
	if m == nil {
		return true, nil
	}
	for _, g := range m[1:] {
		if g == "" {
			continue
		}
		if v, err := strconv.ParseFloat(strings.Replace(g, ",", ".", 1), 64); err == nil {
			return true, &v
		}
	}
	return true, nil
}

// inlineTimestamp finds a time rendered next to the message body, for nodes
// whose dedicated time element is missing.
func inlineTimestamp(fullText, text string) string {
	rest := strings.Replace(message.NormalizeText(fullText), text, " ", 1)
	return strings.TrimSpace(inlineTimeRe.FindString(rest))
}

// StripHTML reduces an API text field to the plain text the page renders.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return message.NormalizeText(s)
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return message.NormalizeText(s)
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
		case html.ElementNode:
			if n.Data == "br" {
				sb.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && (n.Data == "p" || n.Data == "div") {
			sb.WriteByte(' ')
		}
	}
	walk(doc)
	return message.NormalizeText(sb.String())
}

// LooksLikeLoginURL reports whether the page was redirected to a sign-in URL.
func LooksLikeLoginURL(u string) bool {
	u = strings.ToLower(u)
	return strings.Contains(u, "login") || strings.Contains(u, "signin")
}

// LoginScript returns a script that reports whether any login marker exists.
func LoginScript(sel Selectors) string {
	return fmt.Sprintf(`() => %s.some(s => { try { return document.querySelector(s) !== null; } catch (e) { return false; } })`, jsList(sel.Login))
}

func countScript(sel Selectors) string {
	return fmt.Sprintf(`() => document.querySelectorAll(%s).length`, strconv.Quote(sel.Message))
}

func domScript(sel Selectors) string {
	return fmt.Sprintf(`() => Array.from(document.querySelectorAll(%s)).map(el => {
	const q = s => { const n = s ? el.querySelector(s) : null; return n ? n.textContent.trim() : ''; };
	return {
		text: q(%s),
		fromMe: el.classList.contains(%s),
		time: q(%s),
		senderHint: q(%s),
		fullText: (el.innerText || el.textContent || '').trim(),
	};
})`, strconv.Quote(sel.Message), strconv.Quote(sel.Text), strconv.Quote(sel.OwnerClass), strconv.Quote(sel.Time), strconv.Quote(sel.Sender))
}

func jsList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = strconv.Quote(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
