// Package render turns item bodies into plain text and produces the
// Markdown, HTML and RSS exports.
package render

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicy = bluemonday.StrictPolicy()

	paragraphBreak = strings.NewReplacer(
		"<p>", "\n\n",
		"</p>", "",
		"<br>", "\n",
		"<br/>", "\n",
		"<br />", "\n",
	)

	blankLines = regexp.MustCompile(`\n{3,}`)
)

// Text converts item HTML (comment and story text) into plain text.
// Paragraphs become blank-line separated, tags are dropped and entities
// decoded.
func Text(s string) string {
	if s == "" {
		return ""
	}

	s = paragraphBreak.Replace(s)
	s = strictPolicy.Sanitize(s)
	s = html.UnescapeString(s)
	s = blankLines.ReplaceAllString(s, "\n\n")

	return strings.TrimSpace(s)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// HostDomain returns the host of rawURL without a leading "www.", or ""
// when the URL has no host.
func HostDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// TimeAgo formats the distance between t and now as 5m, 2h, 3d...
func TimeAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	case d < 365*24*time.Hour:
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	default:
		return fmt.Sprintf("%dy", int(d/(365*24*time.Hour)))
	}
}
