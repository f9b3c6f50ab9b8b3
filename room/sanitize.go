package room

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Everything inbound renders to a plain-text surface, so one strict policy
// covers both names and message bodies.
var strictPolicy = bluemonday.StrictPolicy()

func sanitizeName(name string) string {
	decoded := html.UnescapeString(name)
	out := strings.TrimSpace(strictPolicy.Sanitize(decoded))
	if len(out) > 50 {
		out = out[:50]
	}
	if out == "" {
		out = "anon"
	}
	return out
}

func sanitizeText(text string) string {
	decoded := html.UnescapeString(text)
	return strings.TrimSpace(strictPolicy.Sanitize(decoded))
}
