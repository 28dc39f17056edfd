package content

import (
	"bytes"
	"errors"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	policy  = bluemonday.UGCPolicy()
	idRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

	markdown = goldmark.New(
		goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
	)
)

// Sanitize removes unsafe HTML from the input string using the UGC policy.
// The dev backend runs every inbound message through it before fan-out.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Render converts message markdown to HTML that is safe to embed.
// Raw HTML in the source is dropped by goldmark; the output still goes
// through the sanitizer so that links cannot carry script URLs.
func Render(input string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(policy.Sanitize(buf.String())), nil
}

// Preview flattens text to a single line of at most limit runes, adding an
// ellipsis when it was cut.
func Preview(input string, limit int) string {
	flat := strings.Join(strings.Fields(input), " ")
	runes := []rune(flat)
	if limit <= 0 || len(runes) <= limit {
		return flat
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}

// ValidateID checks that an identifier used in a URL path contains only
// alphanumerics, dot, dash or underscore and is not empty.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}
	if !idRegex.MatchString(id) {
		return errors.New("id contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}
