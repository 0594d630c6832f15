// Package extract pulls the main text out of archived HTML pages.
package extract

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"

	"github.com/JakeFAU/ccextract/internal/pipeline"
)

// Readability extracts article text with go-readability.
type Readability struct {
	// MinLength drops extractions shorter than this many bytes.
	MinLength int
}

var _ pipeline.Extractor = Readability{}

// Extract returns the readable text of an HTML payload, or "" when the payload
// is not markup or holds no readable content.
func (r Readability) Extract(payload []byte, pageURL string) (string, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || !isMarkup(payload) {
		return "", nil
	}

	parsed, err := url.Parse(pageURL)
	if err != nil || pageURL == "" {
		parsed = &url.URL{}
	}

	article, err := readability.FromReader(bytes.NewReader(payload), parsed)
	if err != nil {
		return "", fmt.Errorf("readability %s: %w", pageURL, err)
	}
	text := strings.TrimSpace(article.TextContent)
	if len(text) < r.MinLength {
		return "", nil
	}
	return text, nil
}

func isMarkup(payload []byte) bool {
	ct := http.DetectContentType(payload)
	return strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "text/xml") || strings.HasPrefix(ct, "text/plain")
}
