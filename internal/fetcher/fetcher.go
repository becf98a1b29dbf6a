// Package fetcher turns a web page into a primary text for annotation.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/pbaille/mae/internal/apperr"
	"github.com/pbaille/mae/internal/logging"
)

// Fetcher retrieves documents over HTTP
type Fetcher struct {
	Client   *http.Client
	MaxBytes int64
}

// New creates a Fetcher with the given timeout and body size limit
func New(timeout time.Duration, maxBytes int64) *Fetcher {
	return &Fetcher{
		Client:   &http.Client{Timeout: timeout},
		MaxBytes: maxBytes,
	}
}

// Fetch retrieves URL content and extracts readable text. Plain text bodies
// are returned as they are; HTML is reduced to one line per block element.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	// Validate URL
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", apperr.NewValidation("url", err.Error())
	}
	if u.Scheme == "" {
		u, err = url.Parse("https://" + strings.TrimSpace(rawURL))
		if err != nil {
			return "", apperr.NewValidation("url", err.Error())
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", apperr.NewValidation("url", "unsupported scheme: "+u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "mae/1.0 (annotation)")

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", apperr.NewIO("fetch", u.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperr.NewIO("fetch", u.String(), fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status))
	}

	// Read body with size limit
	limited := io.LimitReader(resp.Body, f.MaxBytes)
	body, err := io.ReadAll(limited)
	if err != nil {
		return "", apperr.NewIO("read body", u.String(), err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	var text string
	if mediaType == "text/plain" {
		text = strings.TrimSpace(string(body))
	} else {
		text = ExtractText(string(body))
	}
	if text == "" {
		return "", apperr.NewValidation("content", "no text content found at "+u.String())
	}
	logging.Debug("fetched primary text", "url", u.String(), "bytes", len(body), "type", mediaType)
	return text, nil
}

// IsURL checks if a string looks like a URL
func IsURL(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "http://") ||
		strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "www.")
}

// Tags to skip (non-content)
var skipTags = map[string]bool{
	"script": true, "style": true, "nav": true,
	"header": true, "footer": true, "aside": true,
	"noscript": true, "iframe": true, "head": true,
}

var blockTags = map[string]bool{
	"p": true, "div": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "li": true, "br": true,
	"tr": true, "blockquote": true, "pre": true, "article": true, "section": true,
}

// ExtractText parses HTML and returns its readable text, one line per block
// element with whitespace collapsed inside lines
func ExtractText(htmlContent string) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			// source line breaks are not text line breaks
			sb.WriteString(strings.Join(strings.Fields(n.Data), " "))
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			sb.WriteString("\n")
		}
	}
	extract(doc)

	var lines []string
	for _, line := range strings.Split(sb.String(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
