// Package scrape extracts readable articles from web pages and searches for
// related material.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrUnavailable is a transient failure of the remote service.
	ErrUnavailable = errors.New("scrape service unavailable")
	// ErrNoContent means the page or query yielded nothing usable.
	ErrNoContent = errors.New("no usable content")
	// ErrRejected means the service refused the request.
	ErrRejected = errors.New("scrape request rejected")
	// ErrSearchUnavailable is returned by clients that cannot search.
	ErrSearchUnavailable = errors.New("search not available")
)

// Article is one extracted document.
type Article struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Content     string     `json:"content"`
	URL         string     `json:"url"`
	Source      string     `json:"source,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Client is implemented by APIClient and DirectClient.
type Client interface {
	Extract(ctx context.Context, pageURL string) ([]Article, error)
	Search(ctx context.Context, query string, limit int) ([]Article, error)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// clean drops malformed entries and duplicate URLs, keeping first occurrences.
func clean(in []Article) []Article {
	seen := make(map[string]bool, len(in))
	out := make([]Article, 0, len(in))
	for _, a := range in {
		a.URL = strings.TrimSpace(a.URL)
		a.Title = strings.TrimSpace(a.Title)
		a.Content = strings.TrimSpace(a.Content)
		if a.URL == "" || (a.Title == "" && a.Content == "") {
			continue
		}
		u, err := url.Parse(a.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		if seen[a.URL] {
			continue
		}
		seen[a.URL] = true
		if a.Source == "" {
			a.Source = strings.TrimPrefix(u.Hostname(), "www.")
		}
		out = append(out, a)
	}
	return out
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: timeout: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func statusError(code int) error {
	if code == 429 || code >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, code)
	}
	return fmt.Errorf("%w: status %d", ErrRejected, code)
}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, time.RFC1123Z, time.RFC1123, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
