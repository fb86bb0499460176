package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	maxPageBytes    = 5 << 20
	maxContentRunes = 50000
	userAgent       = "Mozilla/5.0 (compatible; studyjobs/1.0)"
)

// DirectClient fetches pages itself and pulls readable text out of the HTML.
// It is used when no scrape service key is configured.
type DirectClient struct {
	client *http.Client
}

func NewDirectClient(timeout time.Duration) *DirectClient {
	return &DirectClient{client: &http.Client{Timeout: timeout}}
}

func (c *DirectClient) Extract(ctx context.Context, pageURL string) ([]Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w: %v", pageURL, ErrRejected, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", pageURL, classifyError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extract %s: %w", pageURL, statusError(resp.StatusCode))
	}

	a, err := parseArticle(io.LimitReader(resp.Body, maxPageBytes), resp.Request.URL)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", pageURL, err)
	}
	articles := clean([]Article{a})
	if len(articles) == 0 || articles[0].Content == "" {
		return nil, fmt.Errorf("extract %s: %w", pageURL, ErrNoContent)
	}
	return articles, nil
}

func (c *DirectClient) Search(_ context.Context, _ string, _ int) ([]Article, error) {
	return nil, ErrSearchUnavailable
}

var _ Client = (*DirectClient)(nil)

// skipped subtrees never contribute body text.
var skipped = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Nav: true,
	atom.Footer: true, atom.Header: true, atom.Aside: true, atom.Form: true,
	atom.Svg: true, atom.Iframe: true,
}

// textBlocks are the elements whose text becomes a paragraph of content.
var textBlocks = map[atom.Atom]bool{
	atom.P: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.Li: true, atom.Blockquote: true, atom.Pre: true, atom.Figcaption: true,
}

func parseArticle(r io.Reader, base *url.URL) (Article, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Article{}, fmt.Errorf("%w: parse html: %v", ErrNoContent, err)
	}

	a := Article{URL: base.String()}
	var paragraphs []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case skipped[n.DataAtom]:
				return
			case n.DataAtom == atom.Title && a.Title == "":
				a.Title = collapse(textOf(n))
				return
			case n.DataAtom == atom.Meta:
				applyMeta(&a, n, base)
				return
			case textBlocks[n.DataAtom]:
				if t := collapse(textOf(n)); t != "" {
					paragraphs = append(paragraphs, t)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	a.Content = truncateRunes(strings.Join(paragraphs, "\n\n"), maxContentRunes)
	if a.Description == "" && len(paragraphs) > 0 {
		a.Description = truncateRunes(paragraphs[0], 300)
	}
	return a, nil
}

func applyMeta(a *Article, n *html.Node, base *url.URL) {
	var key, content string
	for _, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "name", "property":
			key = strings.ToLower(attr.Val)
		case "content":
			content = strings.TrimSpace(attr.Val)
		}
	}
	if content == "" {
		return
	}
	switch key {
	case "og:title":
		a.Title = content
	case "description", "og:description":
		if a.Description == "" {
			a.Description = content
		}
	case "og:image":
		if u, err := base.Parse(content); err == nil {
			a.ImageURL = u.String()
		}
	case "og:site_name":
		a.Source = content
	case "article:published_time":
		a.PublishedAt = parseTime(content)
	}
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
