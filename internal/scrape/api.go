package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// APIClient talks to a hosted extract/search service authenticated with a
// bearer key.
type APIClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewAPIClient creates a new APIClient.
func NewAPIClient(baseURL, apiKey string, timeout time.Duration) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type extractRequest struct {
	URLs []string `json:"urls"`
}

type extractResponse struct {
	Results []struct {
		URL        string   `json:"url"`
		Title      string   `json:"title"`
		RawContent string   `json:"raw_content"`
		Images     []string `json:"images"`
	} `json:"results"`
}

type searchRequest struct {
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	IncludeImages bool   `json:"include_images"`
}

type searchResponse struct {
	Results []struct {
		Title         string `json:"title"`
		URL           string `json:"url"`
		Content       string `json:"content"`
		PublishedDate string `json:"published_date"`
	} `json:"results"`
	Images []string `json:"images"`
}

func (c *APIClient) Extract(ctx context.Context, pageURL string) ([]Article, error) {
	var resp extractResponse
	if err := c.post(ctx, "/extract", extractRequest{URLs: []string{pageURL}}, &resp); err != nil {
		return nil, fmt.Errorf("extract %s: %w", pageURL, err)
	}

	articles := make([]Article, 0, len(resp.Results))
	for _, r := range resp.Results {
		a := Article{URL: r.URL, Title: r.Title, Content: r.RawContent}
		if len(r.Images) > 0 {
			a.ImageURL = r.Images[0]
		}
		articles = append(articles, a)
	}
	articles = clean(articles)
	if len(articles) == 0 {
		return nil, fmt.Errorf("extract %s: %w", pageURL, ErrNoContent)
	}
	return articles, nil
}

func (c *APIClient) Search(ctx context.Context, query string, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 5
	}
	var resp searchResponse
	if err := c.post(ctx, "/search", searchRequest{Query: query, MaxResults: limit, IncludeImages: true}, &resp); err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	articles := make([]Article, 0, len(resp.Results))
	for i, r := range resp.Results {
		a := Article{
			Title:       r.Title,
			Description: r.Content,
			Content:     r.Content,
			URL:         r.URL,
			PublishedAt: parseTime(r.PublishedDate),
		}
		if i < len(resp.Images) {
			a.ImageURL = resp.Images[i]
		}
		articles = append(articles, a)
	}
	articles = clean(articles)
	if len(articles) > limit {
		articles = articles[:limit]
	}
	return articles, nil
}

func (c *APIClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrRejected, err)
	}
	return nil
}

var _ Client = (*APIClient)(nil)
