// Package aihttp holds the HTTP plumbing shared by the LLM providers.
package aihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
)

// maxErrorBody bounds how much of a failed response is quoted in errors.
const maxErrorBody = 512

// PostJSON marshals body, posts it to url and decodes a 2xx reply into out.
// Failures are mapped onto the models.Err* sentinels.
func PostJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return ClassifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return StatusError(resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return ClassifyError(ctx.Err())
		}
		return fmt.Errorf("%w: decoding response: %v", models.ErrInvalidResponse, err)
	}
	return nil
}

// StatusError maps an HTTP status to a sentinel. Rate limiting and server
// errors are transient, everything else is not.
func StatusError(code int, body []byte) error {
	switch {
	case code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("%w: status %d: %s", models.ErrProviderUnavailable, code, bytes.TrimSpace(body))
	case code == http.StatusRequestTimeout:
		return fmt.Errorf("%w: status %d", models.ErrInferenceTimeout, code)
	default:
		return fmt.Errorf("%w: status %d: %s", models.ErrInvalidResponse, code, bytes.TrimSpace(body))
	}
}

// ClassifyError maps transport-level errors to sentinel errors.
func ClassifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrInferenceTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", models.ErrInferenceTimeout, err)
	}
	return fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
}
