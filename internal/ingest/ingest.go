// Package ingest turns a public repository into a text digest by running the
// configured helper command.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/runner"
)

// ErrIngestionFailed covers every way the helper can fail to produce a digest.
var ErrIngestionFailed = errors.New("repository ingestion failed")

// DefaultTimeout bounds one helper run.
const DefaultTimeout = 2 * time.Minute

// Digest is the helper's view of a repository.
type Digest struct {
	Summary string
	Tree    string
	Content string
}

// output is the JSON object the helper prints on stdout, on success and on failure.
type output struct {
	Success bool   `json:"success"`
	Summary string `json:"summary"`
	Tree    string `json:"tree"`
	Content string `json:"content"`
	Error   string `json:"error"`
}

// Client runs the helper. The repository URL is passed on stdin so it never
// reaches an argument vector.
type Client struct {
	runner  runner.Runner
	command string
	args    []string
	timeout time.Duration
}

// NewClient creates a new Client. The helper is invoked as
// command args... --stdin.
func NewClient(r runner.Runner, command string, args []string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		runner:  r,
		command: command,
		args:    append(append([]string(nil), args...), "--stdin"),
		timeout: timeout,
	}
}

// Ingest produces the digest for repoURL. Failures wrap ErrIngestionFailed and,
// where one exists, the underlying runner error.
func (c *Client) Ingest(ctx context.Context, repoURL string) (*Digest, error) {
	res, runErr := c.runner.Run(ctx, runner.Command{
		Name:    c.command,
		Args:    c.args,
		Stdin:   []byte(repoURL + "\n"),
		Timeout: c.timeout,
	})

	var out output
	var decodeErr error
	if res != nil {
		decodeErr = json.Unmarshal(bytes.TrimSpace(lastLine(res.Stdout)), &out)
	}

	if runErr != nil {
		// A failing helper still prints its JSON error body.
		if decodeErr == nil && out.Error != "" {
			return nil, fmt.Errorf("%w: %s: %w", ErrIngestionFailed, out.Error, runErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrIngestionFailed, runErr)
	}
	if decodeErr != nil {
		slog.Warn("ingest helper printed malformed output", "error", decodeErr, "bytes", len(res.Stdout))
		return nil, fmt.Errorf("%w: malformed helper output: %v", ErrIngestionFailed, decodeErr)
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "helper reported failure"
		}
		return nil, fmt.Errorf("%w: %s", ErrIngestionFailed, msg)
	}
	if strings.TrimSpace(out.Content) == "" && strings.TrimSpace(out.Tree) == "" {
		return nil, fmt.Errorf("%w: repository digest is empty", ErrIngestionFailed)
	}

	return &Digest{Summary: out.Summary, Tree: out.Tree, Content: out.Content}, nil
}

// lastLine returns the final non-empty line; helpers may log before the JSON.
func lastLine(b []byte) []byte {
	b = bytes.TrimRight(b, "\r\n\t ")
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		return b[i+1:]
	}
	return b
}
