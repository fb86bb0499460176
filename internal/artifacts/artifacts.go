// Package artifacts manages the per-job scratch directories pipelines write
// intermediate files into.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const attemptPrefix = "attempt-"

var (
	ErrNotFound    = errors.New("artifact not found")
	ErrInvalidPath = errors.New("path escapes artifact directory")
)

// Store owns a root directory holding one subdirectory per job.
type Store struct {
	root string
}

// NewStore creates the root directory if needed.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("artifact root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string { return s.root }

// Acquire returns an empty directory for one attempt of jobID at
// <root>/<jobID>/attempt-<n>. Directories of earlier attempts are removed;
// those of later attempts belong to a newer delivery and are left alone.
func (s *Store) Acquire(jobID string, attempt int) (*Handle, error) {
	jobDir, err := s.dirFor(jobID)
	if err != nil {
		return nil, err
	}
	if attempt < 1 {
		return nil, fmt.Errorf("%w: attempt %d", ErrInvalidPath, attempt)
	}
	entries, err := os.ReadDir(jobDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read artifact dir for %s: %w", jobID, err)
	}
	for _, e := range entries {
		n, ok := parseAttemptDir(e.Name())
		if ok && n > attempt {
			continue
		}
		if err := os.RemoveAll(filepath.Join(jobDir, e.Name())); err != nil {
			return nil, fmt.Errorf("clear artifact dir for %s: %w", jobID, err)
		}
	}

	dir := filepath.Join(jobDir, attemptDir(attempt))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir for %s: %w", jobID, err)
	}
	return &Handle{store: s, jobID: jobID, attempt: attempt, dir: dir}, nil
}

// Release deletes every attempt directory of jobID. Missing directories are
// not an error.
func (s *Store) Release(jobID string) error {
	dir, err := s.dirFor(jobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("release artifact dir for %s: %w", jobID, err)
	}
	return nil
}

func attemptDir(n int) string { return attemptPrefix + strconv.Itoa(n) }

func parseAttemptDir(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, attemptPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	return n, err == nil && n > 0
}

// Sweep releases every job directory for which keep returns false and
// returns the ids it removed. Non-directory entries under the root are left alone.
func (s *Store) Sweep(ctx context.Context, keep func(jobID string) bool) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read artifact root: %w", err)
	}

	var removed []string
	var errs []error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !e.IsDir() || keep(e.Name()) {
			continue
		}
		if err := s.Release(e.Name()); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, e.Name())
	}
	return removed, errors.Join(errs...)
}

func (s *Store) dirFor(jobID string) (string, error) {
	if jobID == "" || jobID == "." || jobID == ".." || strings.ContainsAny(jobID, `/\`) {
		return "", fmt.Errorf("%w: job id %q", ErrInvalidPath, jobID)
	}
	return filepath.Join(s.root, jobID), nil
}

// Handle is the directory of one job attempt.
type Handle struct {
	store   *Store
	jobID   string
	attempt int
	dir     string
}

// Dir returns the absolute directory of the handle.
func (h *Handle) Dir() string { return h.dir }

// Attempt returns the delivery number the handle was acquired for.
func (h *Handle) Attempt() int { return h.attempt }

// Path joins elems under the handle directory. It rejects results that
// would land outside of it.
func (h *Handle) Path(elems ...string) (string, error) {
	p := filepath.Join(append([]string{h.dir}, elems...)...)
	rel, err := filepath.Rel(h.dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, filepath.Join(elems...))
	}
	return p, nil
}

// MkdirAll creates a subdirectory under the handle and returns its path.
func (h *Handle) MkdirAll(elems ...string) (string, error) {
	p, err := h.Path(elems...)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", p, err)
	}
	return p, nil
}

// Locate returns the first regular file matching the patterns, tried in order.
// Patterns are doublestar globs relative to the handle directory. Within one
// pattern the lexically first match wins.
func (h *Handle) Locate(patterns ...string) (string, error) {
	return h.LocateIn(".", patterns...)
}

// LocateIn is Locate rooted at a subdirectory of the handle.
func (h *Handle) LocateIn(sub string, patterns ...string) (string, error) {
	base, err := h.Path(sub)
	if err != nil {
		return "", err
	}
	fsys := os.DirFS(base)
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return "", fmt.Errorf("locate %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			continue
		}
		sort.Strings(matches)
		return filepath.Join(base, filepath.FromSlash(matches[0])), nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, strings.Join(patterns, ", "))
}

// LocateAll returns every file under sub matching pattern, sorted.
func (h *Handle) LocateAll(sub, pattern string) ([]string, error) {
	base, err := h.Path(sub)
	if err != nil {
		return nil, err
	}
	matches, err := doublestar.Glob(os.DirFS(base), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("locate %s: %w", pattern, err)
	}
	sort.Strings(matches)
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = filepath.Join(base, filepath.FromSlash(m))
	}
	return out, nil
}

// Release deletes the handle's attempt directory, and the job directory once
// no attempt is left in it. Other attempts of the job are not touched.
func (h *Handle) Release() error {
	if err := os.RemoveAll(h.dir); err != nil {
		return fmt.Errorf("release artifact dir for %s: %w", h.jobID, err)
	}
	// Fails while a newer attempt still owns a directory under it.
	_ = os.Remove(filepath.Dir(h.dir))
	return nil
}
