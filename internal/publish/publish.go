// Package publish promotes finished artifacts into the public serving
// directory and optionally mirrors them to object storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrInvalidPath = errors.New("invalid publish path")

// Mirror copies a published file to secondary storage.
type Mirror interface {
	Upload(ctx context.Context, localPath, objectKey, contentType string) error
}

// Publisher moves files under a public root. Names are chosen by the caller
// and include the job id, so two jobs never write the same file.
type Publisher struct {
	root   string
	mirror Mirror
}

// rename is swapped in tests to force the copy fallback.
var rename = os.Rename

// NewPublisher creates root if needed. mirror may be nil.
func NewPublisher(root string, mirror Mirror) (*Publisher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve public root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create public root: %w", err)
	}
	return &Publisher{root: abs, mirror: mirror}, nil
}

// Root returns the absolute public root.
func (p *Publisher) Root() string {
	return p.root
}

// Publish moves src to <root>/<rel> and returns the public URL path ("/" + rel).
// A rename across filesystems falls back to copy and delete. A mirror
// failure is logged; the local copy stays authoritative.
func (p *Publisher) Publish(ctx context.Context, src, rel string) (string, error) {
	clean := path.Clean("/" + filepath.ToSlash(rel))
	if clean == "/" || strings.Contains(rel, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	dst := filepath.Join(p.root, filepath.FromSlash(clean[1:]))

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create publish dir: %w", err)
	}
	if err := move(src, dst); err != nil {
		return "", err
	}

	if p.mirror != nil {
		if err := p.mirror.Upload(ctx, dst, clean[1:], ContentType(dst)); err != nil {
			slog.Warn("mirror upload failed", "object", clean[1:], "error", err)
		}
	}
	return clean, nil
}

func move(src, dst string) error {
	if err := rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("publish %s: %w", filepath.Base(dst), err)
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("remove published source", "path", src, "error", err)
	}
	return nil
}

// copyFile writes through a temporary sibling so readers never see a partial file.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".publish-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// ContentType maps the media extensions the pipelines publish.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	}
	return "application/octet-stream"
}
