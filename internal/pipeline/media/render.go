package media

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/artifacts"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/pipeline"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/runner"
)

// renderPatterns are tried in order under a scene's output directory.
var renderPatterns = []string{
	"**/1080p60/*.mp4",
	"**/720p30/*.mp4",
	"**/480p15/*.mp4",
	"*.mp4",
}

const partialPattern = "**/partial_movie_files/**/*.mp4"

// Renderer animates scene description files with an external renderer.
type Renderer struct {
	run     runner.Runner
	mux     *Muxer
	command string
	args    []string
	timeout time.Duration
}

func NewRenderer(r runner.Runner, mux *Muxer, command string, args []string, timeout time.Duration) *Renderer {
	return &Renderer{run: r, mux: mux, command: command, args: args, timeout: timeout}
}

// Render renders scene i from scenePath and returns the produced clip and
// its duration. When the renderer left only part files they are joined.
func (r *Renderer) Render(ctx context.Context, h *artifacts.Handle, i int, scenePath string) (string, float64, error) {
	sub := path.Join("render", SceneName(i))
	outDir, err := h.MkdirAll(sub)
	if err != nil {
		return "", 0, pipeline.FailSlide("render", pipeline.ErrRenderFailed, i, err)
	}

	args := append(append([]string(nil), r.args...), "--scene", scenePath, "--output", outDir)
	if _, err := r.run.Run(ctx, runner.Command{
		Name:    r.command,
		Args:    args,
		Dir:     h.Dir(),
		Timeout: r.timeout,
	}); err != nil {
		return "", 0, pipeline.FailSlide("render", pipeline.ErrRenderFailed, i, err)
	}

	clip, err := h.LocateIn(sub, renderPatterns...)
	if errors.Is(err, artifacts.ErrNotFound) {
		clip, err = r.joinParts(ctx, h, i, sub)
	}
	if err != nil {
		return "", 0, pipeline.FailSlide("render", pipeline.ErrRenderFailed, i, err)
	}

	if err := nonEmpty(clip); err != nil {
		return "", 0, pipeline.FailSlide("render", pipeline.ErrRenderFailed, i, err)
	}
	dur, err := r.mux.Probe(ctx, clip)
	if err != nil {
		return "", 0, pipeline.FailSlide("render", pipeline.ErrRenderFailed, i, err)
	}
	return clip, dur, nil
}

func (r *Renderer) joinParts(ctx context.Context, h *artifacts.Handle, i int, sub string) (string, error) {
	parts, err := h.LocateAll(sub, partialPattern)
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("renderer produced no video for %s", SceneName(i))
	}
	list, err := h.Path(sub, "parts.txt")
	if err != nil {
		return "", err
	}
	out, err := h.Path(sub, SceneName(i)+".joined.mp4")
	if err != nil {
		return "", err
	}
	if err := r.mux.Concat(ctx, parts, list, out); err != nil {
		return "", fmt.Errorf("join %d part files: %w", len(parts), err)
	}
	return out, nil
}
