package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/runner"
)

var ErrNoDuration = errors.New("media has no duration")

// Muxer wraps the ffmpeg and ffprobe invocations the pipeline needs.
type Muxer struct {
	run     runner.Runner
	ffmpeg  string
	ffprobe string
	timeout time.Duration
}

func NewMuxer(r runner.Runner, ffmpeg, ffprobe string, timeout time.Duration) *Muxer {
	return &Muxer{run: r, ffmpeg: ffmpeg, ffprobe: ffprobe, timeout: timeout}
}

// Probe returns the container duration of path in seconds.
func (m *Muxer) Probe(ctx context.Context, path string) (float64, error) {
	res, err := m.run.Run(ctx, runner.Command{
		Name: m.ffprobe,
		Args: []string{
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			path,
		},
		Timeout: m.timeout,
	})
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", path, err)
	}
	out := strings.TrimSpace(string(res.Stdout))
	d, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s reported %q", ErrNoDuration, path, out)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoDuration, path)
	}
	return d, nil
}

// Concat joins inputs in order into out using the concat demuxer without
// re-encoding. The list file is written to listPath.
func (m *Muxer) Concat(ctx context.Context, inputs []string, listPath, out string) error {
	if len(inputs) == 0 {
		return errors.New("concat: no inputs")
	}
	var b strings.Builder
	for _, in := range inputs {
		fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(in))
	}
	if err := os.WriteFile(listPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return m.ffmpegRun(ctx, "-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", out)
}

// escapeConcatPath quotes a path for a concat list entry.
func escapeConcatPath(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}

// Fit muxes video with audio so the clip lasts exactly audioDur: a short
// video is padded by freezing its last frame, a long one is trimmed.
func (m *Muxer) Fit(ctx context.Context, video, audio, out string, videoDur, audioDur float64) error {
	dur := strconv.FormatFloat(audioDur, 'f', 3, 64)
	args := []string{"-y", "-i", video, "-i", audio}
	if videoDur < audioDur {
		pad := strconv.FormatFloat(audioDur-videoDur, 'f', 3, 64)
		args = append(args,
			"-filter_complex", "[0:v]tpad=stop_mode=clone:stop_duration="+pad+"[v]",
			"-map", "[v]")
	} else {
		args = append(args, "-map", "0:v")
	}
	args = append(args,
		"-map", "1:a",
		"-t", dur,
		"-c:v", "libx264", "-preset", "medium", "-crf", "23", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		out)
	return m.ffmpegRun(ctx, args...)
}

// Thumbnail grabs one frame at 00:00:01, or at the start of clips shorter
// than a second.
func (m *Muxer) Thumbnail(ctx context.Context, video, out string, videoDur float64) error {
	at := "00:00:01"
	if videoDur < 1 {
		at = "00:00:00"
	}
	return m.ffmpegRun(ctx, "-y", "-ss", at, "-i", video, "-frames:v", "1", "-q:v", "2", out)
}

func (m *Muxer) ffmpegRun(ctx context.Context, args ...string) error {
	_, err := m.run.Run(ctx, runner.Command{Name: m.ffmpeg, Args: args, Timeout: m.timeout})
	if err != nil {
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}
