package media

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/artifacts"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/pipeline"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/runner"
)

var narrationReplacer = strings.NewReplacer(
	"“", `"`, "”", `"`, "„", `"`,
	"‘", "'", "’", "'", "‚", "'",
	`\`, "",
)

// SanitizeNarration normalizes quotes, strips backslashes and collapses
// whitespace. Empty text becomes "Section i+1".
func SanitizeNarration(text string, i int) string {
	s := strings.Join(strings.Fields(narrationReplacer.Replace(text)), " ")
	if s == "" {
		return fmt.Sprintf("Section %d", i+1)
	}
	return s
}

// Narrator turns slide narration into speech with an external TTS tool.
type Narrator struct {
	run     runner.Runner
	command string
	voice   string
	timeout time.Duration
}

func NewNarrator(r runner.Runner, command, voice string, timeout time.Duration) *Narrator {
	return &Narrator{run: r, command: command, voice: voice, timeout: timeout}
}

// Narrate writes narration/slide_NNN.txt and synthesizes slide_NNN.mp3 from it.
func (n *Narrator) Narrate(ctx context.Context, h *artifacts.Handle, i int, text string) (string, error) {
	if _, err := h.MkdirAll("narration"); err != nil {
		return "", pipeline.FailSlide("narrate", pipeline.ErrNarrationFailed, i, err)
	}
	base := fmt.Sprintf("slide_%03d", i)
	txt, err := h.Path("narration", base+".txt")
	if err != nil {
		return "", pipeline.FailSlide("narrate", pipeline.ErrNarrationFailed, i, err)
	}
	mp3, err := h.Path("narration", base+".mp3")
	if err != nil {
		return "", pipeline.FailSlide("narrate", pipeline.ErrNarrationFailed, i, err)
	}
	if err := os.WriteFile(txt, []byte(SanitizeNarration(text, i)), 0o644); err != nil {
		return "", pipeline.FailSlide("narrate", pipeline.ErrNarrationFailed, i, err)
	}

	_, err = n.run.Run(ctx, runner.Command{
		Name:    n.command,
		Args:    []string{"--voice", n.voice, "--file", txt, "--write-media", mp3},
		Dir:     h.Dir(),
		Timeout: n.timeout,
	})
	if err != nil {
		return "", pipeline.FailSlide("narrate", pipeline.ErrNarrationFailed, i, err)
	}
	if err := nonEmpty(mp3); err != nil {
		return "", pipeline.FailSlide("narrate", pipeline.ErrNarrationFailed, i, err)
	}
	return mp3, nil
}

func nonEmpty(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("missing output: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("empty output: %s", path)
	}
	return nil
}
