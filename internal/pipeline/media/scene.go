package media

import (
	"fmt"
	"os"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/artifacts"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
	"gopkg.in/yaml.v3"
)

// Scene is the description file handed to the renderer for one slide.
type Scene struct {
	Index    int          `yaml:"index"`
	Title    string       `yaml:"title"`
	Theme    string       `yaml:"theme,omitempty"`
	Duration float64      `yaml:"duration"`
	Slide    models.Slide `yaml:"slide"`
}

// SceneName is the zero-padded base name of scene i; the padding keeps
// lexical and slide order identical.
func SceneName(i int) string {
	return fmt.Sprintf("scene_%03d", i)
}

// WriteScene writes scenes/scene_NNN.yaml for slide i and returns its path.
func WriteScene(h *artifacts.Handle, script *models.Script, i int) (string, error) {
	if _, err := h.MkdirAll("scenes"); err != nil {
		return "", err
	}
	slide := script.Slides[i]
	body, err := yaml.Marshal(Scene{
		Index:    i,
		Title:    script.Title,
		Theme:    script.VisualTheme,
		Duration: float64(slide.Duration),
		Slide:    slide,
	})
	if err != nil {
		return "", fmt.Errorf("encode scene %d: %w", i, err)
	}
	path, err := h.Path("scenes", SceneName(i)+".yaml")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write scene %d: %w", i, err)
	}
	return path, nil
}
