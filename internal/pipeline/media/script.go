package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/pipeline"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
)

// Slide duration bounds in seconds.
const (
	MinSlideDuration = 10
	MaxSlideDuration = 120
)

// FallbackVisual replaces unknown visual types in audio-only scripts.
const FallbackVisual = "bullet_points"

// VisualTypes are the scene layouts the renderer knows how to animate.
var VisualTypes = map[string]bool{
	"title":         true,
	"bullet_points": true,
	"code":          true,
	"diagram":       true,
	"flowchart":     true,
	"timeline":      true,
	"comparison":    true,
	"table":         true,
	"bar_chart":     true,
	"line_chart":    true,
	"pie_chart":     true,
	"equation":      true,
	"graph":         true,
	"number_line":   true,
	"venn_diagram":  true,
	"mind_map":      true,
	"process":       true,
	"quote":         true,
	"definition":    true,
	"summary":       true,
}

// visualAliases maps names models commonly produce to a known visual type.
// Keys are already normalized.
var visualAliases = map[string]string{
	"title_slide":      "title",
	"title_card":       "title",
	"intro":            "title",
	"introduction":     "title",
	"bullets":          "bullet_points",
	"bullet_list":      "bullet_points",
	"list":             "bullet_points",
	"text":             "bullet_points",
	"code_snippet":     "code",
	"code_block":       "code",
	"architecture":     "diagram",
	"illustration":     "diagram",
	"flow_chart":       "flowchart",
	"flow":             "flowchart",
	"history":          "timeline",
	"chronology":       "timeline",
	"compare":          "comparison",
	"versus":           "comparison",
	"vs":               "comparison",
	"comparison_table": "table",
	"grid":             "table",
	"matrix":           "table",
	"chart":            "bar_chart",
	"bar_graph":        "bar_chart",
	"histogram":        "bar_chart",
	"line_graph":       "line_chart",
	"trend":            "line_chart",
	"pie":              "pie_chart",
	"donut_chart":      "pie_chart",
	"formula":          "equation",
	"math":             "equation",
	"latex":            "equation",
	"plot":             "graph",
	"function_plot":    "graph",
	"venn":             "venn_diagram",
	"mindmap":          "mind_map",
	"concept_map":      "mind_map",
	"steps":            "process",
	"step_by_step":     "process",
	"workflow":         "process",
	"quotation":        "quote",
	"concept":          "definition",
	"term":             "definition",
	"recap":            "summary",
	"conclusion":       "summary",
	"outro":            "summary",
}

var errNoSlides = errors.New("script has no slides")

// NormalizeVisualType maps a model-supplied visual type onto VisualTypes.
// It accepts camelCase, spaces and hyphens. ok is false for unknown names.
func NormalizeVisualType(name string) (string, bool) {
	key := snake(name)
	if VisualTypes[key] {
		return key, true
	}
	if v, ok := visualAliases[key]; ok {
		return v, true
	}
	return key, false
}

func snake(s string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r == ' ' || r == '-' || r == '_':
			r = '_'
			prevLower = false
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
			prevLower = false
		default:
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		}
		if r == '_' && (b.Len() == 0 || strings.HasSuffix(b.String(), "_")) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSuffix(b.String(), "_")
}

// ValidateScript parses and checks a script object. Slides are renumbered in
// order, visual types normalized and the total duration recomputed. When
// requireVisuals is false unknown visual types fall back to FallbackVisual.
func ValidateScript(raw []byte, requireVisuals bool) (*models.Script, error) {
	var s models.Script
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, pipeline.Fail("script", pipeline.ErrInvalidScript, fmt.Errorf("decode script: %w", err))
	}
	if len(s.Slides) == 0 {
		return nil, pipeline.Fail("script", pipeline.ErrInvalidScript, errNoSlides)
	}

	var total models.Number
	for i := range s.Slides {
		sl := &s.Slides[i]
		sl.SlideNumber = i + 1

		vt, ok := NormalizeVisualType(sl.VisualType)
		switch {
		case ok:
			sl.VisualType = vt
		case requireVisuals:
			return nil, pipeline.FailSlide("script", pipeline.ErrInvalidScript, i,
				fmt.Errorf("unknown visualType %q", sl.VisualType))
		default:
			sl.VisualType = FallbackVisual
		}

		if sl.Duration < MinSlideDuration || sl.Duration > MaxSlideDuration {
			return nil, pipeline.FailSlide("script", pipeline.ErrInvalidScript, i,
				fmt.Errorf("duration %g outside [%d, %d]", float64(sl.Duration), MinSlideDuration, MaxSlideDuration))
		}
		total += sl.Duration
	}
	s.TotalDuration = total
	return &s, nil
}
