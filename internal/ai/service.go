package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
)

const (
	maxTreeChars    = 5000
	maxContentChars = 25000
	maxSourceChars  = 20000
)

const reviewSystemPrompt = `You are a senior software engineer reviewing a public GitHub repository for a student.
Assess code quality, structure, testing and documentation. Be specific and constructive.
Reply with a JSON object with exactly these fields:
  "quality_score": number from 0 to 10,
  "strengths": array of strings,
  "improvements": array of strings,
  "key_suggestions": array of strings,
  "full_review": string (markdown allowed),
  "metrics": object mapping metric names (readability, maintainability, testing, documentation) to numbers from 0 to 10.`

const scriptSystemPrompt = `You write scripts for short educational explainer videos.
Reply with a JSON object with these fields:
  "title": string, "description": string, "visualTheme": string, "category": string,
  "totalDuration": number of seconds,
  "slides": array of objects with "slideNumber" (integer), "heading" (string),
  "narration" (string, spoken text), "visualType" (one of: title, bullet_list, diagram, flowchart,
  timeline, comparison, code, equation, chart_bar, chart_line, chart_pie, table, quote, image,
  process, cycle, hierarchy, venn, map, summary), "visualData" (object), "bulletPoints" (array of strings),
  "duration" (number of seconds between 10 and 120).`

// Service wraps an LLMProvider with the prompts and response handling the
// pipelines need.
type Service struct {
	provider  models.LLMProvider
	timeout   time.Duration
	maxTokens int
}

// NewService creates a new Service. A zero timeout leaves calls bounded only
// by the caller's context.
func NewService(provider models.LLMProvider, timeout time.Duration, maxTokens int) *Service {
	return &Service{provider: provider, timeout: timeout, maxTokens: maxTokens}
}

// ProviderName returns the name of the underlying provider.
func (s *Service) ProviderName() string { return s.provider.Name() }

// ReviewRepository asks the model to review a repository digest. Missing
// optional fields are defaulted and the score is clamped to [0, 10].
func (s *Service) ReviewRepository(ctx context.Context, tree, content string) (*models.ReviewResult, error) {
	prompt := fmt.Sprintf("Repository structure:\n%s\n\nRepository content:\n%s",
		truncateString(tree, maxTreeChars), truncateString(content, maxContentChars))

	raw, err := s.complete(ctx, models.CompletionRequest{
		System:      reviewSystemPrompt,
		Prompt:      prompt,
		MaxTokens:   s.maxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, err
	}
	return parseReview(raw)
}

// Source is one piece of extracted material fed to the script writer.
type Source struct {
	Title   string
	URL     string
	Content string
}

// ScriptRequest describes the video or audio a script is written for.
type ScriptRequest struct {
	Title     string
	Sources   []Source
	AudioOnly bool
}

// WriteScript asks the model for a slide-by-slide script and returns the
// JSON object it produced. Validation is left to the caller.
func (s *Service) WriteScript(ctx context.Context, req ScriptRequest) ([]byte, error) {
	var sb strings.Builder
	if req.Title != "" {
		fmt.Fprintf(&sb, "Working title: %s\n\n", req.Title)
	}
	if req.AudioOnly {
		sb.WriteString("The script will be narrated as audio only; keep visuals minimal.\n\n")
	}
	sb.WriteString("Source material:\n")
	budget := maxSourceChars
	for i, src := range req.Sources {
		if budget <= 0 {
			break
		}
		body := truncateString(src.Content, budget)
		budget -= len([]rune(body))
		fmt.Fprintf(&sb, "\n[%d] %s (%s)\n%s\n", i+1, src.Title, src.URL, body)
	}

	return s.complete(ctx, models.CompletionRequest{
		System:      scriptSystemPrompt,
		Prompt:      sb.String(),
		MaxTokens:   s.maxTokens,
		Temperature: 0.7,
	})
}

func (s *Service) complete(ctx context.Context, req models.CompletionRequest) ([]byte, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	out, err := s.provider.CompleteJSON(ctx, req)
	if err != nil {
		return nil, err
	}
	obj, err := ExtractJSONObject(out)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.provider.Name(), err)
	}
	return obj, nil
}

type rawReview struct {
	QualityScore   any            `json:"quality_score"`
	Strengths      []any          `json:"strengths"`
	Improvements   []any          `json:"improvements"`
	KeySuggestions []any          `json:"key_suggestions"`
	FullReview     any            `json:"full_review"`
	Metrics        map[string]any `json:"metrics"`
}

func parseReview(raw []byte) (*models.ReviewResult, error) {
	var r rawReview
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: review is not a JSON object: %v", ErrInvalidResponse, err)
	}

	result := &models.ReviewResult{
		QualityScore:   models.DefaultQualityScore,
		Strengths:      stringList(r.Strengths),
		Improvements:   stringList(r.Improvements),
		KeySuggestions: stringList(r.KeySuggestions),
		Metrics:        map[string]float64{},
	}
	if v, ok := toFloat(r.QualityScore); ok {
		result.QualityScore = v
	}
	if s, ok := r.FullReview.(string); ok {
		result.FullReview = strings.TrimSpace(s)
	}
	for k, v := range r.Metrics {
		if f, ok := toFloat(v); ok {
			result.Metrics[k] = f
		}
	}
	result.ApplyDefaults()
	return result, nil
}

func stringList(items []any) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		var s string
		switch v := it.(type) {
		case nil:
			continue
		case string:
			s = v
		default:
			s = fmt.Sprint(v)
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// ExtractJSONObject returns the first balanced JSON object in text. Models
// sometimes wrap their answer in prose or code fences.
func ExtractJSONObject(text []byte) ([]byte, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, c := range text {
		if start < 0 {
			if c == '{' {
				start = i
				depth = 1
			}
			continue
		}
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				obj := text[start : i+1]
				if !json.Valid(obj) {
					return nil, fmt.Errorf("%w: malformed JSON object", ErrInvalidResponse)
				}
				return obj, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no JSON object in reply", ErrInvalidResponse)
}

// truncateString truncates s to at most max runes.
func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
