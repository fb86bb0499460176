package models

// DefaultQualityScore is used when the model omits or garbles the score.
const DefaultQualityScore = 5.0

// DefaultFullReview fills an empty full_review field.
const DefaultFullReview = "No detailed review available."

// ReviewResult is the persisted outcome of a code review job.
type ReviewResult struct {
	QualityScore   float64            `json:"quality_score"`
	Strengths      []string           `json:"strengths"`
	Improvements   []string           `json:"improvements"`
	KeySuggestions []string           `json:"key_suggestions"`
	FullReview     string             `json:"full_review"`
	Metrics        map[string]float64 `json:"metrics"`
}

// ApplyDefaults fills missing optional fields and clamps the score to [0, 10].
func (r *ReviewResult) ApplyDefaults() {
	if r.Strengths == nil {
		r.Strengths = []string{}
	}
	if r.Improvements == nil {
		r.Improvements = []string{}
	}
	if r.KeySuggestions == nil {
		r.KeySuggestions = []string{}
	}
	if r.Metrics == nil {
		r.Metrics = map[string]float64{}
	}
	if r.FullReview == "" {
		r.FullReview = DefaultFullReview
	}
	if r.QualityScore < 0 {
		r.QualityScore = 0
	}
	if r.QualityScore > 10 {
		r.QualityScore = 10
	}
}
