package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Script is the LLM-authored plan for a generated video.
type Script struct {
	Title         string  `json:"title"                yaml:"title"`
	Description   string  `json:"description"          yaml:"description"`
	VisualTheme   string  `json:"visualTheme"          yaml:"visual_theme"`
	Slides        []Slide `json:"slides"               yaml:"slides"`
	TotalDuration Number  `json:"totalDuration"        yaml:"total_duration"`
	Category      string  `json:"category"             yaml:"category"`
}

// Slide is one scene of a Script.
type Slide struct {
	SlideNumber  int      `json:"slideNumber"  yaml:"slide_number"`
	Heading      string   `json:"heading"      yaml:"heading"`
	Narration    string   `json:"narration"    yaml:"narration"`
	VisualType   string   `json:"visualType"   yaml:"visual_type"`
	VisualData   any      `json:"visualData"   yaml:"visual_data,omitempty"`
	BulletPoints []string `json:"bulletPoints" yaml:"bullet_points,omitempty"`
	Duration     Number   `json:"duration"     yaml:"duration"`
}

// Number accepts both JSON numbers and numeric strings.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", string(b))
	}
	*n = Number(f)
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(n))
}

// MediaResult is the persisted outcome of a video or audio job.
type MediaResult struct {
	Title           string  `json:"title,omitempty"`
	VideoPath       string  `json:"video_path,omitempty"`
	AudioPath       string  `json:"audio_path,omitempty"`
	ThumbnailPath   string  `json:"thumbnail_path,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	Script          *Script `json:"script,omitempty"`
}
