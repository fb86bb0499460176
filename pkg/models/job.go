// Package models contains shared data models used by the API and worker tiers.
package models

import (
	"encoding/json"
	"time"
)

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// JobKind identifies which pipeline executes a job.
type JobKind string

const (
	KindCodeReview JobKind = "code_review"
	KindVideo      JobKind = "video"
	KindAudio      JobKind = "audio"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	switch k {
	case KindCodeReview, KindVideo, KindAudio:
		return true
	}
	return false
}

// IsMedia reports whether k runs through the media pipeline.
func (k JobKind) IsMedia() bool {
	return k == KindVideo || k == KindAudio
}

// Progress is the step/message pair the front-end polls.
type Progress struct {
	Step    int    `json:"step"`
	Message string `json:"message"`
}

// Job is one unit of asynchronous work. The API returns its id on submit;
// the client polls status until it reaches completed, failed or cancelled.
type Job struct {
	ID              string          `db:"id"               json:"id"`
	OwnerID         string          `db:"owner_id"         json:"owner_id"`
	Kind            JobKind         `db:"kind"             json:"kind"`
	Input           json.RawMessage `db:"input"            json:"input"`
	Status          string          `db:"status"           json:"status"`
	Progress        Progress        `db:"-"                json:"progress"`
	Result          json.RawMessage `db:"result"           json:"result,omitempty"`
	ErrorMessage    *string         `db:"error_message"    json:"error_message,omitempty"`
	Attempt         int             `db:"attempt"          json:"attempt"`
	RetryPending    bool            `db:"retry_pending"    json:"-"`
	CancelRequested bool            `db:"cancel_requested" json:"-"`
	StartedAt       *time.Time      `db:"started_at"       json:"started_at,omitempty"`
	CompletedAt     *time.Time      `db:"completed_at"     json:"completed_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"       json:"updated_at"`
}

// IsTerminal reports whether the job can no longer change state.
// A failed job with a pending retry is not terminal.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusCancelled:
		return true
	case JobStatusFailed:
		return !j.RetryPending
	}
	return false
}

// ReviewInput is the payload of a code_review job.
type ReviewInput struct {
	RepoURL string `json:"repo_url" validate:"required,github_repo"`
}

// MediaInput is the payload of video and audio jobs.
type MediaInput struct {
	SourceURL string `json:"source_url" validate:"required,http_url"`
	Title     string `json:"title,omitempty" validate:"max=200"`
}
