package pipeline

import (
	"errors"
	"fmt"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/ai"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/scrape"
)

// Failure kinds. A StageError wraps exactly one of them.
var (
	ErrIngestionFailed = errors.New("ingestion failed")
	ErrAnalysisFailed  = errors.New("analysis failed")
	ErrExtractFailed   = errors.New("content extraction failed")
	ErrInvalidScript   = errors.New("invalid script")
	ErrRenderFailed    = errors.New("render failed")
	ErrNarrationFailed = errors.New("narration failed")
	ErrSyncFailed      = errors.New("synchronization failed")
	ErrPersistFailed   = errors.New("persist failed")
)

var (
	// ErrCancelled means the owner cancelled the job. It is not a failure.
	ErrCancelled = errors.New("job cancelled")
	// ErrSuperseded means another delivery of the job took over or finished it.
	ErrSuperseded = errors.New("job superseded by another attempt")
)

// Attempt limits per failure class.
const (
	TransientAttempts     = 3
	DeterministicAttempts = 2
)

// NoSlide marks a StageError that is not tied to a slide.
const NoSlide = -1

// StageError is a typed pipeline failure.
type StageError struct {
	Stage     string
	Kind      error
	Slide     int
	Transient bool
	Err       error
}

func (e *StageError) Error() string {
	msg := e.Kind.Error()
	if e.Slide != NoSlide {
		msg = fmt.Sprintf("%s (slide %d)", msg, e.Slide+1)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Fail builds a StageError, classifying err as transient when it comes from
// an unavailable dependency.
func Fail(stage string, kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Slide: NoSlide, Transient: IsTransient(err), Err: err}
}

// FailSlide is Fail for a failure tied to slide index i.
func FailSlide(stage string, kind error, i int, err error) *StageError {
	se := Fail(stage, kind, err)
	se.Slide = i
	return se
}

// IsTransient reports whether err comes from a dependency that may recover.
func IsTransient(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Transient
	}
	return ai.IsTransient(err) || scrape.IsTransient(err)
}

// AttemptLimit is the number of attempts a job failing with err may use.
// Cancellation uses none.
func AttemptLimit(err error) int {
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, ErrSuperseded):
		return 0
	case IsTransient(err):
		return TransientAttempts
	}
	return DeterministicAttempts
}

// IsCancellation reports whether err ends the attempt without a failure.
// A cancelled context is not one: it means the worker is shutting down.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrSuperseded)
}
