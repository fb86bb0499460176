package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
	"github.com/go-playground/validator/v10"
)

var githubRepoPattern = regexp.MustCompile(`^https://github\.com/[A-Za-z0-9._-]+/[A-Za-z0-9._-]+/?$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("github_repo", func(fl validator.FieldLevel) bool {
		return githubRepoPattern.MatchString(fl.Field().String())
	})
	return v
}

// ValidationError lists the rejected input fields.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for f, msg := range e.Fields {
		parts = append(parts, f+": "+msg)
	}
	sort.Strings(parts)
	return e.Message + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// normalizeInput checks the payload of kind and returns its canonical encoding.
func normalizeInput(kind models.JobKind, raw json.RawMessage) (json.RawMessage, error) {
	switch kind {
	case models.KindCodeReview:
		var in models.ReviewInput
		if err := decodeInput(raw, &in); err != nil {
			return nil, err
		}
		in.RepoURL = strings.TrimSpace(in.RepoURL)
		return checkAndEncode(in)
	case models.KindVideo, models.KindAudio:
		var in models.MediaInput
		if err := decodeInput(raw, &in); err != nil {
			return nil, err
		}
		in.SourceURL = strings.TrimSpace(in.SourceURL)
		in.Title = strings.TrimSpace(in.Title)
		return checkAndEncode(in)
	}
	return nil, &ValidationError{Message: fmt.Sprintf("unknown job kind %q", kind)}
}

func decodeInput(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return &ValidationError{Message: "input is required"}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ValidationError{Message: "input is not a valid JSON object"}
	}
	return nil
}

func checkAndEncode(in any) (json.RawMessage, error) {
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, fmt.Errorf("validate input: %w", err)
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = describe(fe)
		}
		return nil, &ValidationError{Message: "invalid input", Fields: fields}
	}
	return json.Marshal(in)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "github_repo":
		return "must be a GitHub repository URL like https://github.com/owner/repo"
	case "http_url":
		return "must be an absolute http(s) URL"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	}
	return "failed " + fe.Tag()
}
