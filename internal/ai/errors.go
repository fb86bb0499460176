package ai

import (
	"errors"

	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
)

var (
	ErrProviderUnavailable = models.ErrProviderUnavailable
	ErrInferenceTimeout    = models.ErrInferenceTimeout
	ErrInvalidResponse     = models.ErrInvalidResponse
)

// IsTransient reports whether err is worth retrying on another attempt.
func IsTransient(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrInferenceTimeout)
}
