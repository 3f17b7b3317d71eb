// Package validation provides common validation utilities for the taskpool library.
package validation

import (
	"math"
	"time"

	tperrors "github.com/vnykmshr/taskpool/pkg/common/errors"
)

// ValidatePositive validates that an integer value is positive (> 0).
// Returns a ValidationError if the value is not positive.
func ValidatePositive(module, field string, value int) error {
	if value <= 0 {
		return tperrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidateNonNegative validates that a numeric value is finite and
// non-negative (>= 0). Returns a ValidationError for NaN, infinities and
// negative values.
func ValidateNonNegative(module, field string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return tperrors.NewValidationError(module, field, value, "must be finite").
			WithHint("use 0 or a positive number")
	}
	if value < 0 {
		return tperrors.NewValidationError(module, field, value, "cannot be negative").
			WithHint("use 0 or a positive value")
	}
	return nil
}

// ValidateNonNegativeDuration validates that a duration is not negative.
// Zero is accepted and conventionally means "use the default" or "disabled".
func ValidateNonNegativeDuration(module, field string, value time.Duration) error {
	if value < 0 {
		return tperrors.NewValidationError(module, field, value, "cannot be negative").
			WithHint("use 0 to disable or a positive duration")
	}
	return nil
}

// ValidateNotNil validates that an interface value is not nil.
// Returns a ValidationError if the value is nil.
func ValidateNotNil(module, field string, value interface{}) error {
	if value == nil {
		return tperrors.NewValidationError(module, field, nil, "cannot be nil").
			WithHint("provide a valid " + field)
	}
	return nil
}

// ValidateNotEmpty validates that a string value is not empty.
// Returns a ValidationError if the string is empty.
func ValidateNotEmpty(module, field string, value string) error {
	if value == "" {
		return tperrors.NewValidationError(module, field, value, "cannot be empty").
			WithHint("provide a non-empty " + field)
	}
	return nil
}
