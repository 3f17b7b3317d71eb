// Package validation provides common validation utilities for configuration
// parameters across the taskpool library.
//
// Every helper returns a *errors.ValidationError (which unwraps to
// errors.ErrInvalidConfiguration) so constructors can report bad input
// with a consistent message and hint.
package validation
