package domain

import "errors"

// ErrValidation is the root of the domain validation error tree. The
// specific validation sentinels in this package wrap it, so callers can
// match the whole family with errors.Is(err, ErrValidation).
var ErrValidation = errors.New("validation failed")
