package relay

import (
	"context"
	"errors"
)

// Common errors for relay operations.
var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidStoreType = errors.New("invalid store type")
	ErrInvalidMode      = errors.New("invalid storage mode")
	ErrNotFound         = errors.New("session not found")

	// ErrStoreUnavailable is returned when the shared store is required but unreachable.
	ErrStoreUnavailable = errors.New("shared store unavailable")

	ErrMissingRequiredField = errors.New("missing required field")
	ErrUnknownFunction      = errors.New("unknown function")
	ErrMalformedPayload     = errors.New("malformed payload")

	// ErrTransmission marks a failed write to a browser stream.
	ErrTransmission = errors.New("transmission failure")
)

// CallerGone reports whether err comes from ctx itself being cancelled or
// timing out, rather than from the backend the call went to.
func CallerGone(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
