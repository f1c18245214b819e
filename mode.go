package relay

import (
	"fmt"
	"strings"
)

// Mode selects how registry and queue state is shared between worker processes.
// It is chosen once at startup.
type Mode string

const (
	// ModeLocal keeps everything in process memory. Only correct with a single worker.
	ModeLocal Mode = "local"
	// ModeShared uses the shared store exclusively. Reads return empty and writes
	// fail with ErrStoreUnavailable while it is unreachable.
	ModeShared Mode = "shared"
	// ModeSharedWithFallback uses the shared store while connected and process
	// memory otherwise.
	ModeSharedWithFallback Mode = "shared-with-fallback"
)

// ParseMode validates a configured mode string. Empty selects ModeSharedWithFallback.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.TrimSpace(strings.ToLower(s))); m {
	case "":
		return ModeSharedWithFallback, nil
	case ModeLocal, ModeShared, ModeSharedWithFallback:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// UsesShared reports whether the mode ever talks to the shared store.
func (m Mode) UsesShared() bool {
	return m == ModeShared || m == ModeSharedWithFallback
}
