package session

import "context"

// Store defines the interface for session storage operations.
type Store interface {
	// Put upserts a session. CreatedAt and UpdatedAt are stored as given.
	Put(ctx context.Context, data *Info) error

	// Get retrieves a session by ID.
	// Returns nil if the session is not found (not an error).
	Get(ctx context.Context, id string) (*Info, error)

	// List returns the IDs of all live sessions.
	List(ctx context.Context) ([]string, error)

	// Close closes the store and releases any resources.
	Close() error
}
