package supabase

import (
	"context"

	"github.com/creastat/relay/session"
)

// Store archives registered browser sessions in Supabase.
type Store interface {
	// SaveSession upserts a session keyed by its id
	SaveSession(ctx context.Context, info session.Info) error

	// GetSession retrieves an archived session. Returns nil if not found.
	GetSession(ctx context.Context, id string) (*session.Info, error)

	// Close closes the Supabase client and releases resources
	Close() error
}
