package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/creastat/relay"
	"github.com/creastat/relay/events"
)

// Connectivity reports the shared store's health.
type Connectivity interface {
	IsConnected() bool
	MarkFailed(err error)
}

// Archive is an optional durable sink for registered sessions.
type Archive interface {
	SaveSession(ctx context.Context, info Info) error
	GetSession(ctx context.Context, id string) (*Info, error)
}

// Registry maps browser session ids to customer metadata.
//
// A process-local cache is always written; the shared store is used according
// to the configured relay.Mode.
type Registry struct {
	mode      relay.Mode
	local     *MemoryStore
	shared    Store
	conn      Connectivity
	archive   Archive
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithShared attaches the shared store and its connectivity signal.
func WithShared(store Store, conn Connectivity) RegistryOption {
	return func(r *Registry) {
		r.shared = store
		r.conn = conn
	}
}

// WithArchive attaches a durable session archive.
func WithArchive(a Archive) RegistryOption {
	return func(r *Registry) { r.archive = a }
}

// WithPublisher attaches an event publisher.
func WithPublisher(p events.Publisher) RegistryOption {
	return func(r *Registry) { r.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry builds a registry for the given mode. Shared modes require WithShared.
func NewRegistry(mode relay.Mode, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		mode:   mode,
		local:  NewMemoryStore(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if mode.UsesShared() && (r.shared == nil || r.conn == nil) {
		return nil, fmt.Errorf("%w: mode %q requires a shared session store", relay.ErrInvalidConfig, mode)
	}
	if !mode.UsesShared() {
		r.shared = nil
	}
	r.logger = r.logger.With(slog.String("component", "session_registry"))
	return r, nil
}

// Mode returns the storage mode.
func (r *Registry) Mode() relay.Mode {
	return r.mode
}

func (r *Registry) sharedAvailable() bool {
	return r.shared != nil && r.conn.IsConnected()
}

// storeFailed marks the shared store failed unless err only reflects the
// caller's context ending.
func (r *Registry) storeFailed(ctx context.Context, err error) {
	if !relay.CallerGone(ctx, err) {
		r.conn.MarkFailed(err)
	}
}

// Register upserts session metadata. Only an invalid id is reported;
// shared store and archive failures are logged.
func (r *Registry) Register(ctx context.Context, info Info) error {
	info.ID = strings.TrimSpace(info.ID)
	if info.ID == "" {
		return fmt.Errorf("%w: session_id", relay.ErrMissingRequiredField)
	}

	now := r.now().UTC()
	info.CreatedAt = now
	if existing, _ := r.local.Get(ctx, info.ID); existing != nil {
		info.CreatedAt = existing.CreatedAt
	}
	info.UpdatedAt = now

	if err := r.local.Put(ctx, &info); err != nil {
		return err
	}

	switch {
	case r.sharedAvailable():
		if err := r.shared.Put(ctx, &info); err != nil {
			r.storeFailed(ctx, err)
			r.logger.Warn("store session failed", slog.String("session_id", info.ID), slog.Any("error", err))
		}
	case r.mode.UsesShared():
		r.logger.Warn("store unavailable, session registered in this process only",
			slog.String("session_id", info.ID))
	}

	if r.archive != nil {
		if err := r.archive.SaveSession(ctx, info); err != nil {
			r.logger.Warn("archive session failed", slog.String("session_id", info.ID), slog.Any("error", err))
		}
	}

	events.Emit(ctx, r.publisher, r.logger, events.NewEnvelope(events.SessionRegistered, info.ID, events.SessionData{
		SessionID:      info.ID,
		CustomerDomain: info.CustomerDomain,
		CompanyName:    info.CompanyName,
	}))
	return nil
}

// Lookup resolves a session id: local cache, then shared store, then archive.
// Hits from the latter two are cached locally.
func (r *Registry) Lookup(ctx context.Context, id string) (*Info, error) {
	if info, _ := r.local.Get(ctx, id); info != nil {
		return info, nil
	}

	if r.sharedAvailable() {
		info, err := r.shared.Get(ctx, id)
		if err != nil {
			r.storeFailed(ctx, err)
			r.logger.Warn("get session failed", slog.String("session_id", id), slog.Any("error", err))
		} else if info != nil {
			_ = r.local.Put(ctx, info)
			return info, nil
		}
	}

	if r.archive != nil {
		info, err := r.archive.GetSession(ctx, id)
		if err != nil {
			r.logger.Warn("archive lookup failed", slog.String("session_id", id), slog.Any("error", err))
		} else if info != nil {
			_ = r.local.Put(ctx, info)
			return info, nil
		}
	}

	return nil, relay.ErrNotFound
}

// List returns every known session id, sorted. With a reachable shared store the
// result spans all workers.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	ids, err := r.local.List(ctx)
	if err != nil {
		return nil, err
	}
	if !r.sharedAvailable() {
		return ids, nil
	}

	shared, err := r.shared.List(ctx)
	if err != nil {
		r.storeFailed(ctx, err)
		r.logger.Warn("list sessions failed", slog.Any("error", err))
		return ids, nil
	}
	seen := make(map[string]struct{}, len(ids)+len(shared))
	merged := make([]string, 0, len(ids)+len(shared))
	for _, id := range append(ids, shared...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	sort.Strings(merged)
	return merged, nil
}

// Snapshot returns this process's cached sessions.
func (r *Registry) Snapshot() map[string]Info {
	return r.local.Snapshot()
}

// Close releases the local cache.
func (r *Registry) Close() error {
	return r.local.Close()
}
