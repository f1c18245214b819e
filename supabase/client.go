package supabase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/creastat/relay/session"
)

const (
	// DefaultTable holds one row per browser session
	DefaultTable = "browser_sessions"
	conflictKey  = "session_id"
)

// Config holds Supabase connection configuration
type Config struct {
	URL      string
	APIKey   string
	Table    string        // Default: browser_sessions
	CacheTTL time.Duration // Default: 5 minutes
}

// Client implements the Store interface using Supabase
type Client struct {
	client   *supabase.Client
	table    string
	cache    *cache
	cacheTTL time.Duration
	now      func() time.Time
}

// cache keeps recently saved or fetched sessions
type cache struct {
	mu   sync.RWMutex
	byID map[string]*cacheEntry[session.Info]
}

type cacheEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// New creates a new Supabase client
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}

	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{
		client:   client,
		table:    cfg.Table,
		cacheTTL: cfg.CacheTTL,
		now:      time.Now,
		cache: &cache{
			byID: make(map[string]*cacheEntry[session.Info]),
		},
	}, nil
}

// SaveSession upserts the session row and refreshes the cache
func (c *Client) SaveSession(ctx context.Context, info session.Info) error {
	_, _, err := c.client.From(c.table).
		Upsert(info, conflictKey, "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	c.addToCache(info)
	return nil
}

// GetSession retrieves a session by ID
func (c *Client) GetSession(ctx context.Context, id string) (*session.Info, error) {
	// Check cache first
	if cached, ok := c.getFromCache(id); ok {
		return &cached, nil
	}

	var rows []session.Info
	_, err := c.client.From(c.table).
		Select("*", "", false).
		Eq(conflictKey, id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if len(rows) == 0 {
		return nil, nil
	}

	info := rows[0]
	c.addToCache(info)
	return &info, nil
}

// Close closes the Supabase client
func (c *Client) Close() error {
	// Supabase client doesn't require explicit close
	return nil
}

// getFromCache retrieves a live cache entry by session ID
func (c *Client) getFromCache(id string) (session.Info, bool) {
	c.cache.mu.RLock()
	defer c.cache.mu.RUnlock()

	if e, ok := c.cache.byID[id]; ok && c.now().Before(e.expiresAt) {
		return e.value, true
	}
	return session.Info{}, false
}

// addToCache adds a session to cache
func (c *Client) addToCache(info session.Info) {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()

	c.cache.byID[info.ID] = &cacheEntry[session.Info]{
		value:     info,
		expiresAt: c.now().Add(c.cacheTTL),
	}
}

// Compile-time checks
var (
	_ Store           = (*Client)(nil)
	_ session.Archive = (*Client)(nil)
)
