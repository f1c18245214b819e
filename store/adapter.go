package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
)

const (
	defaultAddr        = "redis:6379"
	defaultDialTimeout = 5 * time.Second
	defaultCooldown    = 30 * time.Second
)

// Config holds shared store connection settings.
// URL wins over Addr; with none of URL, Addr or Password set the adapter is disabled.
type Config struct {
	URL         string
	Addr        string
	Username    string
	Password    string
	DialTimeout time.Duration
	// Cooldown is how long a failed connection attempt suppresses further attempts.
	Cooldown time.Duration
}

func (c Config) options() (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case c.URL != "":
		parsed, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	case c.Addr != "" || c.Password != "":
		addr := c.Addr
		if addr == "" {
			addr = defaultAddr
		}
		opts = &redis.Options{
			Addr:     addr,
			Username: c.Username,
			Password: c.Password,
		}
	default:
		return nil, nil
	}

	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	opts.DialTimeout = timeout
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout
	return opts, nil
}

// Adapter is the process-wide handle to the shared store.
//
// Connection attempts run through a circuit breaker: one failure opens it, and
// further attempts are refused until Cooldown has passed, after which a single
// probe is let through (half-open). IsConnected never touches the network.
type Adapter struct {
	client   *redis.Client
	cooldown time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	breaker   *gobreaker.CircuitBreaker[struct{}]
	connected atomic.Bool
}

// New builds an adapter. It does not dial; call Connect.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		cooldown: cfg.Cooldown,
		timeout:  cfg.DialTimeout,
		logger:   logger.With(slog.String("component", "store")),
	}
	if a.cooldown <= 0 {
		a.cooldown = defaultCooldown
	}
	if a.timeout <= 0 {
		a.timeout = defaultDialTimeout
	}
	if opts != nil {
		a.client = redis.NewClient(opts)
	}
	a.breaker = a.newBreaker()
	return a, nil
}

func (a *Adapter) newBreaker() *gobreaker.CircuitBreaker[struct{}] {
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 1,
		Timeout:     a.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.logger.Info("store breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
}

// Enabled reports whether any store was configured.
func (a *Adapter) Enabled() bool {
	return a.client != nil
}

// Client returns the underlying redis client, nil when disabled.
func (a *Adapter) Client() *redis.Client {
	return a.client
}

// Connect pings the store, establishing or re-validating the connection.
// It returns false without dialing while the breaker is open.
func (a *Adapter) Connect(ctx context.Context) bool {
	if a.client == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.breaker.Execute(func() (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		return struct{}{}, a.client.Ping(pingCtx).Err()
	})
	if err != nil {
		wasConnected := a.connected.Swap(false)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return false
		}
		if wasConnected {
			a.logger.Warn("store liveness check failed, falling back to local memory", slog.Any("error", err))
		} else {
			a.logger.Warn("store connection failed", slog.Any("error", err))
		}
		return false
	}
	if !a.connected.Swap(true) {
		a.logger.Info("connected to store", slog.String("addr", a.client.Options().Addr))
	}
	return true
}

// IsConnected is a local check; it performs no round-trip.
func (a *Adapter) IsConnected() bool {
	return a.connected.Load()
}

// MarkFailed records an operation failure and flips the adapter to disconnected.
func (a *Adapter) MarkFailed(err error) {
	if err == nil || a.client == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	_, _ = a.breaker.Execute(func() (struct{}, error) { return struct{}{}, err })
	if a.connected.Swap(false) {
		a.logger.Warn("store operation failed, correctness across workers is not guaranteed until reconnect",
			slog.Any("error", err))
	}
}

// Reset clears breaker state so the next Connect dials immediately.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected.Store(false)
	a.breaker = a.newBreaker()
}

// State returns the breaker state name.
func (a *Adapter) State() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.breaker.State().String()
}

// Info returns a small server summary for health reporting.
func (a *Adapter) Info(ctx context.Context) map[string]any {
	if !a.IsConnected() {
		return map[string]any{"connected": false}
	}
	raw, err := a.client.Info(ctx).Result()
	if err != nil {
		a.MarkFailed(err)
		return map[string]any{"connected": false, "error": err.Error()}
	}
	fields := parseInfo(raw)
	return map[string]any{
		"connected":                true,
		"redis_version":            fields["redis_version"],
		"used_memory_human":        fields["used_memory_human"],
		"connected_clients":        fields["connected_clients"],
		"total_commands_processed": fields["total_commands_processed"],
	}
}

// Close releases the client.
func (a *Adapter) Close() error {
	a.connected.Store(false)
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

func parseInfo(raw string) map[string]string {
	out := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		out[key] = value
	}
	return out
}
