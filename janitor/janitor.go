package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule = "@every 30s"
	runTimeout      = 10 * time.Second
)

// Prober re-establishes the shared store connection when allowed.
type Prober interface {
	Connect(ctx context.Context) bool
}

// Maintainer is the queue housekeeping the janitor drives.
type Maintainer interface {
	Resync(ctx context.Context) (int, error)
	Sweep() int
}

// Report describes one janitor pass.
type Report struct {
	Connected bool
	Resynced  int
	Swept     int
}

// Janitor periodically probes the store, moves parked messages back to it
// and drops expired local queues.
type Janitor struct {
	cron   *cron.Cron
	store  Prober
	queue  Maintainer
	logger *slog.Logger
}

// New schedules the janitor. schedule accepts standard cron expressions and
// descriptors such as "@every 30s". A nil store skips the probe.
func New(schedule string, store Prober, q Maintainer, logger *slog.Logger) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		store:  store,
		queue:  q,
		logger: logger.With(slog.String("component", "janitor")),
	}
	if _, err := j.cron.AddFunc(schedule, j.run); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts scheduling and waits for a running pass until ctx is done.
func (j *Janitor) Stop(ctx context.Context) error {
	select {
	case <-j.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	j.RunOnce(ctx)
}

// RunOnce performs a single pass.
func (j *Janitor) RunOnce(ctx context.Context) Report {
	var r Report
	if j.store != nil {
		r.Connected = j.store.Connect(ctx)
	}
	if r.Connected {
		n, err := j.queue.Resync(ctx)
		if err != nil {
			j.logger.Warn("resync failed", slog.Int("moved", n), slog.Any("error", err))
		}
		r.Resynced = n
	}
	r.Swept = j.queue.Sweep()

	if r.Resynced > 0 || r.Swept > 0 {
		j.logger.Info("janitor pass",
			slog.Bool("connected", r.Connected),
			slog.Int("resynced", r.Resynced),
			slog.Int("swept", r.Swept),
		)
	}
	return r
}
