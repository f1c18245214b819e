package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/creastat/relay"
	"github.com/creastat/relay/config"
	"github.com/creastat/relay/events"
	"github.com/creastat/relay/handlers"
	"github.com/creastat/relay/janitor"
	"github.com/creastat/relay/logger"
	"github.com/creastat/relay/queue"
	"github.com/creastat/relay/server"
	"github.com/creastat/relay/session"
	"github.com/creastat/relay/store"
	"github.com/creastat/relay/stream"
	"github.com/creastat/relay/supabase"
	"github.com/creastat/relay/webhook"
)

func runServe(configPath string) error {
	app := fx.New(
		fx.Supply(configFile(configPath)),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideMode,
			provideStore,
			providePublisher,
			provideArchive,
			provideRegistry,
			provideQueue,
			stream.NewConnections,
			provideStreamer,
			provideWebhookService,
			provideJanitor,
			provideServerHandler(handlers.NewSessionHandler),
			provideServerHandler(handlers.NewStreamHandler),
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(handlers.NewMessagesHandler),
			provideServerHandler(provideDebugHandler),
			provideServerHandler(provideHealthHandler),
			provideServer,
		),
		fx.Invoke(
			startStore,
			startJanitor,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

type configFile string

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(path configFile) (config.Config, error) {
	cfg, err := config.Load(string(path))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	return logger.New(cfg.Log.Level, cfg.Log.Format)
}

func provideStore(lc fx.Lifecycle, cfg config.Config, log *slog.Logger) (*store.Adapter, error) {
	adapter, err := store.New(store.Config{
		URL:         cfg.Store.RedisURL,
		Addr:        cfg.Store.RedisAddr,
		Username:    cfg.Store.Username,
		Password:    cfg.Store.Password,
		DialTimeout: cfg.Store.DialTimeoutDuration(),
		Cooldown:    cfg.Store.CooldownDuration(),
	}, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return adapter.Close()
		},
	})
	return adapter, nil
}

// provideMode resolves the configured mode. Without a configured store the
// fallback mode degrades to local and the shared mode is refused.
func provideMode(cfg config.Config, adapter *store.Adapter, log *slog.Logger) (relay.Mode, error) {
	mode, err := relay.ParseMode(cfg.Store.Mode)
	if err != nil {
		return "", err
	}
	if adapter.Enabled() {
		return mode, nil
	}
	switch mode {
	case relay.ModeShared:
		return "", fmt.Errorf("%w: mode %q needs redis_url or a redis password", relay.ErrInvalidConfig, mode)
	case relay.ModeSharedWithFallback:
		log.Warn("no shared store configured, running in local mode")
		return relay.ModeLocal, nil
	}
	return mode, nil
}

func providePublisher(lc fx.Lifecycle, cfg config.Config, log *slog.Logger) events.Publisher {
	if cfg.Events.AMQPURL == "" {
		return events.Nop{}
	}
	pub, err := events.NewAMQPPublisher(context.Background(), events.AMQPConfig{
		URL:      cfg.Events.AMQPURL,
		Exchange: cfg.Events.Exchange,
		Producer: "relay",
	}, log)
	if err != nil {
		log.Warn("event publisher unavailable, events disabled", slog.Any("error", err))
		return events.Nop{}
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return pub.Close()
		},
	})
	return pub
}

func provideArchive(cfg config.Config, log *slog.Logger) (session.Archive, error) {
	if cfg.Supabase.URL == "" || cfg.Supabase.APIKey == "" {
		return nil, nil
	}
	client, err := supabase.New(supabase.Config{
		URL:      cfg.Supabase.URL,
		APIKey:   cfg.Supabase.APIKey,
		Table:    cfg.Supabase.Table,
		CacheTTL: cfg.Supabase.CacheTTLDuration(),
	})
	if err != nil {
		return nil, err
	}
	log.Info("session archive enabled", slog.String("table", cfg.Supabase.Table))
	return client, nil
}

func provideRegistry(mode relay.Mode, cfg config.Config, adapter *store.Adapter, archive session.Archive, pub events.Publisher, log *slog.Logger) (*session.Registry, error) {
	opts := []session.RegistryOption{
		session.WithPublisher(pub),
		session.WithLogger(log),
	}
	if archive != nil {
		opts = append(opts, session.WithArchive(archive))
	}
	if mode.UsesShared() {
		shared, err := session.NewStore(session.StoreTypeRedis,
			session.WithRedisClient(adapter.Client()),
			session.WithRedisTTL(cfg.Store.SessionTTLDuration()),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, session.WithShared(shared, adapter))
	}
	return session.NewRegistry(mode, opts...)
}

func provideQueue(mode relay.Mode, cfg config.Config, adapter *store.Adapter, log *slog.Logger) (*queue.Policy, error) {
	ttl := cfg.Store.MessageTTLDuration()
	opts := []queue.PolicyOption{queue.WithLogger(log)}
	if mode.UsesShared() {
		shared, err := queue.NewStore(queue.StoreTypeRedis,
			queue.WithRedisClient(adapter.Client()),
			queue.WithTTL(ttl),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, queue.WithShared(shared, adapter))
	}
	return queue.NewPolicy(mode, queue.NewMemoryQueue(queue.WithTTL(ttl)), opts...)
}

func provideStreamer(q *queue.Policy, conns *stream.Connections, pub events.Publisher, cfg config.Config, log *slog.Logger) *stream.Streamer {
	s := stream.NewStreamer(q, conns, pub, log)
	s.Interval = cfg.Stream.PollIntervalDuration()
	s.HeartbeatEvery = cfg.Stream.HeartbeatEvery
	return s
}

func provideWebhookService(q *queue.Policy, registry *session.Registry, pub events.Publisher, cfg config.Config, log *slog.Logger) (*webhook.Service, error) {
	policy, err := webhook.ParseBroadcastPolicy(cfg.Webhook.BroadcastFallback)
	if err != nil {
		return nil, err
	}
	return webhook.NewService(q, registry,
		webhook.WithBroadcastPolicy(policy),
		webhook.WithPublisher(pub),
		webhook.WithLogger(log),
	), nil
}

func provideJanitor(cfg config.Config, adapter *store.Adapter, q *queue.Policy, log *slog.Logger) (*janitor.Janitor, error) {
	var prober janitor.Prober
	if adapter.Enabled() {
		prober = adapter
	}
	return janitor.New(cfg.Janitor.Schedule, prober, q, log)
}

func provideWebhookHandler(log *slog.Logger, svc *webhook.Service, cfg config.Config) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, svc, cfg.Webhook.BodyLimit)
}

func provideDebugHandler(log *slog.Logger, cfg config.Config, registry *session.Registry, q *queue.Policy, conns *stream.Connections, adapter *store.Adapter) *handlers.DebugHandler {
	return handlers.NewDebugHandler(log, handlers.DebugConfig{
		Enabled:  cfg.Debug.Enabled,
		Username: cfg.Debug.Username,
		Password: cfg.Debug.Password,
	}, registry, q, conns, adapter)
}

func provideHealthHandler(adapter *store.Adapter) *handlers.HealthHandler {
	return handlers.NewHealthHandler(adapter)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.New(params.Config.Server.Addr, params.Logger, params.ServerHandlers...)
}

func startStore(lc fx.Lifecycle, adapter *store.Adapter, mode relay.Mode, log *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !mode.UsesShared() {
				return nil
			}
			if adapter.Connect(ctx) {
				log.Info("connected to shared store", slog.String("mode", string(mode)))
			} else {
				log.Warn("shared store unreachable at startup", slog.String("mode", string(mode)))
			}
			return nil
		},
	})
}

func startJanitor(lc fx.Lifecycle, cfg config.Config, j *janitor.Janitor) {
	if !cfg.Janitor.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			j.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return j.Stop(ctx)
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, streamer *stream.Streamer, registry *session.Registry, q *queue.Policy) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting relay", slog.String("version", version), slog.String("addr", srv.Addr()))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// Open streams never finish on their own; end them so Shutdown can drain.
			streamer.Shutdown()
			var stopErr error
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				stopErr = fmt.Errorf("server stop: %w", err)
			}
			return errors.Join(stopErr, q.Close(), registry.Close())
		},
	})
}
