package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DefaultConfigPath    = "config.toml"
	DefaultHTTPAddr      = ":8000"
	DefaultStoreMode     = "shared-with-fallback"
	DefaultSessionTTL    = "1h"
	DefaultMessageTTL    = "1h"
	DefaultDialTimeout   = "5s"
	DefaultCooldown      = "30s"
	DefaultPollInterval  = "3s"
	DefaultHeartbeat     = 5
	DefaultBodyLimit     = "1M"
	DefaultBroadcast     = "registered"
	DefaultJanitorSpec   = "@every 30s"
	DefaultEventExchange = "relay"
	DefaultArchiveTable  = "browser_sessions"
	DefaultArchiveCache  = "5m"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Store    StoreConfig    `toml:"store"`
	Stream   StreamConfig   `toml:"stream"`
	Webhook  WebhookConfig  `toml:"webhook"`
	Debug    DebugConfig    `toml:"debug"`
	Janitor  JanitorConfig  `toml:"janitor"`
	Events   EventsConfig   `toml:"events"`
	Supabase SupabaseConfig `toml:"supabase"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type StoreConfig struct {
	Mode        string `toml:"mode"`
	RedisURL    string `toml:"redis_url"`
	RedisAddr   string `toml:"redis_addr"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	DialTimeout string `toml:"dial_timeout"`
	Cooldown    string `toml:"cooldown"`
	SessionTTL  string `toml:"session_ttl"`
	MessageTTL  string `toml:"message_ttl"`
}

type StreamConfig struct {
	PollInterval   string `toml:"poll_interval"`
	HeartbeatEvery int    `toml:"heartbeat_every"`
}

type WebhookConfig struct {
	// BroadcastFallback is "registered" or "off".
	BroadcastFallback string `toml:"broadcast_fallback"`
	BodyLimit         string `toml:"body_limit"`
}

type DebugConfig struct {
	Enabled  bool   `toml:"enabled"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type JanitorConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"`
}

type EventsConfig struct {
	AMQPURL  string `toml:"amqp_url"`
	Exchange string `toml:"exchange"`
}

type SupabaseConfig struct {
	URL      string `toml:"url"`
	APIKey   string `toml:"api_key"`
	Table    string `toml:"table"`
	CacheTTL string `toml:"cache_ttl"`
}

func (c StoreConfig) DialTimeoutDuration() time.Duration {
	return parseDuration(c.DialTimeout, DefaultDialTimeout)
}

func (c StoreConfig) CooldownDuration() time.Duration {
	return parseDuration(c.Cooldown, DefaultCooldown)
}

func (c StoreConfig) SessionTTLDuration() time.Duration {
	return parseDuration(c.SessionTTL, DefaultSessionTTL)
}

func (c StoreConfig) MessageTTLDuration() time.Duration {
	return parseDuration(c.MessageTTL, DefaultMessageTTL)
}

func (c StreamConfig) PollIntervalDuration() time.Duration {
	return parseDuration(c.PollInterval, DefaultPollInterval)
}

func (c SupabaseConfig) CacheTTLDuration() time.Duration {
	return parseDuration(c.CacheTTL, DefaultArchiveCache)
}

func parseDuration(s, fallback string) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(fallback)
	return d
}

func defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Store: StoreConfig{
			Mode:        DefaultStoreMode,
			DialTimeout: DefaultDialTimeout,
			Cooldown:    DefaultCooldown,
			SessionTTL:  DefaultSessionTTL,
			MessageTTL:  DefaultMessageTTL,
		},
		Stream: StreamConfig{
			PollInterval:   DefaultPollInterval,
			HeartbeatEvery: DefaultHeartbeat,
		},
		Webhook: WebhookConfig{
			BroadcastFallback: DefaultBroadcast,
			BodyLimit:         DefaultBodyLimit,
		},
		Debug: DebugConfig{
			Enabled:  true,
			Username: "admin",
		},
		Janitor: JanitorConfig{
			Enabled:  true,
			Schedule: DefaultJanitorSpec,
		},
		Events: EventsConfig{
			Exchange: DefaultEventExchange,
		},
		Supabase: SupabaseConfig{
			Table:    DefaultArchiveTable,
			CacheTTL: DefaultArchiveCache,
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error. A .env file in the working directory is
// loaded first when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	set(&cfg.Log.Level, "LOG_LEVEL")
	set(&cfg.Log.Format, "LOG_FORMAT")
	set(&cfg.Server.Addr, "SERVER_ADDR")
	set(&cfg.Store.Mode, "STORE_MODE")
	set(&cfg.Store.RedisURL, "REDIS_URL")
	set(&cfg.Store.RedisAddr, "REDIS_ADDR")
	set(&cfg.Store.Username, "REDIS_USERNAME")
	set(&cfg.Store.Password, "REDIS_PASSWORD")
	set(&cfg.Webhook.BroadcastFallback, "WEBHOOK_BROADCAST_FALLBACK")
	set(&cfg.Debug.Password, "CONFIG_PASSWORD")
	set(&cfg.Events.AMQPURL, "AMQP_URL")
	set(&cfg.Supabase.URL, "SUPABASE_URL")
	set(&cfg.Supabase.APIKey, "SUPABASE_KEY")
}
