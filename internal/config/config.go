// Package config loads and validates frontier configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Frontier   FrontierConfig   `mapstructure:"frontier"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	Seen       SeenConfig       `mapstructure:"seen"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Database   DatabaseConfig   `mapstructure:"database"`
	DeadLetter DeadLetterConfig `mapstructure:"deadletter"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Events     EventsConfig     `mapstructure:"events"`
	NATS       NATSConfig       `mapstructure:"nats"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Seeds      []string         `mapstructure:"seeds"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FrontierConfig holds dispatch and lease knobs.
type FrontierConfig struct {
	UserAgent                string           `mapstructure:"user_agent"`
	LeaseTimeout             time.Duration    `mapstructure:"lease_timeout"`
	SweepInterval            time.Duration    `mapstructure:"sweep_interval"`
	MinWaitHint              time.Duration    `mapstructure:"min_wait_hint"`
	MaxWaitHint              time.Duration    `mapstructure:"max_wait_hint"`
	GroupByRegistrableDomain bool             `mapstructure:"group_by_registrable_domain"`
	Overrides                []OverrideConfig `mapstructure:"overrides"`
}

// OverrideConfig is one per-domain override. It is a list entry rather than a
// map key because Viper splits keys on dots.
type OverrideConfig struct {
	Domain                 string `mapstructure:"domain"`
	crawler.DomainOverride `mapstructure:",squash"`
}

// RateLimitConfig governs per-domain spacing and adaptive backoff.
type RateLimitConfig struct {
	DefaultCrawlDelay time.Duration `mapstructure:"default_crawl_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	Burst             int           `mapstructure:"burst"`
	BackoffFactor     float64       `mapstructure:"backoff_factor"`
	DecayFactor       float64       `mapstructure:"decay_factor"`
	DecayAfter        int           `mapstructure:"decay_after"`
}

// RetryConfig bounds retries per error class.
type RetryConfig struct {
	MaxAttempts          int           `mapstructure:"max_attempts"`
	ThrottleMaxAttempts  int           `mapstructure:"throttle_max_attempts"`
	ChallengeMaxAttempts int           `mapstructure:"challenge_max_attempts"`
	TransportMaxAttempts int           `mapstructure:"transport_max_attempts"`
	ServerMaxAttempts    int           `mapstructure:"server_max_attempts"`
	MalformedMaxAttempts int           `mapstructure:"malformed_max_attempts"`
	BaseDelay            time.Duration `mapstructure:"base_delay"`
	MaxDelay             time.Duration `mapstructure:"max_delay"`
	Jitter               bool          `mapstructure:"jitter"`
	MaxRetryAfter        time.Duration `mapstructure:"max_retry_after"`
}

// EscalationConfig tunes the direct→rendered ladder.
type EscalationConfig struct {
	RenderRetryCap int `mapstructure:"render_retry_cap"`
	SmallBodyBytes int `mapstructure:"small_body_bytes"`
	ReprobeEvery   int `mapstructure:"reprobe_every"`
}

// PolitenessConfig controls robots.txt caching.
type PolitenessConfig struct {
	RobotsTTL          time.Duration `mapstructure:"robots_ttl"`
	RobotsFailureRetry time.Duration `mapstructure:"robots_failure_retry"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
}

// SeenConfig selects the seen-set backend.
type SeenConfig struct {
	Backend       string  `mapstructure:"backend"`
	BloomExpected uint    `mapstructure:"bloom_expected"`
	BloomFPRate   float64 `mapstructure:"bloom_fp_rate"`
}

// RedisConfig configures the Redis seen store.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	SeenTable       string        `mapstructure:"seen_table"`
	DeadLetterTable string        `mapstructure:"deadletter_table"`
}

// DeadLetterConfig selects where terminal failures are recorded.
type DeadLetterConfig struct {
	Backend  string `mapstructure:"backend"`
	Capacity int    `mapstructure:"capacity"`
	// KafkaMirror additionally writes every record to kafka.topic.
	KafkaMirror bool `mapstructure:"kafka_mirror"`
}

// KafkaConfig holds broker settings for the dead-letter mirror.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// EventsConfig enables lifecycle event sinks.
type EventsConfig struct {
	Log        bool          `mapstructure:"log"`
	NATS       bool          `mapstructure:"nats"`
	PubSub     bool          `mapstructure:"pubsub"`
	BufferSize int           `mapstructure:"buffer_size"`
	BatchWait  time.Duration `mapstructure:"batch_wait"`
	// Recent is how many events GET /v1/events/recent retains; 0 disables it.
	Recent int `mapstructure:"recent"`
}

// NATSConfig holds JetStream connection metadata.
type NATSConfig struct {
	URL      string   `mapstructure:"url"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	Stream   string   `mapstructure:"stream"`
	Subjects []string `mapstructure:"subjects"`
	Subject  string   `mapstructure:"subject"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// CheckpointConfig controls frontier snapshots.
type CheckpointConfig struct {
	Backend  string        `mapstructure:"backend"`
	Interval time.Duration `mapstructure:"interval"`
	Path     string        `mapstructure:"path"`
	Restore  bool          `mapstructure:"restore"`
}

// StorageConfig sets locations for blob persistence.
type StorageConfig struct {
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// WorkerConfig controls the bundled pull workers.
type WorkerConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	Concurrency  int            `mapstructure:"concurrency"`
	FrontierURL  string         `mapstructure:"frontier_url"`
	Timeout      time.Duration  `mapstructure:"timeout"`
	MaxRedirects int            `mapstructure:"max_redirects"`
	MaxBodyBytes int            `mapstructure:"max_body_bytes"`
	FollowLinks  bool           `mapstructure:"follow_links"`
	MaxLinks     int            `mapstructure:"max_links"`
	Headless     HeadlessConfig `mapstructure:"headless"`
	Persist      PersistConfig  `mapstructure:"persist"`
	Detector     DetectorConfig `mapstructure:"detector"`
}

// HeadlessConfig configures the rendered fetch method.
type HeadlessConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	NavTimeout   time.Duration `mapstructure:"nav_timeout"`
	ExecPath     string        `mapstructure:"exec_path"`
	WaitSelector string        `mapstructure:"wait_selector"`
	Settle       time.Duration `mapstructure:"settle"`
}

// PersistConfig controls storing fetched pages.
type PersistConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
	Topic       string `mapstructure:"topic"`
}

// DetectorConfig tunes challenge and thin-body heuristics.
type DetectorConfig struct {
	ThinBytes        int      `mapstructure:"thin_bytes"`
	MinTextChars     int      `mapstructure:"min_text_chars"`
	ContentSelectors []string `mapstructure:"content_selectors"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v, err := newViper(path)
	if err != nil {
		return Config{}, err
	}
	return decode(v)
}

// Watch re-reads path whenever it changes and swaps the rebuilt settings
// snapshot into holder. Invalid edits are logged and ignored.
func Watch(path string, holder *crawler.SettingsHolder, logger *zap.Logger) error {
	if path == "" {
		return fmt.Errorf("config watch requires a file path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	v, err := newViper(path)
	if err != nil {
		return err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		reload(v, holder, logger.With(zap.String("file", e.Name)))
	})
	v.WatchConfig()
	return nil
}

func reload(v *viper.Viper, holder *crawler.SettingsHolder, logger *zap.Logger) {
	cfg, err := decode(v)
	if err != nil {
		logger.Warn("config reload rejected", zap.Error(err))
		return
	}
	version := holder.Store(cfg.Settings())
	logger.Info("settings reloaded", zap.Uint64("version", version))
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := crawler.DefaultSettings()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("frontier.user_agent", d.UserAgent)
	v.SetDefault("frontier.lease_timeout", d.LeaseTimeout)
	v.SetDefault("frontier.sweep_interval", "5s")
	v.SetDefault("frontier.min_wait_hint", d.MinWaitHint)
	v.SetDefault("frontier.max_wait_hint", d.MaxWaitHint)
	v.SetDefault("frontier.group_by_registrable_domain", false)

	v.SetDefault("ratelimit.default_crawl_delay", d.DefaultCrawlDelay)
	v.SetDefault("ratelimit.max_delay", d.MaxDelay)
	v.SetDefault("ratelimit.burst", d.Burst)
	v.SetDefault("ratelimit.backoff_factor", d.BackoffFactor)
	v.SetDefault("ratelimit.decay_factor", d.DecayFactor)
	v.SetDefault("ratelimit.decay_after", d.DecayAfter)

	v.SetDefault("retry.max_attempts", d.MaxAttempts)
	v.SetDefault("retry.throttle_max_attempts", d.ThrottleMaxAttempts)
	v.SetDefault("retry.challenge_max_attempts", d.ChallengeMaxAttempts)
	v.SetDefault("retry.transport_max_attempts", d.TransportMaxAttempts)
	v.SetDefault("retry.server_max_attempts", d.ServerMaxAttempts)
	v.SetDefault("retry.malformed_max_attempts", d.MalformedMaxAttempts)
	v.SetDefault("retry.base_delay", d.RetryBaseDelay)
	v.SetDefault("retry.max_delay", d.RetryMaxDelay)
	v.SetDefault("retry.jitter", d.RetryJitter)
	v.SetDefault("retry.max_retry_after", d.MaxRetryAfter)

	v.SetDefault("escalation.render_retry_cap", d.RenderRetryCap)
	v.SetDefault("escalation.small_body_bytes", d.SmallBodyBytes)
	v.SetDefault("escalation.reprobe_every", d.ReprobeEvery)

	v.SetDefault("politeness.robots_ttl", d.RobotsTTL)
	v.SetDefault("politeness.robots_failure_retry", d.RobotsFailureRetry)
	v.SetDefault("politeness.fetch_timeout", "10s")

	v.SetDefault("seen.backend", "memory")
	v.SetDefault("seen.bloom_expected", 1_000_000)
	v.SetDefault("seen.bloom_fp_rate", 0.01)
	v.SetDefault("redis.prefix", "frontier:seen:")
	v.SetDefault("database.seen_table", "frontier_seen")
	v.SetDefault("database.deadletter_table", "frontier_deadletters")
	v.SetDefault("deadletter.backend", "memory")
	v.SetDefault("deadletter.capacity", 10_000)
	v.SetDefault("kafka.topic", "frontier.deadletters")

	v.SetDefault("events.log", true)
	v.SetDefault("events.buffer_size", 4096)
	v.SetDefault("events.batch_wait", "250ms")
	v.SetDefault("events.recent", 256)
	v.SetDefault("nats.subject", "frontier.events")

	v.SetDefault("checkpoint.backend", "memory")
	v.SetDefault("checkpoint.interval", "1m")
	v.SetDefault("checkpoint.restore", true)
	v.SetDefault("storage.local_dir", "./data")

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.timeout", "15s")
	v.SetDefault("worker.max_redirects", 10)
	v.SetDefault("worker.max_body_bytes", 10<<20)
	v.SetDefault("worker.max_links", 100)
	v.SetDefault("worker.headless.nav_timeout", "25s")
	v.SetDefault("worker.headless.wait_selector", "body")
	v.SetDefault("worker.headless.settle", "500ms")
	v.SetDefault("worker.persist.prefix", "pages")
	v.SetDefault("worker.persist.content_type", "text/html; charset=utf-8")
	v.SetDefault("worker.detector.thin_bytes", 2048)
	v.SetDefault("worker.detector.min_text_chars", 200)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Frontier.LeaseTimeout <= 0 {
		return fmt.Errorf("frontier.lease_timeout must be > 0")
	}
	if c.Frontier.MaxWaitHint > 0 && c.Frontier.MaxWaitHint < c.Frontier.MinWaitHint {
		return fmt.Errorf("frontier.max_wait_hint must be >= frontier.min_wait_hint")
	}
	if c.RateLimit.BackoffFactor < 1 {
		return fmt.Errorf("ratelimit.backoff_factor must be >= 1")
	}
	if c.RateLimit.DecayFactor <= 0 || c.RateLimit.DecayFactor > 1 {
		return fmt.Errorf("ratelimit.decay_factor must be in (0, 1]")
	}
	if c.RateLimit.Burst <= 0 {
		return fmt.Errorf("ratelimit.burst must be > 0")
	}
	for i, o := range c.Frontier.Overrides {
		if strings.TrimSpace(o.Domain) == "" {
			return fmt.Errorf("frontier.overrides[%d].domain is required", i)
		}
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	switch c.Seen.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set when seen.backend is redis")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when seen.backend is postgres")
		}
	default:
		return fmt.Errorf("seen.backend %q is not supported", c.Seen.Backend)
	}
	switch c.DeadLetter.Backend {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when deadletter.backend is postgres")
		}
	default:
		return fmt.Errorf("deadletter.backend %q is not supported", c.DeadLetter.Backend)
	}
	if c.DeadLetter.KafkaMirror && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must be set when deadletter.kafka_mirror is enabled")
	}
	if c.Events.NATS && c.NATS.URL == "" {
		return fmt.Errorf("nats.url must be set when events.nats is enabled")
	}
	if c.Events.PubSub && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when events.pubsub is enabled")
	}
	switch c.Checkpoint.Backend {
	case "memory", "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when checkpoint.backend is gcs")
		}
	default:
		return fmt.Errorf("checkpoint.backend %q is not supported", c.Checkpoint.Backend)
	}
	if c.Worker.Enabled && c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0 when workers are enabled")
	}
	return nil
}

// Settings converts the hot-reloadable parts of the config into a frontier
// settings snapshot.
func (c Config) Settings() crawler.Settings {
	s := crawler.DefaultSettings()
	s.UserAgent = c.Frontier.UserAgent
	s.LeaseTimeout = c.Frontier.LeaseTimeout
	s.MinWaitHint = c.Frontier.MinWaitHint
	s.MaxWaitHint = c.Frontier.MaxWaitHint
	s.GroupByRegistrableDomain = c.Frontier.GroupByRegistrableDomain
	if len(c.Frontier.Overrides) > 0 {
		s.Overrides = make(map[string]crawler.DomainOverride, len(c.Frontier.Overrides))
		for _, o := range c.Frontier.Overrides {
			s.Overrides[o.Domain] = o.DomainOverride
		}
	}

	s.DefaultCrawlDelay = c.RateLimit.DefaultCrawlDelay
	s.MaxDelay = c.RateLimit.MaxDelay
	s.Burst = c.RateLimit.Burst
	s.BackoffFactor = c.RateLimit.BackoffFactor
	s.DecayFactor = c.RateLimit.DecayFactor
	s.DecayAfter = c.RateLimit.DecayAfter

	s.MaxAttempts = c.Retry.MaxAttempts
	s.ThrottleMaxAttempts = c.Retry.ThrottleMaxAttempts
	s.ChallengeMaxAttempts = c.Retry.ChallengeMaxAttempts
	s.TransportMaxAttempts = c.Retry.TransportMaxAttempts
	s.ServerMaxAttempts = c.Retry.ServerMaxAttempts
	s.MalformedMaxAttempts = c.Retry.MalformedMaxAttempts
	s.RetryBaseDelay = c.Retry.BaseDelay
	s.RetryMaxDelay = c.Retry.MaxDelay
	s.RetryJitter = c.Retry.Jitter
	s.MaxRetryAfter = c.Retry.MaxRetryAfter

	s.RenderRetryCap = c.Escalation.RenderRetryCap
	s.SmallBodyBytes = c.Escalation.SmallBodyBytes
	s.ReprobeEvery = c.Escalation.ReprobeEvery

	s.RobotsTTL = c.Politeness.RobotsTTL
	s.RobotsFailureRetry = c.Politeness.RobotsFailureRetry
	return s
}
