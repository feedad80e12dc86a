package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Dea1h/AtlasEngine/internal/system"
	"github.com/Dea1h/AtlasEngine/internal/ws"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. ATLAS_LOG_LEVEL.
const EnvPrefix = "ATLAS"

// LegacyURLEnv overrides the stream URL when ATLAS_STREAM_URLS is unset.
const LegacyURLEnv = "TRADING_HOSTNAME"

// Config is the fully resolved application configuration.
type Config struct {
	Log     LogConfig       `mapstructure:"log"`
	Stream  StreamConfig    `mapstructure:"stream"`
	Metrics MetricsConfig   `mapstructure:"metrics"`
	Kafka   KafkaConfig     `mapstructure:"kafka"`
	System  system.Settings `mapstructure:"system"`
	Console bool            `mapstructure:"console"`
	// ConsoleVerbose prints tickers as a table
	ConsoleVerbose bool `mapstructure:"console_verbose"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// StreamConfig holds the supervisor settings shared by every URL.
type StreamConfig struct {
	URLs             []string         `mapstructure:"urls"`
	HandshakeTimeout time.Duration    `mapstructure:"handshake_timeout"`
	ReadTimeout      time.Duration    `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration    `mapstructure:"write_timeout"`
	MaxRetries       int              `mapstructure:"max_retries"`
	ReconnectOnClose bool             `mapstructure:"reconnect_on_close"`
	Backoff          ws.BackoffConfig `mapstructure:"backoff"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type KafkaConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Brokers          []string      `mapstructure:"brokers"`
	TopicPrefix      string        `mapstructure:"topic_prefix"`
	PoolSize         int           `mapstructure:"pool_size"`
	ClientID         string        `mapstructure:"client_id"`
	SendTimeout      time.Duration `mapstructure:"send_timeout"`
	CheckTimeout     time.Duration `mapstructure:"check_timeout"`
	EnsureTopics     bool          `mapstructure:"ensure_topics"`
	Partitions       int32         `mapstructure:"partitions"`
	Replication      int16         `mapstructure:"replication"`
	DeadLetter       bool          `mapstructure:"dead_letter"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

// Topic returns the Kafka topic for a bus topic name.
func (k KafkaConfig) Topic(name string) string {
	if k.TopicPrefix == "" {
		return name
	}
	return k.TopicPrefix + "." + name
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	def := ws.DefaultConfig()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("stream.urls", []string{ws.DefaultURL})
	v.SetDefault("stream.handshake_timeout", def.HandshakeTimeout)
	v.SetDefault("stream.read_timeout", def.ReadTimeout)
	v.SetDefault("stream.write_timeout", def.WriteTimeout)
	v.SetDefault("stream.max_retries", def.MaxRetries)
	v.SetDefault("stream.reconnect_on_close", false)
	v.SetDefault("stream.backoff.initial_interval", def.Backoff.InitialInterval)
	v.SetDefault("stream.backoff.randomization_factor", def.Backoff.RandomizationFactor)
	v.SetDefault("stream.backoff.multiplier", def.Backoff.Multiplier)
	v.SetDefault("stream.backoff.max_interval", def.Backoff.MaxInterval)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "atlas")
	v.SetDefault("kafka.pool_size", 4)
	v.SetDefault("kafka.client_id", "atlas-engine")
	v.SetDefault("kafka.send_timeout", 5*time.Second)
	v.SetDefault("kafka.check_timeout", 5*time.Second)
	v.SetDefault("kafka.ensure_topics", false)
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("kafka.replication", 1)
	v.SetDefault("kafka.dead_letter", false)
	v.SetDefault("kafka.breaker_threshold", 5)
	v.SetDefault("kafka.breaker_timeout", 30*time.Second)

	sys := system.DefaultSettings()
	v.SetDefault("system.maxprocs", sys.MaxProcs)
	v.SetDefault("system.gcpercent", sys.GCPercent)
	v.SetDefault("system.maxthreads", sys.MaxThreads)
	v.SetDefault("system.maxstacksize", sys.MaxStackSize)
	v.SetDefault("system.memorylimit", sys.MemoryLimit)
	v.SetDefault("system.cpuprofile", "")
	v.SetDefault("system.memprofile", "")
	v.SetDefault("system.pprof_addr", "")

	v.SetDefault("console", true)
	v.SetDefault("console_verbose", false)
}

// Load resolves the configuration from defaults, an optional config file,
// the environment and any flags already bound to v.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("stream.urls", EnvPrefix+"_STREAM_URLS", LegacyURLEnv); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Stream.URLs = splitURLs(cfg.Stream.URLs)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitURLs accepts comma or whitespace separated entries.
func splitURLs(in []string) []string {
	var out []string
	for _, s := range in {
		for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' }) {
			out = append(out, f)
		}
	}
	return out
}

// Validate checks every section. Stream problems are *ws.ConfigError.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level %q: %w", c.Log.Level, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format %q: must be text or json", c.Log.Format)
	}

	if len(c.Stream.URLs) == 0 {
		return &ws.ConfigError{Field: "stream.urls", Reason: "at least one url is required"}
	}
	for _, sc := range c.Supervisors() {
		if err := sc.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.PoolSize <= 0 {
			return fmt.Errorf("kafka.pool_size must be greater than 0")
		}
	}
	return nil
}

// Supervisors returns one supervisor config per stream URL.
func (c *Config) Supervisors() []ws.Config {
	out := make([]ws.Config, 0, len(c.Stream.URLs))
	for _, u := range c.Stream.URLs {
		sc := ws.DefaultConfig()
		sc.URL = u
		sc.HandshakeTimeout = c.Stream.HandshakeTimeout
		sc.ReadTimeout = c.Stream.ReadTimeout
		sc.WriteTimeout = c.Stream.WriteTimeout
		sc.MaxRetries = c.Stream.MaxRetries
		sc.ReconnectOnClose = c.Stream.ReconnectOnClose
		sc.Backoff = c.Stream.Backoff
		out = append(out, sc)
	}
	return out
}

// ConfigureLogging applies the log level and format to the standard logrus logger.
func (c LogConfig) ConfigureLogging() error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	if c.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
