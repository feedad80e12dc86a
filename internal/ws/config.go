package ws

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultURL is the stream used when no URL is configured.
const DefaultURL = "wss://stream.binance.com:9443/ws/btcusdt@ticker"

// BackoffConfig configures the exponential delay between reconnect
// attempts. Zero values fall back to the defaults below.
type BackoffConfig struct {
	InitialInterval     time.Duration `mapstructure:"initial_interval"`     // default 1s
	RandomizationFactor float64       `mapstructure:"randomization_factor"` // default 0.5, negative disables jitter
	Multiplier          float64       `mapstructure:"multiplier"`           // default 2.0
	MaxInterval         time.Duration `mapstructure:"max_interval"`         // default 30s
}

// NewBackOff returns a fresh exponential backoff. The retry budget is
// enforced by the supervisor, so the backoff itself never stops.
func (c BackoffConfig) NewBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.InitialInterval
	if bo.InitialInterval <= 0 {
		bo.InitialInterval = time.Second
	}
	switch {
	case c.RandomizationFactor < 0:
		bo.RandomizationFactor = 0
	case c.RandomizationFactor == 0:
		bo.RandomizationFactor = 0.5
	default:
		bo.RandomizationFactor = c.RandomizationFactor
	}
	bo.Multiplier = c.Multiplier
	if bo.Multiplier <= 0 {
		bo.Multiplier = 2.0
	}
	bo.MaxInterval = c.MaxInterval
	if bo.MaxInterval <= 0 {
		bo.MaxInterval = 30 * time.Second
	}
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Config is everything a Supervisor needs. It is passed explicitly at
// construction; the supervisor never reads the environment.
type Config struct {
	// Name labels logs and metrics. Defaults to the URL path.
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`

	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// ReadTimeout forces a reconnect when nothing (data or ping) arrives
	// for that long. Zero disables it.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout bounds pong and close writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// MaxRetries is the number of consecutive failed attempts tolerated
	// before Run gives up. Negative means retry forever.
	MaxRetries int           `mapstructure:"max_retries"`
	Backoff    BackoffConfig `mapstructure:"backoff"`

	// ReconnectOnClose makes a server close frame trigger a reconnect
	// instead of ending Run.
	ReconnectOnClose bool `mapstructure:"reconnect_on_close"`

	// StreamBuffer is the queue size used by Stream.
	StreamBuffer int `mapstructure:"stream_buffer"`
}

// DefaultConfig returns the configuration used for the default stream.
func DefaultConfig() Config {
	return Config{
		URL:              DefaultURL,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      5 * time.Minute,
		WriteTimeout:     5 * time.Second,
		MaxRetries:       10,
		Backoff: BackoffConfig{
			InitialInterval:     time.Second,
			RandomizationFactor: 0.5,
			Multiplier:          2.0,
			MaxInterval:         30 * time.Second,
		},
		StreamBuffer: 100,
	}
}

// Validate checks the config. Every failure is a *ConfigError.
func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return &ConfigError{Field: "url", Value: c.URL, Reason: "empty url"}
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return &ConfigError{Field: "url", Value: c.URL, Reason: "unparsable url", Err: err}
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	default:
		return &ConfigError{Field: "url", Value: c.URL, Reason: "scheme must be ws or wss"}
	}
	if u.Host == "" {
		return &ConfigError{Field: "url", Value: c.URL, Reason: "missing host"}
	}

	durations := []struct {
		field string
		value time.Duration
	}{
		{"handshake_timeout", c.HandshakeTimeout},
		{"read_timeout", c.ReadTimeout},
		{"write_timeout", c.WriteTimeout},
		{"backoff.initial_interval", c.Backoff.InitialInterval},
		{"backoff.max_interval", c.Backoff.MaxInterval},
	}
	for _, d := range durations {
		if d.value < 0 {
			return &ConfigError{Field: d.field, Value: d.value.String(), Reason: "must not be negative"}
		}
	}
	if c.Backoff.Multiplier != 0 && c.Backoff.Multiplier < 1 {
		return &ConfigError{Field: "backoff.multiplier", Value: formatFloat(c.Backoff.Multiplier), Reason: "must be at least 1"}
	}
	if c.Backoff.RandomizationFactor > 1 {
		return &ConfigError{Field: "backoff.randomization_factor", Value: formatFloat(c.Backoff.RandomizationFactor), Reason: "must not exceed 1"}
	}
	return nil
}

// label returns the name used in logs and metrics.
func (c Config) label() string {
	if c.Name != "" {
		return c.Name
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Path == "" {
		return c.URL
	}
	return strings.TrimPrefix(u.Path, "/")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
