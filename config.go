package chatsync

import (
	"time"

	"go.uber.org/zap"
)

// Default limits for the synchronization layer.
const (
	DefaultMaxMessageLength   = 4000
	DefaultReplayLimit        = 10
	DefaultSnapshotWindow     = 50
	DefaultSnapshotTokenLimit = 8000
	DefaultSnapshotTTL        = 24 * time.Hour
	DefaultLoadTimeout        = 10 * time.Second
	DefaultLoadRetries        = 3
	DefaultReplyTimeout       = 2 * time.Minute
	DefaultResubscribeDelay   = 5 * time.Second
	DefaultMaxResubscribes    = 10
	DefaultTriggerTimeout     = 15 * time.Second
)

// Config holds the tunables for the synchronization layer. It is an
// immutable value: build it once with NewConfig and pass it by value.
// Changing a setting means building a new Config, never mutating a
// shared one.
type Config struct {
	// MaxMessageLength is the maximum accepted message length in runes.
	// Longer input is refused with ErrValidation.
	MaxMessageLength int

	// ReplayLimit bounds how many cached messages recovery replays into
	// a freshly created session.
	ReplayLimit int

	// SnapshotWindow and SnapshotTokenLimit bound the message window
	// persisted into the recovery snapshot.
	SnapshotWindow     int
	SnapshotTokenLimit int

	// SnapshotTTL is the age ceiling beyond which a cached snapshot is
	// ignored by recovery.
	SnapshotTTL time.Duration

	// LoadTimeout caps a single history load; LoadRetries bounds how
	// many times a transient load failure is retried.
	LoadTimeout time.Duration
	LoadRetries int

	// ReplyTimeout is how long an assistant placeholder may stay in
	// status "processing" before it is marked as errored.
	ReplyTimeout time.Duration

	// ResubscribeDelay and MaxResubscribes control the delayed
	// reattempts after a subscription channel error.
	ResubscribeDelay time.Duration
	MaxResubscribes  int

	// TriggerTimeout caps the fire-and-forget workflow trigger call.
	TriggerTimeout time.Duration

	// Logger receives structured diagnostics. Defaults to a no-op.
	Logger *zap.Logger
}

// Option is a functional option for building a Config.
type Option func(*Config)

// NewConfig returns a Config with defaults applied, then options.
func NewConfig(opts ...Option) Config {
	cfg := Config{
		MaxMessageLength:   DefaultMaxMessageLength,
		ReplayLimit:        DefaultReplayLimit,
		SnapshotWindow:     DefaultSnapshotWindow,
		SnapshotTokenLimit: DefaultSnapshotTokenLimit,
		SnapshotTTL:        DefaultSnapshotTTL,
		LoadTimeout:        DefaultLoadTimeout,
		LoadRetries:        DefaultLoadRetries,
		ReplyTimeout:       DefaultReplyTimeout,
		ResubscribeDelay:   DefaultResubscribeDelay,
		MaxResubscribes:    DefaultMaxResubscribes,
		TriggerTimeout:     DefaultTriggerTimeout,
		Logger:             zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Config) {
		if log != nil {
			c.Logger = log
		}
	}
}

// WithMaxMessageLength sets the maximum accepted message length.
func WithMaxMessageLength(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxMessageLength = n
		}
	}
}

// WithReplayLimit bounds recovery replay.
func WithReplayLimit(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.ReplayLimit = n
		}
	}
}

// WithSnapshotWindow bounds the snapshot message window by count and
// estimated tokens.
func WithSnapshotWindow(messages, tokens int) Option {
	return func(c *Config) {
		if messages > 0 {
			c.SnapshotWindow = messages
		}
		if tokens > 0 {
			c.SnapshotTokenLimit = tokens
		}
	}
}

// WithSnapshotTTL sets the snapshot age ceiling.
func WithSnapshotTTL(ttl time.Duration) Option {
	return func(c *Config) {
		if ttl > 0 {
			c.SnapshotTTL = ttl
		}
	}
}

// WithLoadTimeout sets the history load timeout and retry bound.
func WithLoadTimeout(timeout time.Duration, retries int) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.LoadTimeout = timeout
		}
		if retries > 0 {
			c.LoadRetries = retries
		}
	}
}

// WithReplyTimeout sets how long an assistant placeholder may wait.
func WithReplyTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ReplyTimeout = timeout
		}
	}
}

// WithResubscribe sets the delay and cap for subscription reattempts.
func WithResubscribe(delay time.Duration, max int) Option {
	return func(c *Config) {
		if delay > 0 {
			c.ResubscribeDelay = delay
		}
		if max > 0 {
			c.MaxResubscribes = max
		}
	}
}

// WithTriggerTimeout caps the workflow trigger call.
func WithTriggerTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.TriggerTimeout = timeout
		}
	}
}
