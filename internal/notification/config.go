package notification

import (
	"os"
	"strconv"
	"time"
)

// Config holds dispatcher and delivery tuning. All values have defaults
// and can be overridden via environment variables.
type Config struct {
	// TickInterval is how often the claimer scans for work.
	TickInterval time.Duration

	// BatchSize bounds rows claimed per tick.
	BatchSize int

	// StaleLease is how long an ENQUEUED row may sit before it is
	// considered abandoned and re-enters the claim pool. Must exceed the
	// worst-case send duration (channel timeout plus slack).
	StaleLease time.Duration

	// MaxRetries bounds attempts per outbox message.
	MaxRetries int

	// RetryBaseDelay is the base of the exponential backoff
	// (base * 2^(attempt-1)).
	RetryBaseDelay time.Duration

	// MaxRetryDelay caps the backoff.
	MaxRetryDelay time.Duration

	// ChannelTimeout bounds each external send call.
	ChannelTimeout time.Duration

	// Concurrency is the worker pool size per process.
	Concurrency int

	// FallbackChain is the method order tried when a chain link exhausts
	// its retries.
	FallbackChain Chain
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		TickInterval:   10 * time.Second,
		BatchSize:      50,
		StaleLease:     60 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 10 * time.Second,
		MaxRetryDelay:  5 * time.Minute,
		ChannelTimeout: 10 * time.Second,
		Concurrency:    5,
		FallbackChain:  DefaultChain(),
	}
}

// LoadConfig loads tuning from environment variables.
// Recognized variables:
//   - NOTIFYD_TICK_INTERVAL_SECONDS (default: 10)
//   - NOTIFYD_BATCH_SIZE (default: 50)
//   - NOTIFYD_STALE_LEASE_SECONDS (default: 60)
//   - NOTIFYD_MAX_RETRIES (default: 3)
//   - NOTIFYD_RETRY_BASE_SECONDS (default: 10)
//   - NOTIFYD_MAX_RETRY_DELAY_SECONDS (default: 300)
//   - NOTIFYD_CHANNEL_TIMEOUT_SECONDS (default: 10)
//   - NOTIFYD_WORKER_CONCURRENCY (default: 5)
//   - NOTIFYD_FALLBACK_CHAIN (default: "SMS,TELEGRAM,EMAIL")
func LoadConfig() Config {
	cfg := DefaultConfig()

	if d, ok := envSeconds("NOTIFYD_TICK_INTERVAL_SECONDS"); ok {
		cfg.TickInterval = d
	}
	if n, ok := envInt("NOTIFYD_BATCH_SIZE"); ok {
		cfg.BatchSize = n
	}
	if d, ok := envSeconds("NOTIFYD_STALE_LEASE_SECONDS"); ok {
		cfg.StaleLease = d
	}
	if n, ok := envInt("NOTIFYD_MAX_RETRIES"); ok {
		cfg.MaxRetries = n
	}
	if d, ok := envSeconds("NOTIFYD_RETRY_BASE_SECONDS"); ok {
		cfg.RetryBaseDelay = d
	}
	if d, ok := envSeconds("NOTIFYD_MAX_RETRY_DELAY_SECONDS"); ok {
		cfg.MaxRetryDelay = d
	}
	if d, ok := envSeconds("NOTIFYD_CHANNEL_TIMEOUT_SECONDS"); ok {
		cfg.ChannelTimeout = d
	}
	if n, ok := envInt("NOTIFYD_WORKER_CONCURRENCY"); ok {
		cfg.Concurrency = n
	}
	if v := os.Getenv("NOTIFYD_FALLBACK_CHAIN"); v != "" {
		if chain, err := ParseChain(v); err == nil {
			cfg.FallbackChain = chain
		}
	}

	return cfg
}

func envInt(key string) (int, bool) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

func envSeconds(key string) (time.Duration, bool) {
	if n, ok := envInt(key); ok {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}
