package httppub

import (
	"fmt"
	"time"
)

// Config tunes every direct publish client built by the factory.
type Config struct {
	// TimeoutMS bounds one HTTP request.
	TimeoutMS int `json:"timeout_ms"`
	// MaxRetries is the number of extra attempts after a transport error
	// or a 5xx response.
	MaxRetries int `json:"max_retries"`
	BackoffMS  int `json:"backoff_ms"`
	// QueueSize is the number of asynchronous publishes buffered per
	// client before Publish blocks.
	QueueSize int `json:"queue_size"`
	// MaxBatch caps how many queued items are sent in one request.
	MaxBatch int `json:"max_batch"`
	// TokenTTLSeconds is the lifetime of generated JWTs.
	TokenTTLSeconds int `json:"token_ttl_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.TimeoutMS <= 0 {
		c.TimeoutMS = 10000
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 10
	}
	if c.TokenTTLSeconds <= 0 {
		c.TokenTTLSeconds = 3600
	}
}

// Validate checks the ranges of the settings.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.MaxRetries > 10 {
		return fmt.Errorf("max_retries must be at most 10")
	}
	return nil
}

func (c Config) timeout() time.Duration { return time.Duration(c.TimeoutMS) * time.Millisecond }
func (c Config) backoff() time.Duration { return time.Duration(c.BackoffMS) * time.Millisecond }
func (c Config) tokenTTL() time.Duration {
	return time.Duration(c.TokenTTLSeconds) * time.Second
}
