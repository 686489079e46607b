package httpclient

import (
	"fmt"
	"time"
)

// Config configures the HTTP client used for registry and metric fetches.
type Config struct {
	// Timeout is the total request timeout, retries included.
	Timeout time.Duration

	// RetryAttempts is how many retries follow a failed attempt.
	// Zero disables retrying.
	RetryAttempts int

	// RetryBackoff is the delay before the first retry; later retries
	// back off exponentially from it.
	RetryBackoff time.Duration

	// MaxBackoff caps the delay between retries. Server-supplied
	// Retry-After values are clamped to it as well.
	MaxBackoff time.Duration

	// UserAgent is sent on every request. Required.
	UserAgent string
}

// DefaultConfig returns the defaults used by the daemon's fetchers.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryBackoff:  100 * time.Millisecond,
		MaxBackoff:    30 * time.Second,
		UserAgent:     "mcpdock/1.0",
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %v", c.Timeout)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must be >= 0, got %d", c.RetryAttempts)
	}
	if c.RetryAttempts > 0 {
		if c.RetryBackoff <= 0 {
			return fmt.Errorf("retry_backoff must be > 0 when retry_attempts > 0, got %v", c.RetryBackoff)
		}
		if c.MaxBackoff < c.RetryBackoff {
			return fmt.Errorf("max_backoff (%v) must be >= retry_backoff (%v)", c.MaxBackoff, c.RetryBackoff)
		}
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent is required and must be non-empty")
	}
	return nil
}
