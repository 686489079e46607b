package httpclient

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"
)

// retryTransport re-issues read requests that failed transiently. The
// daemon's outbound traffic is GETs against registry and metrics APIs,
// so only safe methods are ever retried; anything else passes through
// as a single attempt.
type retryTransport struct {
	base        http.RoundTripper
	retries     int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func newRetryTransport(base http.RoundTripper, cfg Config) *retryTransport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &retryTransport{
		base:        base,
		retries:     cfg.RetryAttempts,
		baseBackoff: cfg.RetryBackoff,
		maxBackoff:  cfg.MaxBackoff,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return t.base.RoundTrip(req)
	}

	for attempt := 0; ; attempt++ {
		resp, err := t.base.RoundTrip(req)

		var retryable bool
		if err != nil {
			retryable = retryableError(err)
		} else {
			retryable = retryableStatus(resp.StatusCode)
		}
		if !retryable || attempt == t.retries {
			return resp, err
		}

		delay := t.backoffDelay(attempt)
		if err == nil {
			// Rate-limited APIs tell us when to come back.
			if after := retryAfterDelay(resp); after > delay {
				delay = min(after, t.maxBackoff)
			}
			resp.Body.Close()
		}

		select {
		case <-time.After(delay):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
}

// retryableStatus covers server errors plus the two transient 4xx codes.
func retryableStatus(code int) bool {
	return code >= 500 ||
		code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests
}

// retryableError reports whether a transport failure is worth another
// attempt. Context cancellation never is.
func retryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// backoffDelay doubles the base delay per attempt, capped at maxBackoff,
// with up to 20% jitter so callers don't retry in lockstep.
func (t *retryTransport) backoffDelay(attempt int) time.Duration {
	delay := t.baseBackoff << attempt
	if delay <= 0 || delay > t.maxBackoff {
		delay = t.maxBackoff
	}
	return delay + time.Duration(rand.Int64N(int64(delay)/5+1))
}

// retryAfterDelay reads the Retry-After header, in either seconds or
// HTTP-date form. Zero means no usable header.
func retryAfterDelay(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		return time.Until(at)
	}
	return 0
}
