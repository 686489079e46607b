package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func retryTestConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBackoff = 10 * time.Millisecond
	return cfg
}

func TestRetryTransport_SuccessOnFirstAttempt(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := newRetryTransport(http.DefaultTransport, retryTestConfig())

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryTransport_RetriesTransientStatuses(t *testing.T) {
	for _, code := range []int{http.StatusInternalServerError, http.StatusTooManyRequests, http.StatusRequestTimeout} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			var attempts int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if atomic.AddInt32(&attempts, 1) < 3 {
					w.WriteHeader(code)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			transport := newRetryTransport(http.DefaultTransport, retryTestConfig())

			req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
			resp, err := transport.RoundTrip(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Errorf("expected status 200, got %d", resp.StatusCode)
			}
			if attempts != 3 {
				t.Errorf("expected 3 attempts, got %d", attempts)
			}
		})
	}
}

func TestRetryTransport_DoesNotRetryClientErrors(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	transport := newRetryTransport(http.DefaultTransport, retryTestConfig())

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryTransport_ExhaustsBudgetAndReturnsLastResponse(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := retryTestConfig()
	cfg.RetryAttempts = 2
	transport := newRetryTransport(http.DefaultTransport, cfg)

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", resp.StatusCode)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts (initial + 2 retries), got %d", attempts)
	}
}

func TestRetryTransport_OnlyRetriesSafeMethods(t *testing.T) {
	tests := []struct {
		method       string
		wantAttempts int32
	}{
		{http.MethodGet, 3},
		{http.MethodHead, 3},
		{http.MethodPost, 1},
		{http.MethodPut, 1},
		{http.MethodDelete, 1},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			var attempts int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&attempts, 1)
				w.WriteHeader(http.StatusInternalServerError)
			}))
			defer server.Close()

			cfg := retryTestConfig()
			cfg.RetryAttempts = 2
			transport := newRetryTransport(http.DefaultTransport, cfg)

			req, _ := http.NewRequest(tt.method, server.URL, nil)
			resp, err := transport.RoundTrip(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()

			if attempts != tt.wantAttempts {
				t.Errorf("expected %d attempts for %s, got %d", tt.wantAttempts, tt.method, attempts)
			}
		})
	}
}

func TestRetryTransport_HonorsRetryAfter(t *testing.T) {
	var attempts int32
	var firstAttempt time.Time
	var gap time.Duration

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&attempts, 1) {
		case 1:
			firstAttempt = time.Now()
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			gap = time.Since(firstAttempt)
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	transport := newRetryTransport(http.DefaultTransport, retryTestConfig())

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	// Backoff alone would be ~10ms; the header stretches it to a second.
	if gap < 900*time.Millisecond {
		t.Errorf("expected Retry-After to delay the retry ~1s, got %v", gap)
	}
}

func TestRetryTransport_ContextCancellationStopsRetrying(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := retryTestConfig()
	cfg.RetryBackoff = 200 * time.Millisecond
	transport := newRetryTransport(http.DefaultTransport, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	_, err := transport.RoundTrip(req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}

	if n := atomic.LoadInt32(&attempts); n != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", n)
	}
}

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"connection refused", syscall.ECONNREFUSED, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"eof", io.EOF, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"other", errors.New("certificate invalid"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryableError(tt.err); got != tt.want {
				t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryBackoff = 100 * time.Millisecond
	cfg.MaxBackoff = 10 * time.Second
	transport := newRetryTransport(http.DefaultTransport, cfg)

	tests := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{0, 100 * time.Millisecond, 120 * time.Millisecond},
		{1, 200 * time.Millisecond, 240 * time.Millisecond},
		{2, 400 * time.Millisecond, 480 * time.Millisecond},
		{20, 10 * time.Second, 12 * time.Second}, // capped
	}

	for _, tt := range tests {
		delay := transport.backoffDelay(tt.attempt)
		if delay < tt.min || delay > tt.max {
			t.Errorf("attempt %d: delay %v not in [%v, %v]", tt.attempt, delay, tt.min, tt.max)
		}
	}
}
