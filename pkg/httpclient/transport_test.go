package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

// headerEcho returns a server that records the named request header.
func headerEcho(t *testing.T, name string, got *string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = r.Header.Get(name)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestLoggingTransport_UserAgent(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		want     string
	}{
		{"sets configured agent", "", "test-agent/1.0"},
		{"keeps caller agent", "custom-agent/2.0", "custom-agent/2.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			server := headerEcho(t, "User-Agent", &got)

			transport := newLoggingTransport(http.DefaultTransport, "test-agent/1.0")

			req, err := http.NewRequest(http.MethodGet, server.URL, nil)
			if err != nil {
				t.Fatalf("failed to create request: %v", err)
			}
			if tt.existing != "" {
				req.Header.Set("User-Agent", tt.existing)
			}

			resp, err := transport.RoundTrip(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()

			if got != tt.want {
				t.Errorf("expected User-Agent %q, got %q", tt.want, got)
			}
		})
	}
}

func TestLoggingTransport_PropagatesRequestID(t *testing.T) {
	var got string
	server := headerEcho(t, "X-Request-ID", &got)

	transport := newLoggingTransport(http.DefaultTransport, "test-agent/1.0")

	ctx := WithRequestID(context.Background(), "req-1234")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if got != "req-1234" {
		t.Errorf("expected request ID %q, got %q", "req-1234", got)
	}
}

func TestLoggingTransport_NoRequestIDWithoutContextValue(t *testing.T) {
	var got string
	server := headerEcho(t, "X-Request-ID", &got)

	transport := newLoggingTransport(http.DefaultTransport, "test-agent/1.0")

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if got != "" {
		t.Errorf("expected no request ID, got %q", got)
	}
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	if id := RequestIDFromContext(context.Background()); id != "" {
		t.Errorf("expected empty id from bare context, got %q", id)
	}
}
