// Package httpclient builds the hardened HTTP client the mcpdock daemon
// uses for its outbound fetches: registry searches and popularity-metric
// lookups against the GitHub, npm, and PyPI APIs.
//
// Clients from New compose three layers:
//   - a pooled TLS 1.2+ transport with dial and handshake timeouts
//   - a logging layer that injects the User-Agent, propagates request
//     ids as X-Request-ID, and logs every request with secrets redacted
//     from the URL
//   - a retry layer for GET/HEAD that backs off exponentially with
//     jitter on 5xx, 408, 429 and transient network failures, honoring
//     Retry-After from rate-limited APIs
//
// Usage:
//
//	client, err := httpclient.New(httpclient.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	resp, err := client.Get("https://api.github.com/repos/acme/server")
//
// Attach an id with WithRequestID to correlate a fetch across log lines:
//
//	ctx = httpclient.WithRequestID(ctx, id)
//	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
package httpclient
