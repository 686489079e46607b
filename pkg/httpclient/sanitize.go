package httpclient

import (
	"net/url"
	"strings"
)

const redacted = "[REDACTED]"

// secretFragments are matched case-insensitively against query parameter
// names before a URL is logged. "key" deliberately catches api_key,
// apikey and friends.
var secretFragments = []string{
	"token",
	"key",
	"secret",
	"password",
	"auth",
	"credential",
}

// sanitizeURL renders a URL for logging with credential-bearing query
// parameters blanked out. GitHub and registry tokens normally travel in
// headers, but callers can pass them as query parameters too.
func sanitizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	q := u.Query()
	dirty := false
	for name := range q {
		if sensitiveParam(name) {
			q.Set(name, redacted)
			dirty = true
		}
	}
	if !dirty {
		return u.String()
	}

	safe := *u
	safe.RawQuery = q.Encode()
	return safe.String()
}

func sensitiveParam(name string) bool {
	lower := strings.ToLower(name)
	for _, fragment := range secretFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
