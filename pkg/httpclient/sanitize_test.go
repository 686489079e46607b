package httpclient

import (
	"net/url"
	"testing"
)

func TestSanitizeURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "clean query untouched",
			input:    "https://api.npmjs.org/downloads/point/last-week/@acme/server?foo=bar",
			expected: "https://api.npmjs.org/downloads/point/last-week/@acme/server?foo=bar",
		},
		{
			name:     "token redacted",
			input:    "https://api.github.com/repos/acme/server?token=ghp_abc123",
			expected: "https://api.github.com/repos/acme/server?token=%5BREDACTED%5D",
		},
		{
			name:     "api key variants redacted",
			input:    "https://registry.example.com/servers?api_key=k1&apikey=k2&q=files",
			expected: "https://registry.example.com/servers?api_key=%5BREDACTED%5D&apikey=%5BREDACTED%5D&q=files",
		},
		{
			name:     "case insensitive",
			input:    "https://api.example.com/r?TOKEN=tok&Secret=shh",
			expected: "https://api.example.com/r?Secret=%5BREDACTED%5D&TOKEN=%5BREDACTED%5D",
		},
		{
			name:     "fragment inside longer name",
			input:    "https://api.example.com/r?bearer_token=tok&user=jo",
			expected: "https://api.example.com/r?bearer_token=%5BREDACTED%5D&user=jo",
		},
		{
			name:     "no query string",
			input:    "https://pypistats.org/api/packages/weather-mcp/recent",
			expected: "https://pypistats.org/api/packages/weather-mcp/recent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.input)
			if err != nil {
				t.Fatalf("failed to parse input URL: %v", err)
			}

			if got := sanitizeURL(u); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestSanitizeURL_Nil(t *testing.T) {
	if got := sanitizeURL(nil); got != "" {
		t.Errorf("expected empty string for nil URL, got %q", got)
	}
}

func TestSensitiveParam(t *testing.T) {
	tests := []struct {
		param string
		want  bool
	}{
		{"token", true},
		{"api_key", true},
		{"APIKEY", true},
		{"password", true},
		{"auth", true},
		{"authorization", true},
		{"client_secret", true},
		{"credential", true},
		{"q", false},
		{"page", false},
		{"user", false},
	}

	for _, tt := range tests {
		t.Run(tt.param, func(t *testing.T) {
			if got := sensitiveParam(tt.param); got != tt.want {
				t.Errorf("sensitiveParam(%q) = %v, want %v", tt.param, got, tt.want)
			}
		})
	}
}
