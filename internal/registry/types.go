// Package registry keeps popularity metrics for catalog servers warm.
//
// The upstream registry lists installable MCP servers; their GitHub stars
// and package download counts are fetched out-of-band, cached in a local
// SQLite database, and refreshed by a background scheduler that
// prioritizes whatever the user is currently looking at.
package registry

import "time"

// MetricType identifies one popularity metric tracked per server.
type MetricType string

const (
	MetricGitHubStars   MetricType = "githubStars"
	MetricInstallCount  MetricType = "installCount"
	MetricNpmDownloads  MetricType = "npmDownloads"
	MetricPypiDownloads MetricType = "pypiDownloads"
)

// MetricState is the fetch state of one metric row.
type MetricState string

const (
	MetricStatePending MetricState = "pending"
	MetricStateSuccess MetricState = "success"
	MetricStateError   MetricState = "error"
)

// MetricStatus is one row of the metric_status table: the latest known
// value and fetch bookkeeping for a (server, metric) pair.
type MetricStatus struct {
	// ServerID is the catalog server the metric belongs to.
	ServerID string `json:"serverId"`

	// MetricType names the metric.
	MetricType MetricType `json:"metricType"`

	// State is the current fetch state.
	State MetricState `json:"state"`

	// Value is the metric value from the last successful fetch.
	Value *int64 `json:"value,omitempty"`

	// LastSuccessAt is when the value was last fetched successfully.
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`

	// NextUpdateAt is when the value is due for a refresh.
	NextUpdateAt *time.Time `json:"nextUpdateAt,omitempty"`

	// LastAttemptAt is when a fetch was last attempted.
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`

	// ErrorCode categorizes the last fetch failure.
	ErrorCode string `json:"errorCode,omitempty"`

	// ErrorMessage is the last fetch failure message.
	ErrorMessage string `json:"errorMessage,omitempty"`

	// UpdatedAt is when this row last changed, successful or not.
	UpdatedAt time.Time `json:"updatedAt"`
}

// RegistryServer is one catalog entry from the upstream registry,
// cached locally so metric fetches can run without re-querying upstream.
type RegistryServer struct {
	// ID uniquely identifies the entry upstream.
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// Description summarizes the server.
	Description string `json:"description,omitempty"`

	// Repository is the source repository URL, typically GitHub.
	Repository string `json:"repository,omitempty"`

	// PackageName is the installable package, when published.
	PackageName string `json:"packageName,omitempty"`

	// PackageRegistry is where the package lives ("npm" or "pypi").
	PackageRegistry string `json:"packageRegistry,omitempty"`

	// Command and Args describe how to launch the server once installed.
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// Stars and Installs are the upstream-reported counts, used as a
	// ranking fallback until local metrics arrive.
	Stars    int64 `json:"stars,omitempty"`
	Installs int64 `json:"installs,omitempty"`
}

// Update is one server's changed metric rows, delivered to subscribers.
type Update struct {
	// ServerID identifies the server whose metrics changed.
	ServerID string `json:"serverId"`

	// Metrics are the changed rows.
	Metrics []MetricStatus `json:"metrics"`
}
