package version

// Build variables set via ldflags during compilation:
// -X 'github.com/pluginmind/pluginmind/pkg/version.Version=v1.0.0'
// -X 'github.com/pluginmind/pluginmind/pkg/version.CommitHash=abc123'
// -X 'github.com/pluginmind/pluginmind/pkg/version.BuildDate=2024-01-01T00:00:00Z'
var (
	// Version is the semantic version of the binary.
	Version = "unknown"
	// CommitHash is the git commit hash used to build the binary.
	CommitHash = "unknown"
	// BuildDate is the timestamp when the binary was built (RFC3339).
	BuildDate = "unknown"
)

// Info returns build information in a structured format.
type Info struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	CommitHash string `json:"git_sha"`
	BuildDate  string `json:"build_date"`
}

// Get returns the current build information.
func Get() Info {
	return Info{
		Name:       "pluginmind",
		Version:    Version,
		CommitHash: CommitHash,
		BuildDate:  BuildDate,
	}
}
