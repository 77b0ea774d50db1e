package constants

// Version information (injected at build time via -ldflags).
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GetFullVersion returns a human readable version string for the startup banner.
func GetFullVersion() string {
	return Version + " (" + GitCommit + ") built at " + BuildTime
}
