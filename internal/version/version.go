package version

var (
	// Version is the semantic version of the ratewatcher binary. Set via ldflags.
	Version = "dev"
	// Commit is the git commit hash the binary was built from. Set via ldflags.
	Commit = "unknown"
	// BuildDate is the build timestamp. Set via ldflags.
	BuildDate = "unknown"
)
