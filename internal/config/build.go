package config

// Linker-injected build metadata variables, for example:
//
//	go build -ldflags "-X mayroga/internal/config.version=1.2.3 \
//	    -X mayroga/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X mayroga/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo constructs a BuildInfo from the linker-injected variables.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}
