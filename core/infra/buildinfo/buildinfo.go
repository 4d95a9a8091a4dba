package buildinfo

import (
	"fmt"
	"runtime/debug"

	"github.com/cordum/coldgate/core/infra/logging"
)

// Set at link time with -ldflags "-X .../buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a single-line build summary.
func Info() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version(), Commit, Date)
}

// Log writes the build summary under the service's component tag.
func Log(service string) {
	logging.Info(service, "starting", "version", version(), "commit", Commit, "date", Date)
}

func version() string {
	if Version != "dev" {
		return Version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return Version
}
