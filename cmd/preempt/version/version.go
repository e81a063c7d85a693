package version

import (
	"runtime/debug"
)

// Version can be set with `-ldflags "-X .../version.Version=v1.2.3"`.
var Version = ""

// GetVersion returns Version, or the module version recorded in the build info.
func GetVersion() string {
	if Version != "" {
		return Version
	}
	const unknown = "(unknown)"
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return unknown
	}
	if bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return s.Value
		}
	}
	return unknown
}
