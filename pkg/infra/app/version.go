package app

import (
	"github.com/kart-io/version"
)

// VersionInfo returns the build version information of the binary.
func VersionInfo() version.Info {
	return version.Get()
}
