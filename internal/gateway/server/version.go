package server

import (
	"github.com/Masterminds/semver/v3"
)

// Version is the gateway release.
const Version = "0.3.0"

// APIVersion is the version of the HTTP contract. Clients built against the same
// major version and an equal or lower minor version can talk to this server.
const APIVersion = "1.1.0"

var apiConstraint *semver.Constraints

func init() {
	var err error
	apiConstraint, err = semver.NewConstraint("^1.0.0, <=" + APIVersion)
	if err != nil {
		panic(err)
	}
}

// IsAPICompatible reports whether a client speaking version can use this server.
// Invalid version strings are never compatible.
func IsAPICompatible(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return apiConstraint.Check(v)
}
