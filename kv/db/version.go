package db

import (
	"github.com/coreos/go-semver/semver"
	"github.com/pingcap/errors"
)

// APIVersion is the client API version this database implements. Clients written against an older
// minor version of the same major version are served too.
var APIVersion = semver.New("6.1.0")

// CheckAPIVersion returns an error if a client written against version cannot use this database. An
// empty version means the current one.
func CheckAPIVersion(version string) error {
	if version == "" {
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return errors.Annotatef(err, "invalid api version %q", version)
	}
	if v.Major != APIVersion.Major || APIVersion.LessThan(*v) {
		return errors.Errorf("api version %s is not supported, this database implements %s", v, APIVersion)
	}
	return nil
}
