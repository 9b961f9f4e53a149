package slot

import (
	"fmt"

	"golang.org/x/mod/semver"
)

// Version information for the slot library.
const (
	// Version is the current library version.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides build information about the library.
type Info struct {
	// Version is the library version string.
	Version string

	// DefaultPolicy is the policy of a zero Options.
	DefaultPolicy string

	// DefaultTableSize is the stripe count of DefaultTable.
	DefaultTableSize int
}

// GetInfo returns information about the library.
//
// Example:
//
//	info := slot.GetInfo()
//	fmt.Printf("refslot %s (default policy %s)\n", info.Version, info.DefaultPolicy)
func GetInfo() Info {
	return Info{
		Version:          Version,
		DefaultPolicy:    PolicyGuarded.String(),
		DefaultTableSize: DefaultTableSize,
	}
}

// Compatible reports whether this library satisfies a requirement of
// version required ("1.2.0" or "v1.2.0"): same major version and not older.
// An invalid required version is never satisfied.
//
// Pre-1.0 minors are treated as breaking, following semver.
func Compatible(required string) bool {
	req := canonical(required)
	if !semver.IsValid(req) {
		return false
	}

	have := canonical(Version)
	if semver.Major(req) != semver.Major(have) {
		return false
	}
	if semver.Major(have) == "v0" && semver.MajorMinor(req) != semver.MajorMinor(have) {
		return false
	}
	return semver.Compare(have, req) >= 0
}

// CheckCompatible is Compatible with an explanatory error.
func CheckCompatible(required string) error {
	if Compatible(required) {
		return nil
	}
	return fmt.Errorf("refslot %s does not satisfy required version %s", Version, required)
}

func canonical(v string) string {
	if v != "" && v[0] != 'v' {
		v = "v" + v
	}
	return semver.Canonical(v)
}
