package stm

import (
	"github.com/pingcap/errors"
	"golang.org/x/mod/semver"

	"github.com/kolkov/gostm/internal/stm/heap"
	"github.com/kolkov/gostm/internal/stm/vlock"
)

// Version information for the gostm engine.
const (
	// Version is the current version of the engine.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides information about the engine build.
type Info struct {
	// Version is the engine version string.
	Version string

	// Algorithm is the concurrency control algorithm used.
	Algorithm string

	// LockTableSize is the default number of versioned-lock stripes.
	LockTableSize int

	// HeapWords is the default heap capacity in words.
	HeapWords int
}

// GetInfo returns information about the engine build.
//
// Example:
//
//	info := stm.GetInfo()
//	fmt.Printf("gostm %s (%s)\n", info.Version, info.Algorithm)
func GetInfo() Info {
	return Info{
		Version:       Version,
		Algorithm:     "TL2 (DISC 2006)",
		LockTableSize: vlock.DefaultTableSize,
		HeapWords:     heap.DefaultWords,
	}
}

// CheckVersion returns an error unless this engine is at least version
// required, which may be written with or without the leading "v".
func CheckVersion(required string) error {
	want := canonical(required)
	if !semver.IsValid(want) {
		return errors.Errorf("invalid version %q", required)
	}
	if semver.Compare(canonical(Version), want) < 0 {
		return errors.Errorf("engine version %s is older than required %s", Version, required)
	}
	return nil
}

func canonical(v string) string {
	if v != "" && v[0] != 'v' {
		return "v" + v
	}
	return v
}
