// Package version reports build metadata for tarfs binaries.
//
// Release builds inject values with
//
//	-ldflags "-X github.com/brettbedarf/tarfs/version.Version=v0.1.0 -X github.com/brettbedarf/tarfs/version.Commit=..."
//
// and development builds fall back to the VCS stamp in debug.ReadBuildInfo.
package version

import (
	"fmt"
	"io"
	"runtime/debug"
)

const unknown = "unknown"

var (
	Version = "dev"
	Commit  = unknown
	Date    = unknown
)

// Info is the version report of the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
}

// GetVersion returns the injected version, the module version, or
// "development".
func GetVersion() string {
	if Version != "dev" && Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return "development"
}

// GetCommit returns the injected commit or the vcs.revision build setting.
func GetCommit() string {
	return stamped(Commit, "vcs.revision")
}

// GetBuildDate returns the injected date or the vcs.time build setting.
func GetBuildDate() string {
	return stamped(Date, "vcs.time")
}

func stamped(injected, key string) string {
	if injected != unknown && injected != "" {
		return injected
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == key {
				return s.Value
			}
		}
	}
	return unknown
}

func GetInfo() Info {
	info := Info{
		Version: GetVersion(),
		Commit:  GetCommit(),
		Date:    GetBuildDate(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
	}
	return info
}

// GetFullVersion returns the version with the short commit and build date
// when known, e.g. "v0.1.0 (1a2b3c4, built 2026-01-02T03:04:05Z)".
func GetFullVersion() string {
	return fullVersion(GetInfo())
}

func fullVersion(info Info) string {
	if info.Commit == unknown || len(info.Commit) <= 7 {
		return info.Version
	}
	short := info.Commit[:7]
	if info.Date == unknown {
		return fmt.Sprintf("%s (%s)", info.Version, short)
	}
	return fmt.Sprintf("%s (%s, built %s)", info.Version, short, info.Date)
}

// PrintVersion writes a human readable report for appName to w.
func PrintVersion(w io.Writer, appName string) {
	info := GetInfo()
	fmt.Fprintf(w, "%s version %s\n", appName, fullVersion(info))
	fmt.Fprintf(w, "Commit: %s\n", info.Commit)
	fmt.Fprintf(w, "Build Date: %s\n", info.Date)
	if info.GoVersion != "" {
		fmt.Fprintf(w, "Go: %s\n", info.GoVersion)
	}
}
