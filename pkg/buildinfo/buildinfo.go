// Package buildinfo reports the version of the council binary.
package buildinfo

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
)

// ServiceName identifies this program in version reports and logs.
const ServiceName = "council-search"

// Set at build time via ldflags:
// -X github.com/otherjamesbrown/council-search/pkg/buildinfo.Version=v0.3.0
// -X github.com/otherjamesbrown/council-search/pkg/buildinfo.Commit=4f1c2ab
// -X github.com/otherjamesbrown/council-search/pkg/buildinfo.BuildTime=2026-10-01T09:00:00Z
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info holds build information.
type Info struct {
	ServiceName string `json:"service_name" yaml:"service_name"`
	Version     string `json:"version" yaml:"version"`
	Commit      string `json:"commit" yaml:"commit"`
	BuildTime   string `json:"build_time" yaml:"build_time"`
	GoVersion   string `json:"go_version" yaml:"go_version"`
}

// Get returns build info for the named service. When no commit was stamped
// through ldflags, the VCS revision recorded by the Go toolchain is used.
func Get(serviceName string) Info {
	info := Info{
		ServiceName: serviceName,
		Version:     Version,
		Commit:      Commit,
		BuildTime:   BuildTime,
		GoVersion:   runtime.Version(),
	}
	if info.Commit == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				switch s.Key {
				case "vcs.revision":
					info.Commit = s.Value
				case "vcs.time":
					if info.BuildTime == "unknown" {
						info.BuildTime = s.Value
					}
				}
			}
		}
	}
	return info
}

// String returns a one-liner like "v0.3.0 (4f1c2ab, 2026-10-01T09:00:00Z)".
func (i Info) String() string {
	return fmt.Sprintf("%s (%s, %s)", i.Version, i.Commit, i.BuildTime)
}

// String describes the running binary.
func String() string {
	return Get(ServiceName).String()
}

// Handler responds with build info JSON.
func Handler(serviceName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Get(serviceName))
	}
}
