package version

import "runtime/debug"

// Overridden at build time with -ldflags "-X .../version.buildVersion=...".
var (
	buildVersion = "dev"
	builtAt      = "unknown"
)

// Info represents the running build metadata.
type Info struct {
	BuildVersion string `json:"buildVersion"`
	BuiltAt      string `json:"builtAt"`
	GoVersion    string `json:"goVersion,omitempty"`
}

func Get() Info {
	info := Info{
		BuildVersion: buildVersion,
		BuiltAt:      builtAt,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
		if info.BuildVersion == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.BuildVersion = bi.Main.Version
		}
	}
	return info
}

func (i Info) String() string {
	return i.BuildVersion + " (built " + i.BuiltAt + ")"
}
