package version

import "strings"

// Set at build time with -ldflags "-X classhub/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = ""
)

const Name = "classhub"

type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func Current() Info {
	out := Info{
		Name:      Name,
		Version:   strings.TrimSpace(Version),
		Commit:    strings.TrimSpace(Commit),
		BuildTime: strings.TrimSpace(BuildTime),
	}
	if out.Version == "" {
		out.Version = "dev"
	}
	if out.Commit == "" {
		out.Commit = "unknown"
	}
	return out
}
