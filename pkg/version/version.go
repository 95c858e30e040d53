// Package version carries build information stamped in with -ldflags.
package version

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/gosuri/uitable"
	"github.com/spf13/pflag"
)

var (
	// GitVersion is the semantic version of the build.
	GitVersion = "v0.0.0-master+$Format:%h$"
	// GitCommit is the sha1 from git, output of $(git rev-parse HEAD).
	GitCommit = "$Format:%H$"
	// GitTreeState is "clean" or "dirty".
	GitTreeState = ""
	// BuildDate in ISO8601 format, output of $(date -u +'%Y-%m-%dT%H:%M:%SZ').
	BuildDate = "1970-01-01T00:00:00Z"
)

// Info contains versioning information.
type Info struct {
	GitVersion   string `json:"gitVersion"`
	GitCommit    string `json:"gitCommit"`
	GitTreeState string `json:"gitTreeState"`
	BuildDate    string `json:"buildDate"`
	GoVersion    string `json:"goVersion"`
	Compiler     string `json:"compiler"`
	Platform     string `json:"platform"`
}

// String returns info as a human-friendly version string.
func (info Info) String() string {
	return info.GitVersion
}

// ToJSON returns the JSON string of version information.
func (info Info) ToJSON() string {
	s, _ := json.Marshal(info)
	return string(s)
}

// Text encodes the version information into a two column table.
func (info Info) Text() string {
	table := uitable.New()
	table.RightAlign(0)
	table.MaxColWidth = 80
	table.Separator = " "
	table.AddRow("gitVersion:", info.GitVersion)
	table.AddRow("gitCommit:", info.GitCommit)
	table.AddRow("gitTreeState:", info.GitTreeState)
	table.AddRow("buildDate:", info.BuildDate)
	table.AddRow("goVersion:", info.GoVersion)
	table.AddRow("compiler:", info.Compiler)
	table.AddRow("platform:", info.Platform)

	return table.String()
}

// Get returns the overall codebase version.
func Get() Info {
	return Info{
		GitVersion:   GitVersion,
		GitCommit:    GitCommit,
		GitTreeState: GitTreeState,
		BuildDate:    BuildDate,
		GoVersion:    runtime.Version(),
		Compiler:     runtime.Compiler,
		Platform:     fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

const versionFlagName = "version"

var versionFlag = "false"

// AddFlags registers --version on the given flag set. "raw" prints the
// table, "json" prints JSON, "true" prints the short version.
func AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&versionFlag, versionFlagName, versionFlag, "Print version information and quit (true, raw or json).")
	fs.Lookup(versionFlagName).NoOptDefVal = "true"
}

// PrintAndExitIfRequested checks --version and exits after printing if it was set.
func PrintAndExitIfRequested() {
	switch versionFlag {
	case "raw":
		fmt.Println(Get().Text())
	case "json":
		fmt.Println(Get().ToJSON())
	case "true":
		fmt.Printf("%s\n", Get())
	default:
		return
	}
	os.Exit(0)
}
