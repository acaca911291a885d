// Command lgworker parses and edits LG template documents on request.
package main

import (
	"os"

	"github.com/opencode-ai/lgworker/internal/cli"
)

// Set by the build with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := cli.Execute(version, commit, date); err != nil {
		os.Exit(1)
	}
}
