// Command vidstored provisions the pgvector datastore behind the video
// retrieval service, keeps it healthy and reports its readiness.
package main

import (
	"fmt"
	"os"

	"vidstore/cmd/vidstored/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vidstored: %v\n", err)
		os.Exit(1)
	}
}
