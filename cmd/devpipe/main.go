// Command devpipe is the operational CLI for the autonomous development
// pipeline: execute/status/memory/serve (spec §6). All wiring lives in
// internal/cli and internal/wiring; main only hands off to cobra.
package main

import (
	"os"

	"github.com/oakforge/devpipe/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
