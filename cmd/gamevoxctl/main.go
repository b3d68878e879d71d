// Command gamevoxctl administers a gamevox installation without a running
// server: it edits the speaker store named in the config, runs the command
// extractor on typed text, and can expose both as MCP tools over stdio.
//
// Usage:
//
//	gamevoxctl [--config FILE] <command> [args]
//
// Commands:
//
//	speakers list            - list enrolled speakers
//	speakers remove NAME     - delete a speaker profile
//	speakers export FILE     - write all profiles to a JSON file ("-" for stdout)
//	speakers import FILE     - add profiles from an export
//	extract TEXT...          - parse text into a vocabulary command
//	mcp                      - serve the above as MCP tools on stdio
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}
