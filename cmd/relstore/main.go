package main

import (
	"context"
	"fmt"
	"os"

	"relstore/internal/cli"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

func main() {
	cmd := cli.NewRootCommand(Version, Commit)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "relstore: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
