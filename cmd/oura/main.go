package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	app "github.com/valter-silva-au/oura-analytics/internal"
	"github.com/valter-silva-au/oura-analytics/internal/cli"
)

// Set by goreleaser ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	dataDir := app.ResolveDataDir()

	a, err := app.NewApp(dataDir, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing oura: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = cli.ExecuteContext(ctx)
	stop()
	if cerr := a.Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "Error closing oura: %v\n", cerr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
