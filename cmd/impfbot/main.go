package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/impfbot/impfbot/internal/app"
	"github.com/impfbot/impfbot/internal/setup"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "override booking record path (optional)")
	delaySeconds := flag.Int("delay", 30, "seconds between search attempts")
	setupMode := flag.Bool("setup", false, "interactively collect and store the booking record")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if *setupMode {
		if err := setup.Run(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "impfbot: %v\n", err)
			return 1
		}
		return 0
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := app.Options{
		ConfigPath: *configPath,
		Verbose:    *verbose,
	}
	if *delaySeconds > 0 {
		opts.CheckDelay = time.Duration(*delaySeconds) * time.Second
	}

	if err := app.Run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "impfbot: %v\n", err)
		return 1
	}
	return 0
}
