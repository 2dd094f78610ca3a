// Command fitsync serves the provider connect flow and runs the scheduled
// metric sync.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-fitsync/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("FITSYNC_CONFIG"), "path to a YAML config file")
	syncOnce := flag.Bool("sync-once", false, "run one sync fan-out and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *syncOnce); err != nil {
		fmt.Fprintf(os.Stderr, "fitsync: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, syncOnce bool) error {
	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	runtime, err := config.LoadRuntime(ctx, configPath)
	if err != nil {
		return fmt.Errorf("load runtime settings: %w", err)
	}

	application, err := newApp(ctx, cfg, runtime, os.Stdout)
	if err != nil {
		return err
	}
	defer application.Close()

	if syncOnce {
		report := application.scheduler.RunOnce(ctx)
		if failed := report.FailedProviders(); len(failed) > 0 {
			return fmt.Errorf("sync failed for providers %v", failed)
		}
		return nil
	}
	return application.Run(ctx)
}
