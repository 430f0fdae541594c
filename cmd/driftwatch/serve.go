package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftwatch/driftwatch"
)

func runServe(f *ServeFlags, args []string) error {
	if f.Daemonize {
		if err := daemonize(f.PIDFile, f.LogFile); err != nil {
			return err
		}
	}

	configPath := f.ConfigPath
	if configPath == "" && len(args) > 0 {
		configPath = args[0]
	}

	cfg := driftwatch.DefaultConfig()
	if configPath != "" {
		loaded, err := driftwatch.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if f.Workspace != "" {
		cfg.Workspace = f.Workspace
	}

	d, err := driftwatch.New(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	d.Logger().Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	d.Stop(shutdownCtx)

	if f.Daemonize {
		_ = removePidFile(f.PIDFile)
	}
	return nil
}
