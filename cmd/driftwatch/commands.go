package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/driftwatch/driftwatch/pkg/client"
)

// command wraps a control API client for the CLI subcommands.
type command struct {
	api *client.Client
}

func clientCommand(f APIFlags) command {
	cfg := client.DefaultConfig()
	if f.APIUrl != "" {
		cfg.BaseURL = f.APIUrl
	}
	if f.APITimeout > 0 {
		cfg.Timeout = f.APITimeout
	}
	return command{api: client.New(cfg)}
}

func (c command) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func (c command) requireDaemon(ctx context.Context) error {
	if !c.api.IsReachable(ctx) {
		return fmt.Errorf("daemon not reachable - start it first with 'driftwatch serve'")
	}
	return nil
}

func (c command) Start() error {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.requireDaemon(ctx); err != nil {
		return err
	}
	st, err := c.api.Start(ctx)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

func (c command) Stop() error {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.requireDaemon(ctx); err != nil {
		return err
	}
	st, err := c.api.Stop(ctx)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

func (c command) Restart() error {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.requireDaemon(ctx); err != nil {
		return err
	}
	st, err := c.api.Restart(ctx)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

func (c command) Status() error {
	ctx, cancel := c.ctx()
	defer cancel()
	st, err := c.api.Status(ctx)
	if err != nil {
		return fmt.Errorf("daemon not reachable - start it first with 'driftwatch serve': %w", err)
	}
	printJSON(st)
	return nil
}

func (c command) Logs(n int) error {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.requireDaemon(ctx); err != nil {
		return err
	}
	lines, err := c.api.Logs(ctx, n)
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Println(l)
	}
	return nil
}

func (c command) Detect() error {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.requireDaemon(ctx); err != nil {
		return err
	}
	res, err := c.api.Detect(ctx)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

func (c command) Dashboard() error {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.requireDaemon(ctx); err != nil {
		return err
	}
	snap, err := c.api.Dashboard(ctx)
	if err != nil {
		return err
	}
	printJSON(snap)
	return nil
}

func (c command) Refresh() error {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.requireDaemon(ctx); err != nil {
		return err
	}
	snap, err := c.api.Refresh(ctx)
	if err != nil {
		return err
	}
	printJSON(snap)
	return nil
}

func (c command) Opened(path string) error {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.requireDaemon(ctx); err != nil {
		return err
	}
	return c.api.NotifyOpened(ctx, path)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
