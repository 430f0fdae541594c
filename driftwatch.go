// Package driftwatch wires the pieces of the daemon together: a supervised
// drift engine process, the workspace event stream feeding it, the dashboard
// polling runtime, optional persistence, and the loopback control API.
package driftwatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/driftwatch/driftwatch/internal/backend"
	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/eventstream"
	"github.com/driftwatch/driftwatch/internal/history"
	"github.com/driftwatch/driftwatch/internal/history/clickhouse"
	"github.com/driftwatch/driftwatch/internal/metrics"
	"github.com/driftwatch/driftwatch/internal/runtime"
	"github.com/driftwatch/driftwatch/internal/server"
	"github.com/driftwatch/driftwatch/internal/store"
	"github.com/driftwatch/driftwatch/internal/store/factory"
	"github.com/driftwatch/driftwatch/internal/supervisor"
)

// Config is the daemon configuration, re-exported for embedders.
type Config = config.Config

// DefaultConfig returns a Config carrying all defaults.
func DefaultConfig() Config { return config.Default() }

// LoadConfig reads a TOML config file and applies defaults.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// Daemon is a fully wired driftwatch instance.
type Daemon struct {
	cfg    Config
	logger *slog.Logger
	sup    *supervisor.Supervisor
	stream *eventstream.Stream
	rt     *runtime.Runtime
	st     store.Store
	sink   history.Sink
	srv    *http.Server
}

// New wires a Daemon from config. The workspace must exist; persistence and
// event archival are created only when configured.
func New(cfg Config) (*Daemon, error) {
	if cfg.Workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		cfg.Workspace = wd
	}
	if info, err := os.Stat(cfg.Workspace); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", cfg.Workspace)
	}

	lg := cfg.Log.New(os.Stderr)
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	var st store.Store
	if cfg.Store.DSN != "" {
		s, err := factory.NewFromDSN(cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("store schema: %w", err)
		}
		st = s
	}

	var sink history.Sink
	if ch := cfg.History.ClickHouse; ch.Addr != "" {
		s, err := clickhouse.New(ch.Addr, ch.Database, ch.Username, ch.Password, ch.Table)
		if err != nil {
			return nil, fmt.Errorf("open history sink: %w", err)
		}
		sink = s
	}

	sup := supervisor.New(cfg.Workspace, cfg.Backend, cfg.Log, lg, st)
	stream := eventstream.New(cfg.Watch, lg)
	rt := runtime.New(runtime.Config{
		Workspace: cfg.Workspace,
		Client: backend.New(backend.Config{
			BaseURL: fmt.Sprintf("http://127.0.0.1:%d", cfg.Backend.Port),
			Timeout: cfg.Backend.HealthTimeout,
			Logger:  lg,
		}),
		Stream:       stream,
		Store:        st,
		Sink:         sink,
		PollInterval: cfg.Runtime.PollInterval,
		Logger:       lg,
	})

	return &Daemon{
		cfg:    cfg,
		logger: lg,
		sup:    sup,
		stream: stream,
		rt:     rt,
		st:     st,
		sink:   sink,
	}, nil
}

// Logger returns the daemon's structured logger.
func (d *Daemon) Logger() *slog.Logger { return d.logger }

// Supervisor returns the backend process supervisor.
func (d *Daemon) Supervisor() *supervisor.Supervisor { return d.sup }

// Runtime returns the polling runtime.
func (d *Daemon) Runtime() *runtime.Runtime { return d.rt }

// Stream returns the workspace event stream.
func (d *Daemon) Stream() *eventstream.Stream { return d.stream }

// Start brings the backend up, starts the runtime loop, and begins serving
// the control API. A backend that cannot start yet is not fatal: the control
// API stays up so a later manual start can succeed.
func (d *Daemon) Start(ctx context.Context) error {
	if !d.sup.DetectExisting() {
		if err := d.sup.Start(ctx); err != nil {
			d.logger.Warn("backend start failed, control API still available", "error", err)
		}
	}
	if err := d.rt.Start(ctx); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}

	router := server.NewRouter(d.sup, d.rt, d.stream.NotifyOpened, "")
	d.srv = server.NewServer(d.cfg.Server.Listen, router)
	d.logger.Info("control API listening", "addr", d.cfg.Server.Listen)
	return nil
}

// Stop shuts everything down in reverse order: control API, runtime and
// stream, backend, then persistence.
func (d *Daemon) Stop(ctx context.Context) {
	if d.srv != nil {
		_ = d.srv.Shutdown(ctx)
		d.srv = nil
	}
	d.rt.Stop()
	d.sup.Stop()
	if d.sink != nil {
		_ = d.sink.Close()
	}
	if d.st != nil {
		_ = d.st.Close()
	}
	d.logger.Info("daemon stopped")
}
