package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/driftwatch/driftwatch/internal/logger"
)

// Defaults preserved from the original supervisor policy. The 3-strike
// threshold and 15s intervals are deliberate: a single missed probe must not
// flap the backend, and first-run indexing of a large workspace can take
// minutes, hence the generous startup timeout.
const (
	DefaultBackendPort      = 7779
	DefaultStartupTimeout   = 600 * time.Second
	DefaultStartupInterval  = 2 * time.Second
	DefaultHealthInterval   = 15 * time.Second
	DefaultHealthTimeout    = 10 * time.Second
	DefaultFailureThreshold = 3
	DefaultStopGrace        = 5 * time.Second
	DefaultRestartDelay     = time.Second
	DefaultPollInterval     = 15 * time.Second
	DefaultBranchInterval   = 15 * time.Second
	DefaultListen           = "127.0.0.1:7780"
)

// Config is the top-level TOML structure.
type Config struct {
	Workspace string        `toml:"workspace" mapstructure:"workspace"`
	Backend   Backend       `toml:"backend" mapstructure:"backend"`
	Runtime   Runtime       `toml:"runtime" mapstructure:"runtime"`
	Watch     Watch         `toml:"watch" mapstructure:"watch"`
	Log       logger.Config `toml:"log" mapstructure:"log"`
	Store     Store         `toml:"store" mapstructure:"store"`
	History   History       `toml:"history" mapstructure:"history"`
	Server    Server        `toml:"server" mapstructure:"server"`
}

// Backend configures the supervised drift engine process.
type Backend struct {
	Port             int           `toml:"port" mapstructure:"port"`
	AutoRestart      bool          `toml:"auto_restart" mapstructure:"auto_restart"`
	StartupTimeout   time.Duration `toml:"startup_timeout" mapstructure:"startup_timeout"`
	StartupInterval  time.Duration `toml:"startup_interval" mapstructure:"startup_interval"`
	HealthInterval   time.Duration `toml:"health_interval" mapstructure:"health_interval"`
	HealthTimeout    time.Duration `toml:"health_timeout" mapstructure:"health_timeout"`
	FailureThreshold int           `toml:"failure_threshold" mapstructure:"failure_threshold"`
	StopGrace        time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
	RestartDelay     time.Duration `toml:"restart_delay" mapstructure:"restart_delay"`
	Interpreter      string        `toml:"interpreter" mapstructure:"interpreter"`
	Entrypoint       string        `toml:"entrypoint" mapstructure:"entrypoint"`
}

// Runtime configures dashboard polling.
type Runtime struct {
	PollInterval time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
}

// Watch configures the event stream filter and branch poll.
// Empty Extensions/Ignore fall back to the built-in sets.
type Watch struct {
	Extensions     []string      `toml:"extensions" mapstructure:"extensions"`
	Ignore         []string      `toml:"ignore" mapstructure:"ignore"`
	BranchInterval time.Duration `toml:"branch_interval" mapstructure:"branch_interval"`
}

// Store configures lifecycle/risk persistence. Empty DSN disables it.
type Store struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// History configures the optional change-event archival sink.
type History struct {
	ClickHouse ClickHouse `toml:"clickhouse" mapstructure:"clickhouse"`
}

// ClickHouse sink settings; empty Addr disables the sink.
type ClickHouse struct {
	Addr     string `toml:"addr" mapstructure:"addr"`
	Database string `toml:"database" mapstructure:"database"`
	Username string `toml:"username" mapstructure:"username"`
	Password string `toml:"password" mapstructure:"password"`
	Table    string `toml:"table" mapstructure:"table"`
}

// Server configures the local control API.
type Server struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

// Default returns a Config carrying all defaults and no workspace.
func Default() Config {
	return Config{
		Backend: Backend{
			Port:             DefaultBackendPort,
			AutoRestart:      true,
			StartupTimeout:   DefaultStartupTimeout,
			StartupInterval:  DefaultStartupInterval,
			HealthInterval:   DefaultHealthInterval,
			HealthTimeout:    DefaultHealthTimeout,
			FailureThreshold: DefaultFailureThreshold,
			StopGrace:        DefaultStopGrace,
			RestartDelay:     DefaultRestartDelay,
		},
		Runtime: Runtime{PollInterval: DefaultPollInterval},
		Watch:   Watch{BranchInterval: DefaultBranchInterval},
		Server:  Server{Listen: DefaultListen},
	}
}

// Load reads a TOML config file and applies defaults for anything unset.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetDefault("backend.port", DefaultBackendPort)
	v.SetDefault("backend.auto_restart", true)
	v.SetDefault("backend.startup_timeout", DefaultStartupTimeout)
	v.SetDefault("backend.startup_interval", DefaultStartupInterval)
	v.SetDefault("backend.health_interval", DefaultHealthInterval)
	v.SetDefault("backend.health_timeout", DefaultHealthTimeout)
	v.SetDefault("backend.failure_threshold", DefaultFailureThreshold)
	v.SetDefault("backend.stop_grace", DefaultStopGrace)
	v.SetDefault("backend.restart_delay", DefaultRestartDelay)
	v.SetDefault("runtime.poll_interval", DefaultPollInterval)
	v.SetDefault("watch.branch_interval", DefaultBranchInterval)
	v.SetDefault("server.listen", DefaultListen)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects values that would wedge the supervisor.
func (c Config) Validate() error {
	if c.Backend.Port <= 0 || c.Backend.Port > 65535 {
		return fmt.Errorf("backend.port %d out of range", c.Backend.Port)
	}
	if c.Backend.StartupTimeout <= 0 {
		return fmt.Errorf("backend.startup_timeout must be positive")
	}
	if c.Backend.HealthInterval <= 0 {
		return fmt.Errorf("backend.health_interval must be positive")
	}
	if c.Backend.FailureThreshold <= 0 {
		return fmt.Errorf("backend.failure_threshold must be positive")
	}
	return nil
}
