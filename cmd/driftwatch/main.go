package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds daemon connection flags for client commands.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	ConfigPath string
	Workspace  string
	Daemonize  bool
	LogFile    string
	PIDFile    string
}

// LogsFlags holds flags for the logs command.
type LogsFlags struct {
	APIFlags
	Tail int
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)

	apiFlags := &APIFlags{}
	logsFlags := &LogsFlags{}
	serveFlags := &ServeFlags{}

	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createStartCommand(apiFlags),
		createStopCommand(apiFlags),
		createRestartCommand(apiFlags),
		createStatusCommand(apiFlags),
		createLogsCommand(logsFlags),
		createDetectCommand(apiFlags),
		createDashboardCommand(apiFlags),
		createRefreshCommand(apiFlags),
		createOpenedCommand(apiFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "driftwatch",
		Short: "Supervises a local drift engine and streams workspace changes to it",
		Long: `Driftwatch keeps a Python drift engine running next to your workspace,
forwards source-file changes to it, and serves its dashboard snapshot
through a local control API.

Examples:
  driftwatch serve --workspace ~/src/myrepo   # Run the daemon
  driftwatch status                           # Backend and runtime state
  driftwatch dashboard                        # Cached drift dashboard
  driftwatch restart                          # Bounce the engine`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon control API URL (default http://127.0.0.1:7780)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

func createStartCommand(f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start or adopt the drift engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand(*f).Start()
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createStopCommand(f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the drift engine (owned) or disconnect (external)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand(*f).Stop()
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createRestartCommand(f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the drift engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand(*f).Restart()
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createStatusCommand(f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show backend and runtime status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand(*f).Status()
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createLogsCommand(f *LogsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show trailing drift engine output",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand(f.APIFlags).Logs(f.Tail)
		},
	}
	addAPIFlags(cmd, &f.APIFlags)
	cmd.Flags().IntVarP(&f.Tail, "tail", "n", 0, "number of lines (0 = daemon default)")
	return cmd
}

func createDetectCommand(f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Re-check for an externally managed drift engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand(*f).Detect()
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createDashboardCommand(f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show the cached drift dashboard snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand(*f).Dashboard()
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createRefreshCommand(f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Force a dashboard poll now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand(*f).Refresh()
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createOpenedCommand(f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "opened <file>",
		Short: "Report an editor file activation to the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCommand(*f).Opened(args[0])
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the driftwatch daemon",
		Long: `Run the daemon: supervise the drift engine, watch the workspace, and
serve the control API.

Examples:
  driftwatch serve                          # Defaults, current directory
  driftwatch serve driftwatch.toml          # With a config file
  driftwatch serve --workspace ~/src/repo   # Explicit workspace`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServe(serveFlags, args)
		},
	}
	cmd.Flags().StringVar(&serveFlags.Workspace, "workspace", "", "workspace directory (default: config value or cwd)")
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run in the background")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file when daemonized")
	cmd.Flags().StringVar(&serveFlags.PIDFile, "pidfile", "", "write the daemon PID to file when daemonized")
	return cmd
}
