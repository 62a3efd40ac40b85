package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires every subcommand.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags),
		createRecordsCommand(globalFlags),
		createStatusCommand(globalFlags),
		createHistoryCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "companion",
		Short: "Start companion executables alongside a host and stop them when it exits",
		Long: `Companion launches the executables listed in its records document once the
host has started, and stops them (gracefully, then forcefully) before the host
exits. Each record decides whether its process is stopped or left running.

Examples:
  companion records add --path=/opt/tools/overlay --shutdown
  companion records list
  companion run --listen=127.0.0.1:8089
  companion status --api-url=http://127.0.0.1:8089/api
  companion history --dsn=sqlite:///var/lib/companion/history.db`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config file (toml, yaml or json; optional)")
	root.PersistentFlags().StringVar(&flags.RecordsPath, "records", "", "path to the launch records JSON document (overrides config)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "running launcher API URL (e.g. http://127.0.0.1:8089/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return root
}

func createRunCommand(globalFlags *GlobalFlags) *cobra.Command {
	runFlags := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch all records, wait for SIGINT/SIGTERM, then stop them",
		Long: `Run plays the host role: it fires the startup event, which launches every
record with a non-empty path, then blocks until interrupted and fires the exit
event, which stops every process whose record enabled shutdown.

Examples:
  companion run
  companion run --config=/etc/companion.toml --listen=:8089 --metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLauncher(cmd.Context(), *globalFlags, *runFlags, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&runFlags.Listen, "listen", "", "serve the HTTP API on this address (overrides config)")
	cmd.Flags().StringVar(&runFlags.BasePath, "base-path", "", "HTTP API base path (overrides config)")
	cmd.Flags().BoolVar(&runFlags.Metrics, "metrics", false, "expose /metrics (overrides config when set)")
	return cmd
}

func createRecordsCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect and edit the launch records document",
	}

	listFlags := &ListFlags{}
	list := &cobra.Command{
		Use:   "list",
		Short: "Print the launch records in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return recordsList(*globalFlags, *listFlags, cmd.OutOrStdout())
		},
	}
	list.Flags().BoolVar(&listFlags.JSON, "json", false, "print the raw document")

	addFlags := &AddFlags{}
	add := &cobra.Command{
		Use:   "add",
		Short: "Append a launch record",
		Long: `Append a launch record. Records are identified by position; the same path
may appear more than once.

Examples:
  companion records add --path=/opt/tools/overlay --shutdown
  companion records add --path="C:\Tools\hud.exe" --minimized`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return recordsAdd(*globalFlags, *addFlags, cmd.OutOrStdout())
		},
	}
	add.Flags().StringVar(&addFlags.Path, "path", "", "executable path (required)")
	add.Flags().BoolVar(&addFlags.Shutdown, "shutdown", false, "stop this process when the host exits")
	add.Flags().BoolVar(&addFlags.Minimized, "minimized", false, "ask for a minimized main window where supported")
	if err := add.MarkFlagRequired("path"); err != nil {
		panic(err)
	}

	removeFlags := &RemoveFlags{}
	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove the record at a position",
		RunE: func(cmd *cobra.Command, args []string) error {
			return recordsRemove(*globalFlags, *removeFlags, cmd.OutOrStdout())
		},
	}
	remove.Flags().IntVar(&removeFlags.Index, "index", -1, "zero-based record position (required)")
	if err := remove.MarkFlagRequired("index"); err != nil {
		panic(err)
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return recordsClear(*globalFlags, cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(list, add, remove, clearCmd)
	return cmd
}

func createStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List the processes a running launcher is tracking (requires --api-url)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd.Context(), *globalFlags, cmd.OutOrStdout())
		},
	}
}

func createHistoryCommand(globalFlags *GlobalFlags) *cobra.Command {
	historyFlags := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show lifecycle events recorded by a history sink",
		Long: `History reads back the events a launcher wrote to its history sink. SQLite
sinks list recent events; every sink can count the events of one session.

Examples:
  companion history --limit=20
  companion history --dsn=postgres://user:pass@db:5432/companion --session=<id>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistory(cmd.Context(), *globalFlags, *historyFlags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&historyFlags.DSN, "dsn", "", "history sink DSN (defaults to the first history.dsn in config)")
	cmd.Flags().StringVar(&historyFlags.Session, "session", "", "count the events of this session")
	cmd.Flags().IntVar(&historyFlags.Limit, "limit", 50, "number of recent events to list")
	cmd.Flags().BoolVar(&historyFlags.JSON, "json", false, "print events as JSON")
	return cmd
}
