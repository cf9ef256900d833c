package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"scribe/internal/api"
	"scribe/internal/daemonctl"
	"scribe/internal/daemonrun"
	"scribe/internal/ipc"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startDiagnostic bool
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon and begin processing tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, daemonLaunchOptions(ctx, startDiagnostic), 10*time.Second)
			if err != nil {
				return err
			}
			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, "Processing started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Processing already running")
			case daemonctl.StartStateRequested:
				if msg := strings.TrimSpace(result.Message); msg != "" {
					fmt.Fprintln(stdout, msg)
					return nil
				}
				fmt.Fprintln(stdout, "Start request sent")
			}
			return nil
		},
	}
	startCmd.Flags().BoolVar(&startDiagnostic, "diagnostic", false, "Enable diagnostic mode with separate DEBUG logs")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Pause processing; running operations finish, nothing new is admitted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Stop()
				if err != nil {
					return err
				}
				if resp.Stopped {
					fmt.Fprintln(cmd.OutOrStdout(), "Processing paused")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Processing was not running")
				}
				return nil
			})
		},
	}

	shutdownCmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Terminate the daemon process",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.Terminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	var restartDiagnostic bool
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the daemon process",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.Restart(
				ctx.socketPath(),
				ctx.configValue(),
				exe,
				daemonLaunchOptions(ctx, restartDiagnostic),
				5*time.Second,
				10*time.Second,
			)
			if err != nil {
				return err
			}
			if result.WasRunning {
				if result.Terminate.ForcedKill && result.Terminate.PID > 0 {
					fmt.Fprintf(stdout, "Killed pid %d\n", result.Terminate.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			switch result.Start.State {
			case daemonctl.StartStateStarted, daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon restarted")
			case daemonctl.StartStateRequested:
				if msg := strings.TrimSpace(result.Start.Message); msg != "" {
					fmt.Fprintln(stdout, msg)
					return nil
				}
				fmt.Fprintln(stdout, "Start request sent")
			}
			return nil
		},
	}
	restartCmd.Flags().BoolVar(&restartDiagnostic, "diagnostic", false, "Enable diagnostic mode with separate DEBUG logs")

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency and task status",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), ctx.configValue())
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, snap)
			}
			renderStatus(cmd.OutOrStdout(), snap, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Emit the snapshot as JSON")

	return []*cobra.Command{startCmd, stopCmd, shutdownCmd, restartCmd, statusCmd}
}

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var diagnostic bool
	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Run the daemon in the foreground",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:   logLevel,
				Diagnostic: diagnostic,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&diagnostic, "diagnostic", false, "Tee DEBUG logs into a JSON file")
	return cmd
}

func renderStatus(out io.Writer, snap daemonctl.Snapshot, colorize bool) {
	section := func(title string, lines []daemonctl.StatusLine) {
		for _, line := range renderSectionHeader(title, colorize) {
			fmt.Fprintln(out, line)
		}
		for _, line := range lines {
			fmt.Fprintln(out, renderStatusLine(line.Label, statusKindFromSeverity(line.Severity), line.Detail, colorize))
		}
		fmt.Fprintln(out)
	}

	section("System Status", snap.SystemChecks)

	for _, line := range renderSectionHeader("Dependencies", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, line := range dependencyLines(snap.Status.Dependencies, snap.Dependencies, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out)

	section("Directories", snap.Directories)

	if len(snap.Status.Stages) > 0 {
		for _, line := range renderSectionHeader("Stages", colorize) {
			fmt.Fprintln(out, line)
		}
		fmt.Fprint(out, renderTable(
			[]string{"Stage", "Default", "Interactive", "Provider"},
			stageRows(snap.Status.Stages),
			nil,
		))
		fmt.Fprintln(out)
	}

	for _, line := range renderSectionHeader("Tasks", colorize) {
		fmt.Fprintln(out, line)
	}
	rows := taskCountRows(snap)
	if len(rows) == 0 {
		fmt.Fprintln(out, "No tasks")
		return
	}
	fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func taskCountRows(snap daemonctl.Snapshot) [][]string {
	if snap.Reachable {
		st := snap.Status.Workflow.Statistics
		if st.Total == 0 {
			return nil
		}
		return [][]string{
			{"Queued", strconv.Itoa(st.Queued)},
			{"Running", strconv.Itoa(st.Running)},
			{"Waiting", strconv.Itoa(st.Waiting)},
			{"Finished", strconv.Itoa(st.Finished)},
			{"Error", strconv.Itoa(st.Errors)},
			{"Total", strconv.Itoa(st.Total)},
		}
	}
	counts := daemonctl.OrderedCounts(snap.TaskCounts)
	rows := make([][]string, 0, len(counts))
	for _, c := range counts {
		rows = append(rows, []string{statusLabel(c.Status), strconv.Itoa(c.Count)})
	}
	return rows
}

func stageRows(stages []api.StageDefault) [][]string {
	rows := make([][]string, 0, len(stages))
	for _, st := range stages {
		enabled := yesNo(st.Enabled)
		if st.AlwaysEnabled {
			enabled = "always"
		}
		provider := st.Provider
		if provider == "" {
			provider = "-"
		}
		rows = append(rows, []string{st.Kind, enabled, yesNo(st.Interactive), provider})
	}
	return rows
}

func dependencyLines(deps []api.DependencyStatus, summary daemonctl.DependencySummary, colorize bool) []string {
	lines := make([]string, 0, len(deps)+2)
	lines = append(lines, renderStatusLine("Summary", statusKindFromSeverity(summary.Severity), summary.Detail, colorize))
	var missing []string
	for _, dep := range deps {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
		missing = append(missing, dep.Name)
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing", statusWarn, strings.Join(missing, ", "), colorize))
	}
	return lines
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext, diagnostic bool) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		ConfigPath: ctx.configPath(),
		Diagnostic: diagnostic,
	}
}
