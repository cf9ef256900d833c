package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"scribe/internal/api"
	"scribe/internal/ipc"
)

func newTasksCommand(ctx *commandContext) *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:     "tasks",
		Aliases: []string{"task"},
		Short:   "Inspect and manage tasks",
	}

	var listJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks and directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TaskList()
				if err != nil {
					return err
				}
				if listJSON {
					return writeJSON(cmd, resp.Entries)
				}
				out := cmd.OutOrStdout()
				if len(resp.Entries) == 0 {
					fmt.Fprintln(out, "No tasks")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "Name", "Status", "Progress", "Stopped"},
					entryRows(resp.Entries),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Emit entries as JSON")

	var showJSON bool
	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one task with its operations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TaskShow(id)
				if err != nil {
					return err
				}
				if showJSON {
					return writeJSON(cmd, resp.Task)
				}
				renderTask(cmd.OutOrStdout(), resp.Task)
				return nil
			})
		},
	}
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Emit the task as JSON")

	removeCmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a task or a whole directory",
		Args:  cobra.ExactArgs(1),
		RunE: withID(ctx, func(cmd *cobra.Command, client *ipc.Client, id int64) error {
			if err := client.TaskRemove(id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d\n", id)
			return nil
		}),
	}

	restartCmd := &cobra.Command{
		Use:   "restart <id>",
		Short: "Retry the failed operation of a task",
		Args:  cobra.ExactArgs(1),
		RunE: withID(ctx, func(cmd *cobra.Command, client *ipc.Client, id int64) error {
			resp, err := client.TaskRestart(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %d restarted at operation %d\n", id, resp.OperationID)
			return nil
		}),
	}

	pauseCmd := &cobra.Command{
		Use:   "pause <id>",
		Short: "Keep a task from being scheduled",
		Args:  cobra.ExactArgs(1),
		RunE: withID(ctx, func(cmd *cobra.Command, client *ipc.Client, id int64) error {
			if err := client.TaskStop(id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %d paused\n", id)
			return nil
		}),
	}

	resumeCmd := &cobra.Command{
		Use:   "resume <id>",
		Short: "Make a paused task eligible again",
		Args:  cobra.ExactArgs(1),
		RunE: withID(ctx, func(cmd *cobra.Command, client *ipc.Client, id int64) error {
			if err := client.TaskResume(id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %d resumed\n", id)
			return nil
		}),
	}

	renameCmd := &cobra.Command{
		Use:   "rename <directory-id> <label>",
		Short: "Relabel a directory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			label := strings.Join(args[1:], " ")
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.DirectoryRename(id, label); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Directory %d renamed to %q\n", id, label)
				return nil
			})
		},
	}

	tasksCmd.AddCommand(listCmd, showCmd, removeCmd, restartCmd, pauseCmd, resumeCmd, renameCmd)
	tasksCmd.AddCommand(newTaskToggleCommand(ctx, true), newTaskToggleCommand(ctx, false))
	return tasksCmd
}

func newTaskToggleCommand(ctx *commandContext, enable bool) *cobra.Command {
	use, short := "disable", "Disable one stage of a task"
	if enable {
		use, short = "enable", "Enable one stage of a task"
	}
	return &cobra.Command{
		Use:   use + " <id> <stage>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TaskToggle(id, args[1], enable)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(resp.Changes) == 0 {
					fmt.Fprintln(out, "No change")
					return nil
				}
				for _, change := range resp.Changes {
					fmt.Fprintln(out, formatToggleChange(change))
				}
				return nil
			})
		},
	}
}

func formatToggleChange(change api.ToggleChange) string {
	state := "disabled"
	if change.Enabled {
		state = "enabled"
	}
	if !change.Propagated {
		return fmt.Sprintf("%s %s", change.Kind, state)
	}
	if change.Rule != "" {
		return fmt.Sprintf("%s %s (%s)", change.Kind, state, change.Rule)
	}
	return fmt.Sprintf("%s %s (propagated)", change.Kind, state)
}

func withID(ctx *commandContext, fn func(*cobra.Command, *ipc.Client, int64) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return ctx.withClient(func(client *ipc.Client) error {
			return fn(cmd, client, id)
		})
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func entryRows(entries []api.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		switch {
		case entry.Task != nil:
			rows = append(rows, taskRow(*entry.Task, ""))
		case entry.Directory != nil:
			dir := entry.Directory
			rows = append(rows, []string{
				strconv.FormatInt(dir.ID, 10),
				dir.Label + "/",
				statusLabel(dir.Status),
				fmt.Sprintf("%d tasks", len(dir.Members)),
				"",
			})
			for _, member := range dir.Members {
				rows = append(rows, taskRow(member, "  "))
			}
		}
	}
	return rows
}

func taskRow(task api.Task, indent string) []string {
	stopped := ""
	if task.Stopped {
		stopped = "yes"
	}
	return []string{
		strconv.FormatInt(task.ID, 10),
		indent + task.Name,
		statusLabel(task.Status),
		fmt.Sprintf("%d/%d", task.Progress.Done, task.Progress.Total),
		stopped,
	}
}

func renderTask(out io.Writer, task api.Task) {
	fmt.Fprintf(out, "Task %d: %s\n", task.ID, task.Name)
	fmt.Fprintf(out, "  Status:   %s\n", statusLabel(task.Status))
	fmt.Fprintf(out, "  Progress: %d/%d\n", task.Progress.Done, task.Progress.Total)
	if task.Stopped {
		fmt.Fprintln(out, "  Paused:   yes")
	}
	if task.DirectoryID != 0 {
		fmt.Fprintf(out, "  Directory: %d\n", task.DirectoryID)
	}
	for _, input := range task.Inputs {
		fmt.Fprintf(out, "  Input:    %s (%s)\n", input.Name, input.Kind)
	}
	fmt.Fprintln(out)

	rows := make([][]string, 0, len(task.Operations))
	for _, op := range task.Operations {
		enabled := yesNo(op.Enabled)
		if op.PropagatedBy != "" {
			enabled += " (" + op.PropagatedBy + ")"
		}
		result := op.ResultURL
		if result == "" {
			result = "-"
		}
		rows = append(rows, []string{
			strconv.FormatInt(op.ID, 10),
			op.Label,
			statusLabel(op.Status),
			enabled,
			strconv.Itoa(len(op.Rounds)),
			result,
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"Op", "Stage", "Status", "Enabled", "Rounds", "Result"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
}
