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

const followWaitMillis = 5000

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show task counts per status bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Stats()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Statistics)
				}
				st := resp.Statistics
				rows := [][]string{
					{"Queued", strconv.Itoa(st.Queued)},
					{"Running", strconv.Itoa(st.Running)},
					{"Waiting for user", strconv.Itoa(st.Waiting)},
					{"Finished", strconv.Itoa(st.Finished)},
					{"Error", strconv.Itoa(st.Errors)},
					{"Total", strconv.Itoa(st.Total)},
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Bucket", "Tasks"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit statistics as JSON")
	return cmd
}

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var taskID int64
	var component string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				req := ipc.LogTailRequest{
					Limit:     lines,
					Tail:      true,
					TaskID:    taskID,
					Component: component,
				}
				resp, err := client.LogTail(req)
				if err != nil {
					return err
				}
				printLogEvents(out, resp.Events)
				if !follow {
					return nil
				}
				req.Since = resp.Next
				req.Tail = false
				req.Follow = true
				req.WaitMillis = followWaitMillis
				for {
					if err := cmd.Context().Err(); err != nil {
						return nil
					}
					resp, err := client.LogTail(req)
					if err != nil {
						return err
					}
					printLogEvents(out, resp.Events)
					req.Since = resp.Next
				}
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of records to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new records")
	cmd.Flags().Int64Var(&taskID, "task", 0, "Only records for this task")
	cmd.Flags().StringVar(&component, "component", "", "Only records from this component")
	return cmd
}

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var since uint64
	var limit int
	var follow bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show task and operation events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				req := ipc.EventsRequest{Since: since, Limit: limit}
				for {
					resp, err := client.Events(req)
					if err != nil {
						return err
					}
					for _, event := range resp.Events {
						if asJSON {
							if err := writeJSON(cmd, event); err != nil {
								return err
							}
							continue
						}
						fmt.Fprintln(out, formatEvent(event))
					}
					if !follow || cmd.Context().Err() != nil {
						return nil
					}
					req.Since = resp.Next
					req.WaitMillis = followWaitMillis
				}
			})
		},
	}
	cmd.Flags().Uint64Var(&since, "since", 0, "Only events after this sequence number")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum events per request")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep waiting for new events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit one JSON object per event")
	return cmd
}

func printLogEvents(out io.Writer, events []api.LogEvent) {
	for _, event := range events {
		fmt.Fprintln(out, formatLogEvent(event))
	}
}

func formatLogEvent(event api.LogEvent) string {
	var b strings.Builder
	b.WriteString(event.Timestamp)
	b.WriteString(" ")
	b.WriteString(strings.ToUpper(event.Level))
	if event.Component != "" {
		fmt.Fprintf(&b, " [%s]", event.Component)
	}
	if event.TaskID != 0 {
		fmt.Fprintf(&b, " task=%d", event.TaskID)
	}
	if event.Stage != "" {
		fmt.Fprintf(&b, " stage=%s", event.Stage)
	}
	b.WriteString(" ")
	b.WriteString(event.Message)
	return b.String()
}

func formatEvent(event api.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s %s", event.Seq, event.Time, event.Type)
	if event.DirectoryID != 0 {
		fmt.Fprintf(&b, " dir=%d", event.DirectoryID)
	}
	if event.TaskID != 0 {
		fmt.Fprintf(&b, " task=%d", event.TaskID)
	}
	if event.OperationID != 0 {
		fmt.Fprintf(&b, " op=%d", event.OperationID)
	}
	if event.Stage != "" {
		fmt.Fprintf(&b, " stage=%s", event.Stage)
	}
	if event.Status != "" {
		fmt.Fprintf(&b, " status=%s", event.Status)
	}
	if event.QueueItemID != "" {
		fmt.Fprintf(&b, " ingest=%s", event.QueueItemID)
	}
	if event.Message != "" {
		fmt.Fprintf(&b, " %s", event.Message)
	}
	return b.String()
}
