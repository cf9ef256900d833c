package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"scribe/internal/api"
	"scribe/internal/ipc"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var split string
	var wait bool
	var asJSON bool

	ingestCmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Queue a recording, transcript or directory for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Ingest(ipc.IngestRequest{Path: path, Split: split, Wait: wait})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Item)
				}
				renderIngestItem(cmd.OutOrStdout(), resp.Item)
				return nil
			})
		},
	}
	ingestCmd.Flags().StringVar(&split, "split", "", "Stereo split policy: first, second, both or pending")
	ingestCmd.Flags().BoolVar(&wait, "wait", false, "Wait until the item is classified")
	ingestCmd.Flags().BoolVar(&asJSON, "json", false, "Emit the queue item as JSON")

	var listJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the ingestion queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.IngestList()
				if err != nil {
					return err
				}
				if listJSON {
					return writeJSON(cmd, resp.Items)
				}
				out := cmd.OutOrStdout()
				if len(resp.Items) == 0 {
					fmt.Fprintln(out, "Ingestion queue is empty")
					return nil
				}
				rows := make([][]string, 0, len(resp.Items))
				for _, item := range resp.Items {
					detail := item.Error
					if detail == "" {
						detail = createdSummary(item)
					}
					rows = append(rows, []string{item.ID, item.Path, statusLabel(item.Status), item.SplitPolicy, detail})
				}
				fmt.Fprint(out, renderTable([]string{"ID", "Path", "Status", "Split", "Detail"}, rows, nil))
				return nil
			})
		},
	}
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Emit queue items as JSON")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one ingestion queue entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.IngestShow(args[0])
				if err != nil {
					return err
				}
				renderIngestItem(cmd.OutOrStdout(), resp.Item)
				return nil
			})
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Drop an ingestion queue entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.IngestRemove(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s (%s)\n", resp.Item.ID, resp.Item.Path)
				return nil
			})
		},
	}

	ingestCmd.AddCommand(listCmd, showCmd, removeCmd)
	return ingestCmd
}

func newSplitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "split <ingest-id> <first|second|both>",
		Short: "Answer a pending stereo split decision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Split(args[0], args[1])
				if err != nil {
					return err
				}
				renderIngestItem(cmd.OutOrStdout(), resp.Item)
				return nil
			})
		},
	}
}

func renderIngestItem(out io.Writer, item api.IngestItem) {
	fmt.Fprintf(out, "Ingest %s: %s\n", item.ID, statusLabel(item.Status))
	fmt.Fprintf(out, "  Path:  %s\n", item.Path)
	if item.SplitPolicy != "" {
		fmt.Fprintf(out, "  Split: %s\n", item.SplitPolicy)
	}
	if item.Error != "" {
		fmt.Fprintf(out, "  Error: %s\n", item.Error)
	}
	if summary := createdSummary(item); summary != "" {
		fmt.Fprintf(out, "  Tasks: %s\n", summary)
	}
}

func createdSummary(item api.IngestItem) string {
	var parts []string
	if len(item.Created) > 0 {
		parts = append(parts, "created "+joinIDs(item.Created))
	}
	if len(item.Merged) > 0 {
		parts = append(parts, "merged into "+joinIDs(item.Merged))
	}
	if item.DirectoryID != 0 {
		parts = append(parts, fmt.Sprintf("directory %d", item.DirectoryID))
	}
	return strings.Join(parts, "; ")
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
