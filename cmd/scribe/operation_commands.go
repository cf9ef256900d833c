package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"scribe/internal/ipc"
)

func newBeginCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "begin <operation-id>",
		Short: "Mark an interactive operation as opened in its tool",
		Args:  cobra.ExactArgs(1),
		RunE: withID(ctx, func(cmd *cobra.Command, client *ipc.Client, id int64) error {
			if err := client.Begin(id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Operation %d in progress\n", id)
			return nil
		}),
	}
}

func newCompleteCommand(ctx *commandContext) *cobra.Command {
	var file, url, name string
	cmd := &cobra.Command{
		Use:   "complete <operation-id> [file]",
		Short: "Finish an interactive operation with the edited transcript",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if len(args) == 2 && strings.TrimSpace(file) == "" {
				file = args[1]
			}
			req := ipc.CompleteRequest{ID: id, URL: strings.TrimSpace(url), Name: strings.TrimSpace(name)}
			if file = strings.TrimSpace(file); file != "" {
				abs, err := filepath.Abs(file)
				if err != nil {
					return fmt.Errorf("resolve file: %w", err)
				}
				req.Path = abs
			}
			if req.Path == "" && req.URL == "" {
				return errors.New("either --file or --url is required")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.Complete(req); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Operation %d completed\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Local transcript file with the edits")
	cmd.Flags().StringVar(&url, "url", "", "Remote copy of the edited transcript")
	cmd.Flags().StringVar(&name, "name", "", "Result name when only --url is given")
	return cmd
}
