package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"scribe/internal/ipc"
)

func newStageCommand(ctx *commandContext) *cobra.Command {
	stageCmd := &cobra.Command{
		Use:     "stage",
		Aliases: []string{"stages"},
		Short:   "Inspect and change stage defaults",
	}

	var listJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List pipeline stages and their defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}
				if listJSON {
					return writeJSON(cmd, resp.Status.Stages)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Stage", "Default", "Interactive", "Provider"},
					stageRows(resp.Status.Stages),
					nil,
				))
				return nil
			})
		},
	}
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Emit stages as JSON")

	stageCmd.AddCommand(listCmd, newStageToggleCommand(ctx, true), newStageToggleCommand(ctx, false))
	return stageCmd
}

func newStageToggleCommand(ctx *commandContext, enable bool) *cobra.Command {
	use, short := "disable", "Disable a stage for new and not yet started tasks"
	if enable {
		use, short = "enable", "Enable a stage for new and not yet started tasks"
	}
	return &cobra.Command{
		Use:   use + " <stage>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.StageToggle(args[0], enable)
				if err != nil {
					return err
				}
				state := "disabled"
				if resp.Result.Enabled {
					state = "enabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stage %s %s; %d pending tasks updated\n", resp.Result.Kind, state, resp.Result.Touched)
				return nil
			})
		},
	}
}
