// Command scribed runs the scribe daemon in the foreground. It is the
// entrypoint service managers launch; the scribe CLI offers the same runtime
// through "scribe daemon".
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scribe/internal/config"
	"scribe/internal/daemonrun"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "scribed: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var opts daemonrun.Options
	cmd := &cobra.Command{
		Use:           "scribed",
		Short:         "Run the scribe daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, opts)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&opts.Diagnostic, "diagnostic", false, "Tee DEBUG logs into a JSON file")
	return cmd
}

func run(ctx context.Context, configPath string, opts daemonrun.Options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	return daemonrun.Run(ctx, cfg, opts)
}
