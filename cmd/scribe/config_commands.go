package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"scribe/internal/config"
	"scribe/internal/daemonctl"
	"scribe/internal/preflight"
)

const redacted = "********"

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigInitCommand(), newConfigValidateCommand(ctx), newConfigShowCommand(ctx))
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			var err error
			if target == "" {
				target, err = config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
			} else if target, err = config.ExpandPath(target); err != nil {
				return fmt.Errorf("resolve config path: %w", err)
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set api.token and the stage providers before running `scribe start`.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite an existing configuration")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate the configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(ctx.configPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", path)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			shown := *cfg
			redact(&shown.API.Token)
			redact(&shown.LLM.APIKey)
			redact(&shown.WhisperX.HFToken)
			data, err := toml.Marshal(shown)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func redact(value *string) {
	if strings.TrimSpace(*value) != "" {
		*value = redacted
	}
}

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, dependencies, remote providers and the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			failures := 0

			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, result := range preflight.RunAll(cmd.Context(), cfg) {
				kind := statusOK
				if !result.Passed {
					kind = statusError
					failures++
				}
				fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}
			fmt.Fprintln(out)

			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(out, line)
			}
			deps := daemonctl.ResolveDependencies(cmd.Context(), cfg)
			summary := daemonctl.BuildDependencySummary(deps)
			failures += summary.MissingRequired
			for _, line := range dependencyLines(deps, summary, colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out)

			for _, line := range renderSectionHeader("Database", colorize) {
				fmt.Fprintln(out, line)
			}
			health, err := daemonctl.DatabaseHealth(cmd.Context(), cfg)
			switch {
			case err != nil:
				failures++
				fmt.Fprintln(out, renderStatusLine("Database", statusError, err.Error(), colorize))
			case !health.IntegrityOK:
				failures++
				fmt.Fprintln(out, renderStatusLine("Integrity", statusError, health.Integrity, colorize))
			default:
				fmt.Fprintln(out, renderStatusLine("Path", statusInfo, health.Path, colorize))
				fmt.Fprintln(out, renderStatusLine("Schema", statusOK, fmt.Sprintf("version %d", health.SchemaVersion), colorize))
				fmt.Fprintln(out, renderStatusLine("Integrity", statusOK, "ok", colorize))
				fmt.Fprintln(out, renderStatusLine("Contents", statusInfo, fmt.Sprintf("%d tasks, %d rounds, %d bytes", health.Tasks, health.Rounds, health.SizeBytes), colorize))
			}

			if failures > 0 {
				return fmt.Errorf("doctor found %d problem(s)", failures)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "All checks passed")
			return nil
		},
	}
}
