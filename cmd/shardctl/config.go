package main

import (
	"fmt"

	"github.com/danmuck/shardline/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or check a configuration file",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigValidateCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		output string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.WriteTemplate(output, force); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote config template to %s\n", output)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", defaultConfigPath, "output path for the config template")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(input)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintf(out, "validated config at %s (shards: %s)\n", input, cfg.ShardMode); err != nil {
				return err
			}
			if terr := cfg.RequireToken(); terr != nil {
				fmt.Fprintf(out, "warning: %v\n", terr)
				return terr
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", defaultConfigPath, "config path to validate")
	return cmd
}
