package main

import (
	"fmt"

	"github.com/danmuck/shardline/internal/admin"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "shardline.toml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "shardctl",
		Short:         "Run and configure a shardline gateway engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), admin.Version)
			return err
		},
	}
}
