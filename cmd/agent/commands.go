package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Dethon/Agent-sub012/internal/config"
)

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the configuration file JSON Schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return fmt.Errorf("render schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return nil
		},
	})
	return cmd
}
