package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"introskip/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", version.Product, version.Version)
			return err
		},
	}
}
