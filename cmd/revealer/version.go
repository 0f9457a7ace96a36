package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shpitdev/contact-reveal/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "revealer %s\n", version.Current)
			return nil
		},
	}
}
