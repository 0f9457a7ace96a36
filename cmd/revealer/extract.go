package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newExtractCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <profile-url>",
		Short: "Reveal contact data for one profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := c.service(ctx, nil)
			if err != nil {
				return err
			}
			defer closeQuietly(svc, c.log)

			res := svc.ExtractOne(ctx, args[0])
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Success {
				return errItemsFailed
			}
			return nil
		},
	}
}
