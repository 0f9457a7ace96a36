package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/shpitdev/contact-reveal/internal/app"
	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
)

func newSearchCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search provider profiles by filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			req, err := searchRequest(cmd)
			if err != nil {
				return err
			}
			svc, err := c.service(ctx, nil)
			if err != nil {
				return err
			}
			defer closeQuietly(svc, c.log)

			res, err := svc.Search(ctx, req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringToString("filter", nil, "filter as key=value, repeatable")
	cmd.Flags().String("filters-json", "", "filters as a JSON object (merged under --filter)")
	cmd.Flags().Int("size", app.DefaultSearchSize, "results per page (1-30)")
	cmd.Flags().Int("page", 1, "page number")
	return cmd
}

func searchRequest(cmd *cobra.Command) (app.SearchRequest, error) {
	filters := map[string]any{}
	if raw, _ := cmd.Flags().GetString("filters-json"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &filters); err != nil {
			return app.SearchRequest{}, rerr.Wrap(err, rerr.CodeRequestInvalid, "parse --filters-json")
		}
	}
	kv, _ := cmd.Flags().GetStringToString("filter")
	for k, v := range kv {
		filters[k] = v
	}
	size, _ := cmd.Flags().GetInt("size")
	page, _ := cmd.Flags().GetInt("page")
	return app.SearchRequest{Filters: filters, Size: size, Page: page}, nil
}
