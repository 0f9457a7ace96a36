package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
	"github.com/shpitdev/contact-reveal/pkg/input"
)

func newBulkCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk <input-file|->",
		Short: "Reveal contact data for many profiles in parallel",
		Long: "Reads profile URLs (one per line, or a CSV with a linkedin_url/url column) " +
			"and writes one JSON result per line, in input order.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulk(cmd, c, args[0])
		},
	}
	cmd.Flags().StringP("output", "o", "", "output file for JSON lines (default stdout)")
	return cmd
}

func runBulk(cmd *cobra.Command, c *cli, path string) error {
	ctx := cmd.Context()

	ids, err := readInput(cmd, path)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return rerr.New(rerr.CodeRequestInvalid, "input contains no identifiers")
	}

	out := cmd.OutOrStdout()
	if p, _ := cmd.Flags().GetString("output"); p != "" {
		f, err := os.Create(p)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer closeQuietly(f, c.log)
		out = f
	}

	svc, err := c.service(ctx, nil)
	if err != nil {
		return err
	}
	defer closeQuietly(svc, c.log)

	results, runErr := svc.ExtractMany(ctx, ids, func(completed, total int) {
		c.log.WithFields(logrus.Fields{"completed": completed, "total": total}).Info("progress")
	})

	enc := json.NewEncoder(out)
	seen := make(map[string]struct{}, len(results))
	failed := 0
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		res, ok := results[id]
		if !ok {
			continue
		}
		if !res.Success {
			failed++
		}
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}

	c.log.WithFields(logrus.Fields{"total": len(seen), "failed": failed}).Info("bulk run finished")
	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		return errItemsFailed
	}
	return nil
}

func readInput(cmd *cobra.Command, path string) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, rerr.Wrap(err, rerr.CodeRequestInvalid, "open input")
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	ids, err := input.ReadIdentifiers(r)
	if err != nil {
		return nil, rerr.Wrap(err, rerr.CodeRequestInvalid, "read input")
	}
	return ids, nil
}
