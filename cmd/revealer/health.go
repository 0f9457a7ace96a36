package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shpitdev/contact-reveal/pkg/credential"
	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
)

func newHealthCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show credential health",
		Long: "Without --address, shows the configured pool as loaded (all credentials start healthy). " +
			"With --address, queries a running server.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var snap credential.Snapshot
			if addr, _ := cmd.Flags().GetString("address"); addr != "" {
				s, err := fetchHealth(addr)
				if err != nil {
					return err
				}
				snap = s
			} else {
				svc, err := c.service(cmd.Context(), nil)
				if err != nil {
					return err
				}
				defer closeQuietly(svc, c.log)
				snap = svc.HealthSnapshot()
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	cmd.Flags().String("address", "", "address of a running revealer server, e.g. 127.0.0.1:8080")
	return cmd
}

func fetchHealth(addr string) (credential.Snapshot, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	hc := &http.Client{Timeout: 5 * time.Second}
	resp, err := hc.Get(strings.TrimRight(addr, "/") + "/api/health")
	if err != nil {
		return credential.Snapshot{}, rerr.Wrap(err, rerr.CodeNetworkError, "query server health")
	}
	defer func() { _ = resp.Body.Close() }()

	var snap credential.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return credential.Snapshot{}, rerr.Wrap(err, rerr.CodeResponseInvalid, "decode server health")
	}
	return snap, nil
}

func printSnapshot(w io.Writer, snap credential.Snapshot) {
	_, _ = fmt.Fprintf(w, "%d/%d credentials healthy\n", snap.Healthy, snap.Total)
	for _, cs := range snap.Credentials {
		state := "healthy"
		switch {
		case !cs.Healthy:
			state = "unhealthy"
		case cs.Probation:
			state = "probation"
		}
		line := fmt.Sprintf("  #%d %-10s %-10s failures=%d", cs.Index, cs.Masked, state, cs.ConsecutiveFailures)
		if cs.CreditBalance != nil {
			line += fmt.Sprintf(" credits=%g", *cs.CreditBalance)
		}
		if cs.CooldownUntil != nil {
			line += " cooldown_until=" + cs.CooldownUntil.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintln(w, line)
	}
}
