package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/shpitdev/contact-reveal/internal/metrics"
	"github.com/shpitdev/contact-reveal/internal/server"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the extract, search and health API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.New(reg)

			svc, err := c.service(ctx, m)
			if err != nil {
				return err
			}
			defer closeQuietly(svc, c.log)

			srv, err := server.New(svc, server.Config{
				ListenAddr: c.cfg.Server.Listen,
				Gatherer:   reg,
			}, c.log)
			if err != nil {
				return err
			}
			return srv.Start(ctx)
		},
	}
	cmd.Flags().String("listen", "", "listen address (env: REVEAL_SERVER_LISTEN)")
	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		if l, _ := cmd.Flags().GetString("listen"); l != "" {
			c.cfg.Server.Listen = l
		}
		return nil
	}
	return cmd
}
