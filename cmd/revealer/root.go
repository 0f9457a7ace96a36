package main

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/shpitdev/contact-reveal/internal/app"
	"github.com/shpitdev/contact-reveal/internal/config"
	"github.com/shpitdev/contact-reveal/internal/logging"
	"github.com/shpitdev/contact-reveal/internal/metrics"
	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
)

// errItemsFailed marks a run that completed but had per-item failures.
var errItemsFailed = errors.New("one or more identifiers failed")

// flagKeys maps persistent flags to config keys.
var flagKeys = map[string]string{
	"base-url":            "provider.base_url",
	"credential":          "provider.credentials",
	"credentials-file":    "provider.credentials_file",
	"requests-per-second": "provider.requests_per_second",
	"store":               "store.backend",
	"redis-url":           "store.redis_url",
	"log-level":           "log.level",
	"log-format":          "log.format",
}

// cli carries state shared by subcommands.
type cli struct {
	v   *viper.Viper
	cfg *config.Config
	log *logrus.Logger
}

// NewRootCmd creates the root revealer command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           "revealer",
		Short:         "Reveal contact data across a pool of provider credentials",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return c.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "path to config file")
	pf.String("base-url", "", "provider API base URL (env: REVEAL_PROVIDER_BASE_URL)")
	pf.StringSlice("credential", nil, "provider credential, repeatable (env: REVEAL_PROVIDER_CREDENTIALS)")
	pf.String("credentials-file", "", "file with one credential per line or a YAML list")
	pf.Float64("requests-per-second", 0, "per-credential request pacing, 0 disables")
	pf.String("store", "", "result cache backend: none, memory or redis")
	pf.String("redis-url", "", "redis URL for the redis store")
	pf.String("log-level", "", "log level")
	pf.String("log-format", "", "log format: text or json")

	root.AddCommand(
		newExtractCmd(c),
		newBulkCmd(c),
		newSearchCmd(c),
		newHealthCmd(c),
		newServeCmd(c),
		newVersionCmd(),
	)
	return root
}

func (c *cli) init(cmd *cobra.Command) error {
	flags := cmd.Root().PersistentFlags()
	if err := bindFlags(c.v, flags); err != nil {
		return err
	}
	path, _ := flags.GetString("config")
	cfg, err := config.LoadWith(c.v, path)
	if err != nil {
		return err
	}
	tokens, err := cfg.Tokens()
	if err != nil {
		return err
	}
	log, err := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cmd.ErrOrStderr(),
		Secrets: tokens,
	})
	if err != nil {
		return rerr.Wrap(err, rerr.CodeConfigInvalid, "configure logging")
	}
	c.cfg = cfg
	c.log = log
	return nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return rerr.Errorf(rerr.CodeConfigInvalid, "binding %s flag: %w", name, err)
		}
	}
	return nil
}

// service builds the service; m may be nil.
func (c *cli) service(ctx context.Context, m *metrics.Metrics) (*app.Service, error) {
	return app.FromConfig(ctx, c.cfg, c.log, m)
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errItemsFailed):
		return 1
	case rerr.HasCode(err, rerr.CodeConfigInvalid), rerr.HasCode(err, rerr.CodeRequestInvalid):
		return 2
	default:
		return 1
	}
}

func closeQuietly(c io.Closer, log logrus.FieldLogger) {
	if err := c.Close(); err != nil {
		log.WithError(err).Warn("close failed")
	}
}
