package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/shpitdev/contact-reveal/pkg/redact"
)

type Config struct {
	Level  string
	Format string // text or json
	Output io.Writer

	// Secrets are scrubbed verbatim from every entry, e.g. the configured
	// provider credentials.
	Secrets []string
}

// New builds a logrus logger with secret redaction applied to every entry.
func New(cfg Config) (*logrus.Logger, error) {
	l := logrus.New()

	level := strings.TrimSpace(cfg.Level)
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	l.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unsupported log format %q (want text or json)", cfg.Format)
	}

	if cfg.Output != nil {
		l.SetOutput(cfg.Output)
	} else {
		l.SetOutput(os.Stderr)
	}
	l.AddHook(RedactHook{Secrets: cfg.Secrets})
	return l, nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// RedactHook strips known secrets, bearer tokens and provider keys from
// messages and string fields before they are formatted.
type RedactHook struct {
	Secrets []string
}

func (RedactHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h RedactHook) Fire(e *logrus.Entry) error {
	e.Message = h.scrub(e.Message)
	for k, v := range e.Data {
		switch t := v.(type) {
		case string:
			e.Data[k] = h.scrub(t)
		case error:
			e.Data[k] = h.scrub(t.Error())
		}
	}
	return nil
}

func (h RedactHook) scrub(s string) string {
	return redact.Secrets(redact.Tokens(s, h.Secrets...))
}
