package main

import (
	"fmt"
	"os"

	"github.com/shpitdev/contact-reveal/pkg/redact"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %s\n", redact.Secrets(err.Error()))
		os.Exit(exitCode(err))
	}
}
