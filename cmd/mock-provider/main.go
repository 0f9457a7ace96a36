package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/shpitdev/contact-reveal/pkg/mockprovider"
)

func main() {
	addr := defaultString("MOCK_PROVIDER_ADDR", ":8090")
	tokens := defaultString("MOCK_PROVIDER_TOKENS", "")
	exhausted := defaultString("MOCK_PROVIDER_EXHAUSTED_TOKENS", "")
	rateLimited := defaultString("MOCK_PROVIDER_RATE_LIMITED_TOKENS", "")

	fs := flag.NewFlagSet("mock-provider", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&tokens, "tokens", tokens, "Comma-separated bearer tokens to accept; empty accepts any (env: MOCK_PROVIDER_TOKENS)")
	fs.StringVar(&exhausted, "exhausted", exhausted, "Comma-separated tokens answered with 402 insufficient_credits")
	fs.StringVar(&rateLimited, "rate-limited", rateLimited, "Comma-separated tokens answered with 429 on their first request")
	polls := fs.Int("polls", 2, "Status polls reported as processing before a job completes")
	_ = fs.Parse(os.Args[1:])

	srv := mockprovider.New()
	srv.RequireTokens(splitCSV(tokens)...)
	srv.SetDefaultProfile(mockprovider.Profile{
		Polls: *polls,
		Result: map[string]any{
			"full_name": "Test Person",
			"emails":    []any{"test.person@example.com"},
			"phones":    []any{"+1 555 0100"},
		},
	})
	for _, tok := range splitCSV(exhausted) {
		srv.SetBehavior(tok, mockprovider.Behavior{Status: http.StatusPaymentRequired, ErrorCode: "insufficient_credits"})
	}
	for _, tok := range splitCSV(rateLimited) {
		srv.SetBehavior(tok, mockprovider.Behavior{Status: http.StatusTooManyRequests, ErrorCode: "rate_limited", RetryAfter: 1, Times: 1})
	}

	_, _ = fmt.Fprintf(os.Stdout, "mock-provider listening on %s\n", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
