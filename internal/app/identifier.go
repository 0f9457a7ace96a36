package app

import (
	"net/url"
	"strings"

	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
)

var profilePrefixes = []string{"/in/", "/pub/", "/sales/lead/"}

// NormalizeIdentifier canonicalizes a LinkedIn profile URL: scheme added,
// host lower-cased, query, fragment and trailing slash dropped.
func NormalizeIdentifier(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", rerr.New(rerr.CodeRequestInvalid, "identifier is required")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", rerr.New(rerr.CodeRequestInvalid, "identifier is not a valid URL")
	}

	host := strings.ToLower(u.Hostname())
	if host != "linkedin.com" && !strings.HasSuffix(host, ".linkedin.com") {
		return "", rerr.New(rerr.CodeRequestInvalid, "identifier must be a LinkedIn profile URL")
	}

	path := strings.TrimRight(u.EscapedPath(), "/")
	lower := strings.ToLower(path) + "/"
	ok := false
	for _, prefix := range profilePrefixes {
		if strings.HasPrefix(lower, prefix) && len(lower) > len(prefix)+1 {
			ok = true
			break
		}
	}
	if !ok {
		return "", rerr.New(rerr.CodeRequestInvalid, "identifier must point to a LinkedIn profile (/in/, /pub/ or /sales/lead/)")
	}
	return "https://" + host + path, nil
}
