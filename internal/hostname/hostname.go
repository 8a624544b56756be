// Package hostname reduces URLs to the bare domains used as ledger keys.
package hostname

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrNoHost is returned when a URL has no usable host component.
var ErrNoHost = errors.New("url has no host")

var profile = idna.New(idna.MapForLookup(), idna.StrictDomainName(false))

// FromURL strips scheme, credentials, port, path and query from raw and returns
// the lowercase ASCII (punycode) domain. Bare domains ("bad.example") are
// accepted as-is.
func FromURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrNoHost
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", raw, err)
	}
	return Normalize(u.Hostname())
}

// Normalize lowercases and IDNA-maps a host name and drops a trailing dot.
func Normalize(host string) (string, error) {
	h := strings.TrimSuffix(strings.TrimSpace(host), ".")
	if h == "" {
		return "", ErrNoHost
	}
	ascii, err := profile.ToASCII(h)
	if err != nil {
		return "", fmt.Errorf("normalize %q: %w", host, err)
	}
	return strings.ToLower(ascii), nil
}
