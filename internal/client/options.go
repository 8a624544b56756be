package client

import (
	"fmt"
	"net/http"
	"time"
)

// Option configures a Client during construction in New. Options run before
// the bearer-token transport is installed.
type Option func(*Client) error

// WithHTTPTimeout bounds every request made by the client. Prefer per-call
// context deadlines where they exist.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("http timeout must be > 0")
		}
		c.http.Timeout = d
		return nil
	}
}

// WithTransport replaces the base round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) error {
		c.http.Transport = rt
		return nil
	}
}
