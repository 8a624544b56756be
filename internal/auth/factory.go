package auth

import (
	"github.com/tabwarden/tabwarden/internal/config"
)

// NewAuthorizer picks the authorizer for cfg.AuthMode. ResolveDefaults has
// already rejected unknown modes and dev mode in production.
func NewAuthorizer(cfg *config.Config) Authorizer {
	if cfg.AuthMode == "static" {
		return NewStaticAuthorizer(cfg.AuthTokens)
	}
	return NewMockAuthorizer()
}
