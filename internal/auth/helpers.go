package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tabwarden/tabwarden/internal/model"
)

// ExtractAPIKey returns the bearer token of r. The scheme is matched
// case-insensitively and the token must be a single non-empty word.
func ExtractAPIKey(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("%w: missing Authorization header", model.ErrUnauthorized)
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" || strings.ContainsAny(token, " \t") {
		return "", fmt.Errorf("%w: expected 'Authorization: Bearer <token>'", model.ErrUnauthorized)
	}
	return token, nil
}
