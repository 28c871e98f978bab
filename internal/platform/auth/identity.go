package auth

import (
	"context"
	"encoding/json"
	"net/http"
)

// Verification method names recorded on identities.
const (
	MethodHMAC = "hmac"
	MethodOIDC = "oidc"
)

// Identity captures the authenticated caller details extracted by one of the
// request guards (HMAC signature or OIDC token).
type Identity struct {
	Subject string
	Email   string
	Method  string
}

type contextKey string

const identityContextKey contextKey = "github.com/tegaki-forms/api/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

func respondAuthError(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":  code,
		"detail": detail,
		"status": status,
	})
}
