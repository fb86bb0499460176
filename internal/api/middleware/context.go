package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const (
	ownerIDKey     contextKey = "owner_id"
	credentialKey  contextKey = "credential"
	ownerHolderKey contextKey = "owner_holder"
)

// Credential kinds recorded by Authenticate.
const (
	CredentialJWT    = "jwt"
	CredentialAPIKey = "api_key"
)

// ownerHolder lets Logger see the owner resolved further down the chain.
type ownerHolder struct {
	id string
}

func withOwnerHolder(ctx context.Context, h *ownerHolder) context.Context {
	return context.WithValue(ctx, ownerHolderKey, h)
}

// SetOwnerID stores the authenticated owner in ctx.
func SetOwnerID(ctx context.Context, id string) context.Context {
	if h, ok := ctx.Value(ownerHolderKey).(*ownerHolder); ok {
		h.id = id
	}
	return context.WithValue(ctx, ownerIDKey, id)
}

// GetOwnerID returns the owner set by Authenticate.
func GetOwnerID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(ownerIDKey).(string)
	return id, ok && id != ""
}

func setCredential(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, credentialKey, kind)
}

// GetCredential reports how the request was authenticated.
func GetCredential(r *http.Request) string {
	kind, _ := r.Context().Value(credentialKey).(string)
	return kind
}
