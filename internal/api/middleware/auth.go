package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/api/response"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	keyPrefixLen = 8
	apiKeyMarker = "sq_"
	apiKeyHeader = "X-API-Key"
)

var errInvalidToken = errors.New("invalid token")

// KeyStore is the part of the store API key authentication needs.
type KeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
}

// Auth resolves the owner of a request from a session JWT or an API key.
type Auth struct {
	keys   KeyStore
	secret []byte
}

// NewAuth creates a new Auth middleware. An empty jwtSecret disables bearer
// JWTs, leaving API keys as the only credential.
func NewAuth(keys KeyStore, jwtSecret string) *Auth {
	return &Auth{keys: keys, secret: []byte(jwtSecret)}
}

// Authenticate accepts either an HS256 JWT whose subject is the owner id, or
// an API key in the Authorization or X-API-Key header, and sets owner_id in
// the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			token = strings.TrimSpace(r.Header.Get(apiKeyHeader))
		}
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		ctx := r.Context()
		if strings.HasPrefix(token, apiKeyMarker) {
			ownerID, err := a.checkAPIKey(ctx, token)
			switch {
			case errors.Is(err, errInvalidToken):
				response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid API key", nil)
				return
			case err != nil:
				slog.Error("validate api key", "error", err)
				response.Error(w, http.StatusInternalServerError,
					"INTERNAL_ERROR", "Failed to validate API key", nil)
				return
			}
			ctx = setCredential(SetOwnerID(ctx, ownerID), CredentialAPIKey)
		} else {
			ownerID, err := a.checkJWT(token)
			if err != nil {
				response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token", nil)
				return
			}
			ctx = setCredential(SetOwnerID(ctx, ownerID), CredentialJWT)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) checkJWT(raw string) (string, error) {
	if len(a.secret) == 0 {
		return "", errInvalidToken
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %w", errInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", errInvalidToken
	}
	return claims.Subject, nil
}

func (a *Auth) checkAPIKey(ctx context.Context, raw string) (string, error) {
	if len(raw) <= keyPrefixLen {
		return "", errInvalidToken
	}
	keys, err := a.keys.GetAPIKeyByPrefix(ctx, raw[:keyPrefixLen])
	if err != nil {
		return "", err
	}
	for _, key := range keys {
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)) == nil {
			id := key.ID
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := a.keys.UpdateAPIKeyLastUsed(ctx, id); err != nil {
					slog.Warn("update api key last used", "key_id", id, "error", err)
				}
			}()
			return key.OwnerID, nil
		}
	}
	return "", errInvalidToken
}

// GenerateAPIKey creates a new API key for ownerID. The raw key is returned
// once; only its bcrypt hash is kept on the model.
func GenerateAPIKey(ownerID, name string) (*models.APIKey, string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", fmt.Errorf("generate api key: %w", err)
	}
	raw := apiKeyMarker + hex.EncodeToString(buf)
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash api key: %w", err)
	}
	return &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:keyPrefixLen],
		CreatedAt: time.Now().UTC(),
	}, raw, nil
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
