// Package middleware provides HTTP middleware for the RelayLine API:
// API-key authentication, provider webhook signature verification,
// structured request logging, panic recovery, CORS, and rate limiting.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/relayline/relayline/internal/database"
)

type contextKey string

// apiKeyIDKey is the context key for the authenticated API key id.
const apiKeyIDKey contextKey = "api_key_id"

// authEnvelope matches the api package's JSON envelope so middleware errors
// look the same as handler errors.
type authEnvelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// writeAuthError writes a JSON error matching the API envelope format.
func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(authEnvelope{Error: msg}) //nolint:errcheck
}

// RequireAPIKey returns middleware that authenticates operator requests with
// an API key. The key is presented either as "Authorization: Bearer <key>" or
// in the X-API-Key header, and has the form "<id>.<secret>" where id is the
// public key id and secret is verified against its stored Argon2id hash.
func RequireAPIKey(keys database.APIKeyRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				writeAuthError(w, http.StatusUnauthorized, "api key required")
				return
			}

			id, secret, ok := strings.Cut(raw, ".")
			if !ok || id == "" || secret == "" {
				writeAuthError(w, http.StatusUnauthorized, "malformed api key")
				return
			}

			key, err := keys.GetByID(r.Context(), id)
			if err != nil {
				if !errors.Is(err, database.ErrNotFound) {
					slog.Error("api key lookup failed", "error", err)
				}
				writeAuthError(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			match, err := database.CheckSecret(secret, key.SecretHash)
			if err != nil || !match {
				writeAuthError(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			if err := keys.TouchLastUsed(r.Context(), key.ID); err != nil {
				slog.Warn("touching api key last-used failed", "key_id", key.ID, "error", err)
			}

			ctx := context.WithValue(r.Context(), apiKeyIDKey, key.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the API key from the Authorization or X-API-Key header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// APIKeyIDFromContext returns the authenticated API key id, or "" for
// unauthenticated requests.
func APIKeyIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(apiKeyIDKey).(string)
	return id
}
