package api

import (
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relayline/relayline/internal/database"
	"github.com/relayline/relayline/internal/database/models"
)

// handleHealth reports liveness. Load balancers and uptime checks poll this;
// it never touches the provider.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"uptime_sec": int64(time.Since(s.started).Seconds()),
	})
}

type setupRequest struct {
	Name string `json:"name"`
}

type setupResponse struct {
	KeyID string `json:"key_id"`
	// Key is the full credential, shown exactly once. Only its hash is stored.
	Key string `json:"key"`
}

// handleSetup bootstraps the first operator API key. It only works while no
// key exists; after that, key management goes through an authenticated
// channel. The full key is returned once and never recoverable.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if r.ContentLength > 0 {
		if errMsg := readJSON(r, &req); errMsg != "" {
			writeError(w, http.StatusBadRequest, errMsg)
			return
		}
	}
	if req.Name == "" {
		req.Name = "default"
	}

	count, err := s.keys.Count(r.Context())
	if err != nil {
		slog.Error("counting api keys failed", "error", err)
		writeError(w, http.StatusInternalServerError, "setup failed")
		return
	}
	if count > 0 {
		writeError(w, http.StatusConflict, "setup already completed")
		return
	}

	keyID := "rk_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	secret, err := generateSecret()
	if err != nil {
		slog.Error("generating api key secret failed", "error", err)
		writeError(w, http.StatusInternalServerError, "setup failed")
		return
	}

	hash, err := database.HashSecret(secret)
	if err != nil {
		slog.Error("hashing api key secret failed", "error", err)
		writeError(w, http.StatusInternalServerError, "setup failed")
		return
	}

	key := &models.APIKey{ID: keyID, Name: req.Name, SecretHash: hash}
	if err := s.keys.Create(r.Context(), key); err != nil {
		slog.Error("storing api key failed", "error", err)
		writeError(w, http.StatusInternalServerError, "setup failed")
		return
	}

	slog.Info("operator api key created", "key_id", keyID, "name", req.Name)

	writeJSON(w, http.StatusCreated, setupResponse{
		KeyID: keyID,
		Key:   keyID + "." + secret,
	})
}

// generateSecret returns a 32-byte random secret in URL-safe base64.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
