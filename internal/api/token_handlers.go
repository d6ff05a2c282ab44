package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	gocache "github.com/patrickmn/go-cache"

	"github.com/relayline/relayline/internal/database/models"
)

// browserTokenTTL is the lifetime of a browser voice token. Cached tokens are
// evicted earlier so a client never receives one about to expire.
const (
	browserTokenTTL      = time.Hour
	browserTokenCacheTTL = 45 * time.Minute
)

// BrowserClaims is the JWT payload for the browser voice SDK. Identity names
// the client leg ("client:<agent id>" in dial targets); the app sid binds the
// token to the provider voice application serving /webhooks/voice.
type BrowserClaims struct {
	Identity string `json:"identity"`
	AppSID   string `json:"app_sid,omitempty"`
	jwt.RegisteredClaims
}

type browserTokenRequest struct {
	AgentID string `json:"agent_id"`
}

type browserTokenResponse struct {
	Token     string `json:"token"`
	Identity  string `json:"identity"`
	ExpiresAt string `json:"expires_at"`
}

// handleBrowserToken issues a short-lived voice token for a browser agent.
func (s *Server) handleBrowserToken(w http.ResponseWriter, r *http.Request) {
	var req browserTokenRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	if cached, ok := s.tokens.Get(req.AgentID); ok {
		writeJSON(w, http.StatusOK, cached.(browserTokenResponse))
		return
	}

	now := time.Now()
	expiresAt := now.Add(browserTokenTTL)
	claims := BrowserClaims{
		Identity: req.AgentID,
		AppSID:   s.cfg.AppSID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.AccountSID,
			Subject:   req.AgentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtKey)
	if err != nil {
		slog.Error("signing browser token failed", "agent_id", req.AgentID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	resp := browserTokenResponse{
		Token:     signed,
		Identity:  req.AgentID,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	}
	s.tokens.Set(req.AgentID, resp, gocache.DefaultExpiration)

	writeJSON(w, http.StatusOK, resp)
}

type registerDeviceRequest struct {
	AgentID  string `json:"agent_id"`
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// handleRegisterDevice stores a push registration so the agent's devices
// ring on inbound calls.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.AgentID == "" || req.Token == "" {
		writeError(w, http.StatusBadRequest, "agent_id and token are required")
		return
	}
	if req.Platform == "" {
		req.Platform = "fcm"
	}

	dev := &models.AgentDevice{
		AgentID:  req.AgentID,
		Platform: req.Platform,
		Token:    req.Token,
	}
	if err := s.devices.Register(r.Context(), dev); err != nil {
		slog.Error("registering device failed", "agent_id", req.AgentID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register device")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}
