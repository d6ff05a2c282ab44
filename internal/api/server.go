// Package api hosts the HTTP surface of RelayLine: provider webhooks on one
// side, the operator JSON API and metrics on the other.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relayline/relayline/internal/api/middleware"
	"github.com/relayline/relayline/internal/config"
	"github.com/relayline/relayline/internal/database"
	"github.com/relayline/relayline/internal/dedup"
	"github.com/relayline/relayline/internal/ledger"
	"github.com/relayline/relayline/internal/legs"
	"github.com/relayline/relayline/internal/metrics"
	"github.com/relayline/relayline/internal/recording"
	"github.com/relayline/relayline/internal/routing"
	"github.com/relayline/relayline/internal/transcribe"
)

// webhookDedupTTL is how long a processed webhook signature is remembered.
// Provider redeliveries cluster within a few minutes of the original.
const webhookDedupTTL = 10 * time.Minute

// MediaFetcher downloads recording audio from the provider.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, mediaURL string) (io.ReadCloser, error)
}

// Deps collects everything the HTTP server dispatches into.
type Deps struct {
	Config     *config.Config
	Ledger     *ledger.Service
	Router     *routing.Router
	Correlator *legs.Correlator
	Recorder   *recording.Coordinator
	Pipeline   *transcribe.Pipeline
	Keys       database.APIKeyRepository
	Devices    database.AgentDeviceRepository
	// Media streams recording audio for the playback endpoint. Nil
	// disables playback.
	Media   MediaFetcher
	Metrics *metrics.Metrics
	// MetricsHandler serves GET /metrics. Nil disables the endpoint.
	MetricsHandler http.Handler
	// JWTSecret signs browser voice tokens.
	JWTSecret []byte
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router  *chi.Mux
	cfg     *config.Config
	ledger  *ledger.Service
	voice   *routing.Router
	legs    *legs.Correlator
	rec     *recording.Coordinator
	pipe    *transcribe.Pipeline
	keys    database.APIKeyRepository
	devices database.AgentDeviceRepository
	media   MediaFetcher
	metrics *metrics.Metrics
	promh   http.Handler
	jwtKey  []byte
	seen    *dedup.Cache
	// tokens caches issued browser voice tokens per agent so page reloads
	// do not mint a new token each time.
	tokens  *gocache.Cache
	started time.Time
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(deps Deps) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		cfg:     deps.Config,
		ledger:  deps.Ledger,
		voice:   deps.Router,
		legs:    deps.Correlator,
		rec:     deps.Recorder,
		pipe:    deps.Pipeline,
		keys:    deps.Keys,
		devices: deps.Devices,
		media:   deps.Media,
		metrics: deps.Metrics,
		promh:   deps.MetricsHandler,
		jwtKey:  deps.JWTSecret,
		seen:    dedup.New(webhookDedupTTL),
		tokens:  gocache.New(browserTokenCacheTTL, 10*time.Minute),
		started: time.Now(),
	}
	if s.promh == nil {
		s.promh = promhttp.Handler()
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)

	// Provider webhooks. Form-encoded POSTs; every response is 200 so the
	// provider never enters its retry-with-backoff path for our own bugs.
	r.Route("/webhooks", func(r chi.Router) {
		if s.cfg.VerifySignature {
			r.Use(middleware.VerifyWebhookSignature(s.cfg.AuthToken, s.cfg.PublicBaseURL))
		}
		r.Post("/voice", s.handleVoiceWebhook)
		r.Post("/leg-status", s.handleLegStatusWebhook)
		r.Post("/dial-status", s.handleDialStatusWebhook)
		r.Post("/recording-status", s.handleRecordingStatusWebhook)
	})

	// Operator API.
	apiLimiter := middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig())
	tokenLimiter := middleware.NewIPRateLimiter(middleware.TokenRateLimitConfig())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigins)))
		r.Use(middleware.RateLimit(apiLimiter))

		// Unauthenticated routes.
		r.Get("/health", s.handleHealth)
		r.Post("/setup", s.handleSetup)

		// Authenticated routes.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAPIKey(s.keys))

			r.Route("/calls", func(r chi.Router) {
				r.Get("/", s.handleListCalls)
				r.Delete("/", s.handleDeleteCalls)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetCall)
					r.Post("/transcribe", s.handleTranscribeCall)
					r.Get("/transcript", s.handleGetTranscript)
					r.Get("/recording", s.handleGetRecordingMedia)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimit(tokenLimiter))
				r.Post("/token", s.handleBrowserToken)
			})

			r.Post("/devices", s.handleRegisterDevice)
		})
	})

	r.Method(http.MethodGet, "/metrics", s.promh)
}
