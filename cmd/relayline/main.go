package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relayline/relayline/internal/api"
	"github.com/relayline/relayline/internal/background"
	"github.com/relayline/relayline/internal/callid"
	"github.com/relayline/relayline/internal/config"
	"github.com/relayline/relayline/internal/database"
	"github.com/relayline/relayline/internal/database/pgstore"
	"github.com/relayline/relayline/internal/email"
	"github.com/relayline/relayline/internal/ledger"
	"github.com/relayline/relayline/internal/legs"
	"github.com/relayline/relayline/internal/metrics"
	"github.com/relayline/relayline/internal/provider"
	"github.com/relayline/relayline/internal/push"
	"github.com/relayline/relayline/internal/recording"
	"github.com/relayline/relayline/internal/routing"
	"github.com/relayline/relayline/internal/transcribe"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))

	slog.Info("starting relayline",
		"http_port", cfg.HTTPPort,
		"public_base_url", cfg.PublicBaseURL,
		"data_dir", cfg.DataDir,
	)

	// Local SQLite database: contacts, transcript jobs, API keys, devices.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Call records live in SQLite unless a PostgreSQL DSN is configured.
	var calls database.CallRecordRepository
	if cfg.PostgresDSN != "" {
		pg, err := pgstore.New(cfg.PostgresDSN)
		if err != nil {
			slog.Error("failed to open postgresql call store", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		calls = pg
	} else {
		calls = database.NewCallRecordRepository(db)
	}

	contacts := database.NewContactRepository(db)
	jobs := database.NewTranscriptJobRepository(db)
	keys := database.NewAPIKeyRepository(db)
	devices := database.NewAgentDeviceRepository(db)

	sysConfig, err := database.NewSystemConfigRepository(context.Background(), db)
	if err != nil {
		slog.Error("failed to load system config", "error", err)
		os.Exit(1)
	}

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	client := provider.NewClient(provider.Config{
		AccountSID:        cfg.AccountSID,
		AuthToken:         cfg.AuthToken,
		BaseURL:           cfg.APIBaseURL,
		IntelURL:          cfg.IntelBaseURL,
		IntelServiceSID:   cfg.IntelServiceSID,
		RequestsPerSecond: cfg.ProviderRateLimit,
	})

	fallback := ledger.NewFallback()
	lgr := ledger.NewService(calls, contacts, callid.NewResolver(client), fallback)
	runner := background.NewRunner(appCtx, 2*time.Minute)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	reg.MustRegister(metrics.NewCollector(calls, time.Now()))

	business := cfg.BusinessNumberList()

	recorder := recording.NewCoordinator(recording.Config{
		BusinessNumbers:   business,
		StatusCallbackURL: cfg.PublicBaseURL + "/webhooks/recording-status",
	}, lgr, client, runner, m)

	correlator := legs.NewCorrelator(legs.Config{BusinessNumbers: business},
		lgr, client, recorder, runner)

	var summarizer transcribe.Summarizer
	if cfg.OpenAIAPIKey != "" {
		s, err := transcribe.NewOpenAISummarizer(cfg.OpenAIAPIKey, "", cfg.OpenAIModel)
		if err != nil {
			slog.Error("failed to create summarizer", "error", err)
			os.Exit(1)
		}
		summarizer = s
		slog.Info("llm summarization enabled", "model", cfg.OpenAIModel)
	}

	var completionNotifier transcribe.CompletionNotifier
	if cfg.EmailEnabled() {
		smtpCfg := email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     strconv.Itoa(cfg.SMTPPort),
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			TLS:      "starttls",
		}
		completionNotifier = email.NewNotifier(email.NewSender(slog.Default()), smtpCfg, cfg.PublicBaseURL)
		slog.Info("call-summary email enabled", "smtp_host", cfg.SMTPHost)
	}

	pipeline := transcribe.NewPipeline(transcribe.Config{BusinessNumbers: business},
		lgr, jobs, client, summarizer, completionNotifier, m)

	var pushNotifier routing.Notifier
	if cfg.FCMCredentialsFile != "" {
		n, err := push.NewFCMNotifier(appCtx, cfg.FCMCredentialsFile, devices)
		if err != nil {
			slog.Error("failed to create push notifier", "error", err)
			os.Exit(1)
		}
		pushNotifier = n
		slog.Info("inbound push notifications enabled")
	}

	voice := routing.NewRouter(routing.Config{
		PublicBaseURL:   cfg.PublicBaseURL,
		BusinessNumbers: business,
		DefaultCallerID: cfg.DefaultCallerID,
		InboundAgent:    cfg.InboundAgent,
		DialTimeout:     cfg.DialTimeout,
	}, lgr, runner, pushNotifier)

	jwtSecret, err := loadJWTSecret(appCtx, cfg, sysConfig)
	if err != nil {
		slog.Error("failed to load jwt secret", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(api.Deps{
		Config:         cfg,
		Ledger:         lgr,
		Router:         voice,
		Correlator:     correlator,
		Recorder:       recorder,
		Pipeline:       pipeline,
		Keys:           keys,
		Devices:        devices,
		Media:          client,
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		JWTSecret:      jwtSecret,
	})

	startFallbackFlusher(appCtx, fallback, calls)
	if cfg.RetentionDays > 0 {
		startRetentionSweeper(appCtx, calls, cfg.RetentionDays)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      server,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	// Let in-flight webhook work land before exiting.
	appCancel()
	if !runner.Wait(10 * time.Second) {
		slog.Warn("background tasks still running at exit")
	}

	slog.Info("relayline stopped")
}

// loadJWTSecret resolves the browser-token signing secret. An explicitly
// configured secret wins; otherwise a generated one is persisted in system
// config so issued tokens survive restarts.
func loadJWTSecret(ctx context.Context, cfg *config.Config, sysConfig database.SystemConfigRepository) ([]byte, error) {
	if cfg.JWTSecret == "" {
		stored, err := sysConfig.Get(ctx, "jwt_secret")
		if err != nil {
			return nil, err
		}
		cfg.JWTSecret = stored
	}

	generated := cfg.JWTSecret == ""
	key, err := cfg.JWTSecretBytes()
	if err != nil {
		return nil, err
	}
	if generated {
		if err := sysConfig.Set(ctx, "jwt_secret", cfg.JWTSecret); err != nil {
			return nil, err
		}
		slog.Info("generated and stored browser token signing secret")
	}
	return key, nil
}

// startFallbackFlusher periodically retries records parked in the in-memory
// fallback buffer after store outages.
func startFallbackFlusher(ctx context.Context, fallback *ledger.Fallback, repo database.CallRecordRepository) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fallback.Flush(ctx, repo)
			}
		}
	}()
}

// startRetentionSweeper prunes call records past the retention window once a
// day, plus once shortly after startup.
func startRetentionSweeper(ctx context.Context, calls database.CallRecordRepository, days int) {
	sweep := func() {
		n, err := calls.DeleteOlderThan(ctx, days)
		if err != nil {
			slog.Error("retention sweep failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("retention sweep removed records", "count", n, "days", days)
		}
	}

	go func() {
		startup := time.NewTimer(time.Minute)
		defer startup.Stop()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-startup.C:
				sweep()
			case <-ticker.C:
				sweep()
			}
		}
	}()
}
