// Package config loads runtime configuration for the RelayLine server.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the RelayLine server.
// Precedence: CLI flags > env vars > .env file > defaults.
type Config struct {
	DataDir       string
	HTTPPort      int
	PublicBaseURL string // externally reachable base URL for provider callbacks
	LogLevel      string
	LogFormat     string // "text" or "json"
	CORSOrigins   string

	// Telephony routing policy.
	BusinessNumbers string // comma-separated owned inbound numbers
	DefaultCallerID string // presented on outbound PSTN legs
	InboundAgent    string // client identity that rings when no agent correlation exists
	DialTimeout     int    // seconds a dialed leg rings before no-answer

	// Provider credentials and endpoints.
	AccountSID      string
	AuthToken       string
	APIBaseURL      string // override for the voice REST API (tests, regional endpoints)
	IntelBaseURL    string // override for the conversational-intelligence API
	IntelServiceSID string
	AppSID          string // voice application SID embedded in browser tokens
	VerifySignature bool   // validate X-Provider-Signature on webhooks
	// ProviderRateLimit caps outbound provider API requests per second.
	// Zero disables client-side throttling.
	ProviderRateLimit float64

	JWTSecret string // hex-encoded 32-byte secret for browser voice tokens

	// Call-summary email delivery. All empty disables email.
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// Push notifications for inbound calls. Empty disables push.
	FCMCredentialsFile string

	// LLM summarization. Empty key degrades to heuristic summaries.
	OpenAIAPIKey string
	OpenAIModel  string

	// PostgresDSN switches call-record storage from SQLite to PostgreSQL.
	PostgresDSN string

	// RetentionDays prunes call records older than this. Zero keeps forever.
	RetentionDays int
}

// defaults
const (
	defaultDataDir     = "./data"
	defaultHTTPPort    = 8080
	defaultLogLevel    = "info"
	defaultLogFormat   = "text"
	defaultDialTimeout = 30
	// defaultProviderRateLimit stays under the provider's published
	// per-account concurrency ceiling.
	defaultProviderRateLimit = 10.0
)

// envPrefix is the prefix for all RelayLine environment variables.
const envPrefix = "RELAYLINE_"

// Load parses configuration from CLI flags, environment variables, and an
// optional .env file in the working directory.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	// A .env file, if present, seeds the environment without overriding
	// variables already set by the caller.
	_ = godotenv.Load()

	cfg := &Config{}

	fs := flag.NewFlagSet("relayline", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.PublicBaseURL, "public-base-url", "", "externally reachable base URL for provider webhooks (e.g., https://relay.example.com)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.BusinessNumbers, "business-numbers", "", "comma-separated owned phone numbers in E.164 form")
	fs.StringVar(&cfg.DefaultCallerID, "default-caller-id", "", "caller ID presented on outbound PSTN legs")
	fs.StringVar(&cfg.InboundAgent, "inbound-agent", "", "client identity that rings for uncorrelated inbound calls")
	fs.IntVar(&cfg.DialTimeout, "dial-timeout", defaultDialTimeout, "seconds a dialed leg rings before no-answer")
	fs.StringVar(&cfg.AccountSID, "account-sid", "", "provider account SID")
	fs.StringVar(&cfg.AuthToken, "auth-token", "", "provider auth token")
	fs.StringVar(&cfg.APIBaseURL, "api-base-url", "", "override for the provider voice API base URL")
	fs.StringVar(&cfg.IntelBaseURL, "intel-base-url", "", "override for the provider intelligence API base URL")
	fs.StringVar(&cfg.IntelServiceSID, "intel-service-sid", "", "provider intelligence service SID for transcripts")
	fs.StringVar(&cfg.AppSID, "app-sid", "", "provider voice application SID for browser tokens")
	fs.BoolVar(&cfg.VerifySignature, "verify-signature", false, "validate provider webhook signatures")
	fs.Float64Var(&cfg.ProviderRateLimit, "provider-rate-limit", defaultProviderRateLimit, "max provider API requests per second (0 disables throttling)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for browser voice JWT signing (auto-generated if empty)")
	fs.StringVar(&cfg.SMTPHost, "smtp-host", "", "SMTP server host for call-summary email")
	fs.IntVar(&cfg.SMTPPort, "smtp-port", 587, "SMTP server port")
	fs.StringVar(&cfg.SMTPUsername, "smtp-username", "", "SMTP auth username")
	fs.StringVar(&cfg.SMTPPassword, "smtp-password", "", "SMTP auth password")
	fs.StringVar(&cfg.SMTPFrom, "smtp-from", "", "From address for call-summary email")
	fs.StringVar(&cfg.FCMCredentialsFile, "fcm-credentials-file", "", "path to the Firebase service-account JSON for push notifications")
	fs.StringVar(&cfg.OpenAIAPIKey, "openai-api-key", "", "OpenAI API key for transcript summarization")
	fs.StringVar(&cfg.OpenAIModel, "openai-model", "", "OpenAI model for transcript summarization")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", "", "PostgreSQL DSN for call-record storage (empty uses SQLite)")
	fs.IntVar(&cfg.RetentionDays, "retention-days", 0, "prune call records older than this many days (0 keeps forever)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides sets flag values from environment variables for any flag
// not explicitly provided on the command line. The env var name is the flag
// name upper-cased with dashes replaced by underscores, under the RELAYLINE_
// prefix (e.g. -public-base-url becomes RELAYLINE_PUBLIC_BASE_URL).
func applyEnvOverrides(fs *flag.FlagSet) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] {
			return
		}
		envVar := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			return
		}
		// Set parses the value through the flag's own type, so numeric and
		// boolean env values get the same validation as CLI flags.
		_ = fs.Set(f.Name, val)
	})
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.DialTimeout < 1 || c.DialTimeout > 600 {
		return fmt.Errorf("dial-timeout must be between 1 and 600 seconds, got %d", c.DialTimeout)
	}
	if c.ProviderRateLimit < 0 {
		return fmt.Errorf("provider-rate-limit must not be negative, got %v", c.ProviderRateLimit)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.PublicBaseURL != "" && !strings.HasPrefix(c.PublicBaseURL, "http") {
		return fmt.Errorf("public-base-url must be an absolute http(s) URL, got %q", c.PublicBaseURL)
	}

	// Provider credentials travel together.
	if (c.AccountSID == "") != (c.AuthToken == "") {
		return fmt.Errorf("account-sid and auth-token must both be provided or both be omitted")
	}

	// The default caller ID must be one of the owned numbers, otherwise the
	// provider rejects outbound legs.
	if c.DefaultCallerID != "" && len(c.BusinessNumberList()) > 0 {
		found := false
		for _, n := range c.BusinessNumberList() {
			if n == c.DefaultCallerID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("default-caller-id %q is not in business-numbers", c.DefaultCallerID)
		}
	}

	if c.SMTPHost != "" && c.SMTPFrom == "" {
		return fmt.Errorf("smtp-from is required when smtp-host is set")
	}

	return nil
}

// BusinessNumberList returns the owned numbers as a slice.
func (c *Config) BusinessNumberList() []string {
	raw := strings.TrimSpace(c.BusinessNumbers)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	nums := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			nums = append(nums, p)
		}
	}
	return nums
}

// JWTSecretBytes returns the decoded 32-byte JWT signing secret.
// If no secret is configured, it generates a random 32-byte key and stores
// the hex-encoded value back in the config for the process lifetime. Browser
// tokens signed with a generated secret do not survive a restart.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		return key, nil
	}

	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// EmailEnabled reports whether call-summary email delivery is configured.
func (c *Config) EmailEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

// SlogLevel converts the configured log level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
