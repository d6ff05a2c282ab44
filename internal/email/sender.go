// Package email sends call summary notifications to the owning agent over
// SMTP.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/relayline/relayline/internal/database/models"
)

// SMTPConfig holds the SMTP server configuration.
type SMTPConfig struct {
	Host     string
	Port     string
	From     string
	Username string
	Password string
	TLS      string // "none", "starttls", "tls"
}

// Valid returns true if the minimum required fields are set.
func (c SMTPConfig) Valid() bool {
	return c.Host != "" && c.Port != "" && c.From != ""
}

// CallSummary describes one finished call for email notification.
type CallSummary struct {
	To           string // recipient email address
	Number       string // counterparty number
	Outcome      string
	Timestamp    time.Time
	DurationSecs int
	Summary      string // insight summary text, may be empty
	CallURL      string // deep link into the CRM, may be empty
}

// Sender sends call summary emails via SMTP.
type Sender struct {
	logger *slog.Logger
	// dialFunc allows injecting a custom dialer for testing.
	dialFunc func(addr string, tlsConfig *tls.Config, tlsMode string) (smtpClient, error)
}

// smtpClient abstracts the methods used from *smtp.Client for testing.
type smtpClient interface {
	Hello(localName string) error
	Extension(ext string) (bool, string)
	StartTLS(config *tls.Config) error
	Auth(a smtp.Auth) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// NewSender creates a new email Sender.
func NewSender(logger *slog.Logger) *Sender {
	return &Sender{
		logger:   logger.With("component", "email"),
		dialFunc: defaultDial,
	}
}

// SendCallSummary sends a summary email for a finished call.
func (s *Sender) SendCallSummary(ctx context.Context, cfg SMTPConfig, sum CallSummary) error {
	if !cfg.Valid() {
		return fmt.Errorf("smtp not configured")
	}
	if sum.To == "" {
		return fmt.Errorf("no recipient email address")
	}

	msg := buildMessage(cfg, sum)

	addr := net.JoinHostPort(cfg.Host, cfg.Port)
	tlsConfig := &tls.Config{ServerName: cfg.Host}

	client, err := s.dialFunc(addr, tlsConfig, cfg.TLS)
	if err != nil {
		return fmt.Errorf("connecting to smtp server: %w", err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("smtp hello: %w", err)
	}

	// STARTTLS upgrade if requested and supported.
	if strings.EqualFold(cfg.TLS, "starttls") {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}

	if cfg.Username != "" && cfg.Password != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(sum.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}

	if err := client.Quit(); err != nil {
		s.logger.Warn("smtp quit error (non-fatal)", "error", err)
	}

	s.logger.Info("call summary email sent",
		"to", sum.To,
		"number", sum.Number,
		"outcome", sum.Outcome,
	)
	return nil
}

// defaultDial connects to the SMTP server using either plain TCP or implicit TLS.
func defaultDial(addr string, tlsConfig *tls.Config, tlsMode string) (smtpClient, error) {
	if strings.EqualFold(tlsMode, "tls") {
		conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}, "tcp", addr, tlsConfig)
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn, tlsConfig.ServerName)
	}

	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)
	return smtp.NewClient(conn, host)
}

// buildMessage constructs the plain-text email bytes.
func buildMessage(cfg SMTPConfig, sum CallSummary) []byte {
	var buf bytes.Buffer

	subject := fmt.Sprintf("Call summary: %s (%s)", sum.Number, sum.Outcome)
	body := fmt.Sprintf(
		"Your call with %s has finished.\n\n"+
			"Outcome: %s\n"+
			"Date: %s\n"+
			"Duration: %s\n",
		sum.Number,
		sum.Outcome,
		sum.Timestamp.Format("Mon, 02 Jan 2006 3:04 PM"),
		formatDuration(sum.DurationSecs),
	)
	if sum.Summary != "" {
		body += "\nSummary:\n" + sum.Summary + "\n"
	}
	if sum.CallURL != "" {
		body += "\nView the call: " + sum.CallURL + "\n"
	}

	fmt.Fprintf(&buf, "From: %s\r\n", cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", sum.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(&buf, "\r\n")
	buf.WriteString(body)

	return buf.Bytes()
}

// formatDuration converts seconds into a human-readable string like "2m 15s".
func formatDuration(secs int) string {
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	m := secs / 60
	s := secs % 60
	if s == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dm %ds", m, s)
}

// Notifier adapts the sender to the transcription pipeline's completion
// hook: when insights land, the owning agent gets the summary by email.
type Notifier struct {
	sender  *Sender
	cfg     SMTPConfig
	baseURL string
	logger  *slog.Logger
}

// NewNotifier creates a completion notifier. baseURL, when set, is used for
// the deep link into the CRM.
func NewNotifier(sender *Sender, cfg SMTPConfig, baseURL string) *Notifier {
	return &Notifier{
		sender:  sender,
		cfg:     cfg,
		baseURL: baseURL,
		logger:  slog.Default().With("component", "email-notifier"),
	}
}

// InsightsReady emails the call summary to the owning agent. Failures are
// logged and swallowed; notification is enrichment, never a pipeline error.
func (n *Notifier) InsightsReady(ctx context.Context, rec *models.CallRecord) {
	if !n.cfg.Valid() || rec.AgentEmail == "" {
		return
	}

	duration := 0
	if rec.Duration != nil {
		duration = *rec.Duration
	}
	sum := CallSummary{
		To:           rec.AgentEmail,
		Number:       counterparty(rec),
		Outcome:      rec.Outcome,
		Timestamp:    rec.UpdatedAt,
		DurationSecs: duration,
		Summary:      summaryFromInsights(rec.InsightsJSON),
	}
	if n.baseURL != "" {
		sum.CallURL = strings.TrimSuffix(n.baseURL, "/") + "/calls/" + rec.ID
	}

	if err := n.sender.SendCallSummary(ctx, n.cfg, sum); err != nil {
		n.logger.Warn("sending call summary email failed",
			"call_id", rec.ID, "error", err)
	}
}

func counterparty(rec *models.CallRecord) string {
	if rec.Direction == "inbound" {
		return rec.FromNumber
	}
	return rec.ToNumber
}

func summaryFromInsights(raw string) string {
	if raw == "" {
		return ""
	}
	var in struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return ""
	}
	return in.Summary
}
