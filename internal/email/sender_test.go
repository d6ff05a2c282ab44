package email

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net/smtp"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/relayline/relayline/internal/database/models"
)

// mockSMTPClient implements smtpClient for testing.
type mockSMTPClient struct {
	helloCalled bool
	tlsCalled   bool
	authCalled  bool
	mailFrom    string
	rcptTo      string
	dataWritten []byte
	quitCalled  bool
	closeCalled bool
}

func (m *mockSMTPClient) Hello(_ string) error { m.helloCalled = true; return nil }
func (m *mockSMTPClient) Extension(ext string) (bool, string) {
	if ext == "STARTTLS" {
		return true, ""
	}
	return false, ""
}
func (m *mockSMTPClient) StartTLS(_ *tls.Config) error { m.tlsCalled = true; return nil }
func (m *mockSMTPClient) Auth(_ smtp.Auth) error       { m.authCalled = true; return nil }
func (m *mockSMTPClient) Mail(from string) error       { m.mailFrom = from; return nil }
func (m *mockSMTPClient) Rcpt(to string) error         { m.rcptTo = to; return nil }
func (m *mockSMTPClient) Data() (io.WriteCloser, error) {
	return &mockWriteCloser{mock: m}, nil
}
func (m *mockSMTPClient) Quit() error  { m.quitCalled = true; return nil }
func (m *mockSMTPClient) Close() error { m.closeCalled = true; return nil }

type mockWriteCloser struct {
	mock *mockSMTPClient
}

func (w *mockWriteCloser) Write(p []byte) (int, error) {
	w.mock.dataWritten = append(w.mock.dataWritten, p...)
	return len(p), nil
}

func (w *mockWriteCloser) Close() error { return nil }

func newTestSender(mock *mockSMTPClient) *Sender {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s := NewSender(logger)
	s.dialFunc = func(_ string, _ *tls.Config, _ string) (smtpClient, error) {
		return mock, nil
	}
	return s
}

func testConfig() SMTPConfig {
	return SMTPConfig{
		Host:     "mail.example.com",
		Port:     "587",
		From:     "relayline@example.com",
		Username: "user",
		Password: "pass",
		TLS:      "starttls",
	}
}

func TestSendCallSummary(t *testing.T) {
	mock := &mockSMTPClient{}
	sender := newTestSender(mock)

	sum := CallSummary{
		To:           "agent@example.com",
		Number:       "+15550199",
		Outcome:      "Connected",
		Timestamp:    time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
		DurationSecs: 135,
		Summary:      "Customer wants pricing for 25 seats.",
	}

	if err := sender.SendCallSummary(context.Background(), testConfig(), sum); err != nil {
		t.Fatalf("SendCallSummary: %v", err)
	}

	if !mock.helloCalled || !mock.tlsCalled || !mock.authCalled {
		t.Error("hello/starttls/auth sequence not completed")
	}
	if mock.mailFrom != "relayline@example.com" {
		t.Errorf("mail from = %q", mock.mailFrom)
	}
	if mock.rcptTo != "agent@example.com" {
		t.Errorf("rcpt to = %q", mock.rcptTo)
	}

	body := string(mock.dataWritten)
	for _, want := range []string{
		"Subject: Call summary: +15550199 (Connected)",
		"Duration: 2m 15s",
		"Customer wants pricing for 25 seats.",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("message missing %q:\n%s", want, body)
		}
	}
	if !mock.quitCalled {
		t.Error("Quit not called")
	}
}

func TestSendCallSummaryRequiresConfig(t *testing.T) {
	sender := newTestSender(&mockSMTPClient{})

	err := sender.SendCallSummary(context.Background(), SMTPConfig{}, CallSummary{To: "a@example.com"})
	if err == nil {
		t.Fatal("unconfigured smtp must error")
	}
}

func TestSendCallSummaryRequiresRecipient(t *testing.T) {
	sender := newTestSender(&mockSMTPClient{})

	err := sender.SendCallSummary(context.Background(), testConfig(), CallSummary{})
	if err == nil {
		t.Fatal("missing recipient must error")
	}
}

func TestNotifierSkipsWithoutAgentEmail(t *testing.T) {
	mock := &mockSMTPClient{}
	n := NewNotifier(newTestSender(mock), testConfig(), "https://crm.example.com")

	n.InsightsReady(context.Background(), &models.CallRecord{ID: "CA0123456789abcdef0123456789abcdef"})

	if mock.mailFrom != "" {
		t.Error("no email must be sent without an agent address")
	}
}

func TestNotifierSendsSummary(t *testing.T) {
	mock := &mockSMTPClient{}
	n := NewNotifier(newTestSender(mock), testConfig(), "https://crm.example.com")

	duration := 90
	n.InsightsReady(context.Background(), &models.CallRecord{
		ID:           "CA0123456789abcdef0123456789abcdef",
		Direction:    "outbound",
		ToNumber:     "+15550199",
		Outcome:      "Connected",
		Duration:     &duration,
		AgentEmail:   "agent@example.com",
		InsightsJSON: `{"summary":"Discussed renewal terms."}`,
	})

	body := string(mock.dataWritten)
	if !strings.Contains(body, "Discussed renewal terms.") {
		t.Errorf("insight summary missing from email:\n%s", body)
	}
	if !strings.Contains(body, "https://crm.example.com/calls/CA0123456789abcdef0123456789abcdef") {
		t.Errorf("deep link missing from email:\n%s", body)
	}
}
