package config

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("MAIL_DOMAIN", "example.org")
	t.Setenv("MAIL_HOST", "smtp.example.org")
	t.Setenv("MAIL_HOST_IMAP", "imap.example.org")
	t.Setenv("SESSION_SECRET", "0123456789abcdef0123")
}

func TestLoadConfig(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.SMTPPort != 587 {
		t.Errorf("Expected SMTP port 587, got %d", cfg.SMTPPort)
	}
	if cfg.IMAPPort != 993 {
		t.Errorf("Expected IMAP port 993, got %d", cfg.IMAPPort)
	}
	if !cfg.IMAPTLS {
		t.Error("Expected IMAP TLS to default to true")
	}
	if cfg.SMTPSecure {
		t.Error("Expected MAIL_SECURE to default to false")
	}
	if cfg.SentMailbox != "Sent" || cfg.InboxMailbox != "INBOX" {
		t.Errorf("Unexpected mailbox names %q/%q", cfg.InboxMailbox, cfg.SentMailbox)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Expected 5s timeout, got %s", cfg.Timeout)
	}
	if cfg.VacationWindow != 7*24*time.Hour {
		t.Errorf("Expected 7 day vacation window, got %s", cfg.VacationWindow)
	}
	if cfg.DefaultSignature != "Sent with Mailux" {
		t.Errorf("Unexpected default signature %q", cfg.DefaultSignature)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAIL_SENT_MAILBOX", "Sent Messages")
	t.Setenv("MAIL_IMAP_PORT", "143")
	t.Setenv("MAIL_IMAP_TLS", "false")
	t.Setenv("MAIL_LOGIN_WITH_DOMAIN", "false")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.SentMailbox != "Sent Messages" {
		t.Errorf("Expected Sent Messages, got %q", cfg.SentMailbox)
	}
	if cfg.IMAPPort != 143 || cfg.IMAPTLS {
		t.Errorf("Expected plaintext IMAP on 143, got %d tls=%v", cfg.IMAPPort, cfg.IMAPTLS)
	}
	if got := cfg.LoginName("alice"); got != "alice" {
		t.Errorf("Expected bare login name, got %q", got)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("Unexpected CORS origins %v", cfg.CORSOrigins)
	}
}

func TestLoadConfigInvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"MAIL_PORT", "smtp"},
		{"MAIL_IMAP_PORT", "70000"},
		{"MAIL_SECURE", "maybe"},
		{"MAIL_TIMEOUT_SECONDS", "0"},
		{"SESSION_SECRET", "short"},
		{"LOG_FORMAT", "xml"},
		{"MAIL_DOMAIN", ""},
	}

	for _, test := range tests {
		t.Run(test.key, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(test.key, test.value)
			if _, err := LoadConfigFromEnv(); err == nil {
				t.Errorf("Expected error for %s=%q", test.key, test.value)
			}
		})
	}
}

func TestAddresses(t *testing.T) {
	cfg := &Config{Domain: "example.org", LoginWithDomain: true}

	if got := cfg.DefaultAddress("alice"); got != "alice@example.org" {
		t.Errorf("Expected alice@example.org, got %s", got)
	}
	if got := cfg.LoginName("alice"); got != "alice@example.org" {
		t.Errorf("Expected alice@example.org, got %s", got)
	}
	if got := cfg.LoginName("bob@other.org"); got != "bob@other.org" {
		t.Errorf("Expected qualified name to be kept, got %s", got)
	}
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{LogLevel: "debug", LogFormat: "json"}
	var buf bytes.Buffer

	logger, err := cfg.NewLogger(&buf)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("Expected debug level, got %s", logger.GetLevel())
	}
	logger.WithField("user", "alice").Info("hello")
	if !strings.Contains(buf.String(), `"user":"alice"`) {
		t.Errorf("Expected JSON output, got %s", buf.String())
	}

	cfg.LogLevel = "loud"
	if _, err := cfg.NewLogger(&buf); err == nil {
		t.Error("Expected error for unknown level")
	}
}
