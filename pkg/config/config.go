package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP server
	Port        int
	CORSOrigins []string

	// Mail domain used for default addresses and IMAP/SMTP login names
	Domain          string
	LoginWithDomain bool

	// SMTP settings
	SMTPServer   string
	SMTPPort     int
	SMTPSecure   bool // implicit TLS (port 465 style)
	SMTPStartTLS bool // upgrade when the server advertises STARTTLS

	// IMAP settings
	IMAPServer string
	IMAPPort   int
	IMAPTLS    bool

	TLSSkipVerify bool

	// Mailbox names
	InboxMailbox string
	SentMailbox  string

	// Timeouts
	TimeoutSeconds        int
	Timeout               time.Duration
	CommandTimeoutSeconds int
	CommandTimeout        time.Duration

	// Vacation auto-reply
	VacationWindowDays int
	VacationWindow     time.Duration

	// Sessions
	SessionSecret     string
	SessionTTLMinutes int
	SessionTTL        time.Duration
	AuthService       string

	// User settings store
	SettingsFile     string
	DefaultSignature string

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables. A .env file in
// the working directory is read first when present; variables already set
// in the environment win.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromEnv builds the configuration from the process environment
// only.
func LoadConfigFromEnv() (*Config, error) {
	cfg := &Config{
		Port:                  5000,
		CORSOrigins:           []string{"*"},
		LoginWithDomain:       true,
		SMTPPort:              587,
		SMTPStartTLS:          true,
		IMAPPort:              993,
		IMAPTLS:               true,
		InboxMailbox:          "INBOX",
		SentMailbox:           "Sent",
		TimeoutSeconds:        5,
		CommandTimeoutSeconds: 30,
		VacationWindowDays:    7,
		SessionTTLMinutes:     60,
		AuthService:           "mailux",
		DefaultSignature:      "Sent with Mailux",
		LogLevel:              "info",
		LogFormat:             "text",
	}

	var err error
	if cfg.Port, err = envInt("PORT", cfg.Port); err != nil {
		return nil, err
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	cfg.Domain = strings.TrimSpace(os.Getenv("MAIL_DOMAIN"))
	if cfg.LoginWithDomain, err = envBool("MAIL_LOGIN_WITH_DOMAIN", cfg.LoginWithDomain); err != nil {
		return nil, err
	}

	cfg.SMTPServer = os.Getenv("MAIL_HOST")
	if cfg.SMTPPort, err = envInt("MAIL_PORT", cfg.SMTPPort); err != nil {
		return nil, err
	}
	if cfg.SMTPSecure, err = envBool("MAIL_SECURE", cfg.SMTPSecure); err != nil {
		return nil, err
	}
	if cfg.SMTPStartTLS, err = envBool("MAIL_STARTTLS", cfg.SMTPStartTLS); err != nil {
		return nil, err
	}

	cfg.IMAPServer = os.Getenv("MAIL_HOST_IMAP")
	if cfg.IMAPPort, err = envInt("MAIL_IMAP_PORT", cfg.IMAPPort); err != nil {
		return nil, err
	}
	if cfg.IMAPTLS, err = envBool("MAIL_IMAP_TLS", cfg.IMAPTLS); err != nil {
		return nil, err
	}
	if cfg.TLSSkipVerify, err = envBool("MAIL_TLS_SKIP_VERIFY", cfg.TLSSkipVerify); err != nil {
		return nil, err
	}

	if name := os.Getenv("MAIL_INBOX_MAILBOX"); name != "" {
		cfg.InboxMailbox = name
	}
	if name := os.Getenv("MAIL_SENT_MAILBOX"); name != "" {
		cfg.SentMailbox = name
	}

	if cfg.TimeoutSeconds, err = envInt("MAIL_TIMEOUT_SECONDS", cfg.TimeoutSeconds); err != nil {
		return nil, err
	}
	if cfg.CommandTimeoutSeconds, err = envInt("MAIL_COMMAND_TIMEOUT_SECONDS", cfg.CommandTimeoutSeconds); err != nil {
		return nil, err
	}
	if cfg.VacationWindowDays, err = envInt("VACATION_WINDOW_DAYS", cfg.VacationWindowDays); err != nil {
		return nil, err
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionTTLMinutes, err = envInt("SESSION_TTL_MINUTES", cfg.SessionTTLMinutes); err != nil {
		return nil, err
	}
	if service := os.Getenv("AUTH_SERVICE"); service != "" {
		cfg.AuthService = service
	}

	cfg.SettingsFile = os.Getenv("SETTINGS_FILE")
	if sig, ok := os.LookupEnv("DEFAULT_SIGNATURE"); ok {
		cfg.DefaultSignature = sig
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}

	cfg.derive()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// derive fills the duration fields from their integer counterparts.
func (c *Config) derive() {
	c.Timeout = time.Duration(c.TimeoutSeconds) * time.Second
	c.CommandTimeout = time.Duration(c.CommandTimeoutSeconds) * time.Second
	c.VacationWindow = time.Duration(c.VacationWindowDays) * 24 * time.Hour
	c.SessionTTL = time.Duration(c.SessionTTLMinutes) * time.Minute
}

// Validate checks that the configuration can serve mail operations
func (c *Config) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("MAIL_DOMAIN is required")
	}
	if c.SMTPServer == "" {
		return fmt.Errorf("MAIL_HOST is required")
	}
	if c.IMAPServer == "" {
		return fmt.Errorf("MAIL_HOST_IMAP is required")
	}
	if c.SMTPPort < 1 || c.SMTPPort > 65535 {
		return fmt.Errorf("MAIL_PORT %d out of range (1-65535)", c.SMTPPort)
	}
	if c.IMAPPort < 1 || c.IMAPPort > 65535 {
		return fmt.Errorf("MAIL_IMAP_PORT %d out of range (1-65535)", c.IMAPPort)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range (1-65535)", c.Port)
	}
	if c.InboxMailbox == "" || c.SentMailbox == "" {
		return fmt.Errorf("mailbox names must not be empty")
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("invalid MAIL_TIMEOUT_SECONDS")
	}
	if c.CommandTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid MAIL_COMMAND_TIMEOUT_SECONDS")
	}
	if c.VacationWindowDays <= 0 {
		return fmt.Errorf("invalid VACATION_WINDOW_DAYS")
	}
	if len(c.SessionSecret) < 16 {
		return fmt.Errorf("SESSION_SECRET must be at least 16 bytes")
	}
	if c.SessionTTLMinutes <= 0 {
		return fmt.Errorf("invalid SESSION_TTL_MINUTES")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q (valid: text, json)", c.LogFormat)
	}
	return nil
}

// DefaultAddress returns the mailbox address of a local user
func (c *Config) DefaultAddress(username string) string {
	return username + "@" + c.Domain
}

// LoginName returns the identity used to authenticate a local user against
// the IMAP and SMTP servers.
func (c *Config) LoginName(username string) string {
	if c.LoginWithDomain && !strings.Contains(username, "@") {
		return c.DefaultAddress(username)
	}
	return username
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
