package email

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jadenk/mailux/pkg/config"
	"github.com/sirupsen/logrus"
)

// Service implements the mail operations exposed by the gateway. It keeps
// no per-user state besides the folder registry: credentials arrive with
// every call and each call opens its own connections.
type Service struct {
	config   *config.Config
	sessions *Sessions
	smtp     *SMTPClient
	settings SettingsSource
	vacation *AutoResponder
	folders  *FolderRegistry
	logger   *logrus.Entry
	now      func() time.Time
}

// NewService wires the mail operations for cfg
func NewService(cfg *config.Config, settings SettingsSource, ledger ReplyLedger, logger *logrus.Entry) *Service {
	s := &Service{
		config:   cfg,
		sessions: NewSessions(cfg, logger.WithField("component", "imap")),
		smtp:     NewSMTPClient(cfg, logger.WithField("component", "smtp")),
		settings: settings,
		folders:  NewFolderRegistry(),
		logger:   logger,
		now:      time.Now,
	}
	s.vacation = &AutoResponder{
		window:   cfg.VacationWindow,
		budget:   cfg.CommandTimeout,
		settings: settings,
		ledger:   ledger,
		send:     s.Send,
		address:  cfg.DefaultAddress,
		logger:   logger.WithField("component", "vacation"),
		now:      func() time.Time { return s.now() },
	}
	return s
}

// Sessions exposes the IMAP session manager, used for login probes.
func (s *Service) Sessions() *Sessions {
	return s.sessions
}

// Send transmits msg as the user and archives a copy in the Sent mailbox.
// A failed archive is logged and does not fail the send.
func (s *Service) Send(ctx context.Context, msg OutboundMessage, creds Credentials) (*SendResult, error) {
	if strings.TrimSpace(msg.To) == "" && (msg.Envelope == nil || len(msg.Envelope.To) == 0) {
		return nil, fmt.Errorf("%w: recipient is required", ErrInvalidArgument)
	}

	settings, err := s.settings.GetUserSettings(creds.Username)
	if err != nil {
		s.logger.WithError(err).WithField("user", creds.Username).Warn("Failed to load settings, using defaults")
		settings = UserSettings{}
	}

	resolved := ResolveOutbound(msg, settings.DisplayName(creds.Username), s.config.DefaultAddress(creds.Username))
	messageID := NewMessageID(s.config.Domain)
	raw, err := ComposeRaw(resolved, messageID, s.now())
	if err != nil {
		return nil, err
	}

	accepted, err := s.smtp.Transmit(ctx, creds, *resolved.Envelope, raw)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"user":       creds.Username,
		"message_id": messageID,
		"recipients": len(accepted),
	})
	log.Info("Message sent")

	if err := s.archive(ctx, creds, raw); err != nil {
		log.WithError(err).Warn("Failed to archive sent message")
	}

	return &SendResult{MessageID: messageID, Accepted: accepted}, nil
}

// Reply sends msg the same way Send does. Threading headers are left to the
// client.
func (s *Service) Reply(ctx context.Context, msg OutboundMessage, creds Credentials) (*SendResult, error) {
	return s.Send(ctx, msg, creds)
}

// archive appends raw to the Sent mailbox flagged \Seen. It runs detached
// from ctx cancellation since the message has already left.
func (s *Service) archive(ctx context.Context, creds Credentials, raw []byte) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.CommandTimeout)
	defer cancel()

	return s.sessions.WithConnection(ctx, creds, func(c *client.Client) error {
		if err := c.Append(s.config.SentMailbox, []string{imap.SeenFlag}, s.now(), bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("append to %s: %w", s.config.SentMailbox, err)
		}
		return nil
	})
}

// Verify checks that creds can open both an SMTP and an IMAP session
func (s *Service) Verify(ctx context.Context, creds Credentials) error {
	if err := s.smtp.Verify(ctx, creds); err != nil {
		return err
	}
	return s.sessions.Probe(ctx, creds)
}

// CreateFolder registers a folder name for the user
func (s *Service) CreateFolder(username, name string) ([]string, error) {
	return s.folders.Create(username, name)
}

// Folders lists the user's registered folder names
func (s *Service) Folders(username string) []string {
	return s.folders.List(username)
}
