package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jadenk/mailux/pkg/config"
	"github.com/sirupsen/logrus"
)

// Sessions opens short-lived IMAP connections on behalf of one user at a
// time. Nothing is shared between calls: every operation dials, logs in,
// works and logs out on its own connection.
type Sessions struct {
	config *config.Config
	logger *logrus.Entry
}

// NewSessions creates a session manager for the configured IMAP server
func NewSessions(cfg *config.Config, logger *logrus.Entry) *Sessions {
	return &Sessions{
		config: cfg,
		logger: logger,
	}
}

// connect dials the IMAP server and logs in with the given credentials
func (s *Sessions) connect(creds Credentials) (*client.Client, error) {
	addr := net.JoinHostPort(s.config.IMAPServer, strconv.Itoa(s.config.IMAPPort))
	dialer := &net.Dialer{Timeout: s.config.Timeout}

	var c *client.Client
	var err error
	if s.config.IMAPTLS {
		c, err = client.DialWithDialerTLS(dialer, addr, tlsConfig(s.config, s.config.IMAPServer))
	} else {
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial IMAP %s: %w", ErrConnection, addr, err)
	}

	// Authentication runs under the connect timeout, later commands under
	// the longer command timeout.
	c.Timeout = s.config.Timeout
	if err := c.Login(s.config.LoginName(creds.Username), creds.Password); err != nil {
		_ = c.Logout()
		var refused *imap.ErrStatusResp
		if errors.As(err, &refused) {
			return nil, fmt.Errorf("%w: %w: IMAP login as %s: %v", ErrConnection, ErrLoginRejected, creds.Username, err)
		}
		return nil, fmt.Errorf("%w: IMAP login as %s: %w", ErrConnection, creds.Username, err)
	}
	c.Timeout = s.config.CommandTimeout
	return c, nil
}

// WithConnection runs fn on an authenticated connection and always logs out
// afterwards, whether fn succeeds, fails or panics. Cancelling ctx tears
// the connection down.
func (s *Sessions) WithConnection(ctx context.Context, creds Credentials, fn func(c *client.Client) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	c, err := s.connect(creds)
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.Terminate()
	})
	defer func() {
		stop()
		if err := c.Logout(); err != nil {
			s.logger.WithError(err).WithField("user", creds.Username).Debug("IMAP logout failed")
		}
	}()

	return fn(c)
}

// WithMailbox selects mailbox on a fresh connection and runs fn with it.
// A mailbox that cannot be selected is reported as ErrFetch.
func (s *Sessions) WithMailbox(ctx context.Context, creds Credentials, mailbox string, readOnly bool, fn func(c *client.Client, status *imap.MailboxStatus) error) error {
	return s.WithConnection(ctx, creds, func(c *client.Client) error {
		status, err := c.Select(mailbox, readOnly)
		if err != nil {
			return fmt.Errorf("%w: select %s: %w", ErrFetch, mailbox, err)
		}
		return fn(c, status)
	})
}

// Probe logs in and out again. It checks both reachability and the
// credentials.
func (s *Sessions) Probe(ctx context.Context, creds Credentials) error {
	return s.WithConnection(ctx, creds, func(*client.Client) error {
		return nil
	})
}

func tlsConfig(cfg *config.Config, host string) *tls.Config {
	return &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: cfg.TLSSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
}
