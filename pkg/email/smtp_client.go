package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/jadenk/mailux/pkg/config"
	"github.com/sirupsen/logrus"
)

// SMTPClient opens one authenticated SMTP session per call
type SMTPClient struct {
	config *config.Config
	logger *logrus.Entry
}

// NewSMTPClient creates a new SMTP client
func NewSMTPClient(cfg *config.Config, logger *logrus.Entry) *SMTPClient {
	return &SMTPClient{
		config: cfg,
		logger: logger,
	}
}

// smtpSession is an open SMTP connection bound to a request context
type smtpSession struct {
	*smtp.Client
	stop func() bool
}

func (s *smtpSession) Close() error {
	s.stop()
	return s.Client.Close()
}

// Verify authenticates and quits without starting a transaction
func (sc *SMTPClient) Verify(ctx context.Context, creds Credentials) error {
	session, err := sc.open(ctx, creds)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Quit(); err != nil {
		return fmt.Errorf("%w: SMTP quit: %w", ErrConnection, err)
	}
	return nil
}

// Transmit delivers raw to every envelope recipient and returns the
// recipients the server accepted.
func (sc *SMTPClient) Transmit(ctx context.Context, creds Credentials, env Envelope, raw []byte) ([]string, error) {
	from, err := bareAddress(env.From)
	if err != nil {
		return nil, fmt.Errorf("%w: envelope sender: %w", ErrInvalidArgument, err)
	}
	rcpts := make([]string, 0, len(env.To))
	for _, to := range env.To {
		addr, err := bareAddress(to)
		if err != nil {
			return nil, fmt.Errorf("%w: recipient %q: %w", ErrInvalidArgument, to, err)
		}
		rcpts = append(rcpts, addr)
	}
	if len(rcpts) == 0 {
		return nil, fmt.Errorf("%w: no recipients", ErrInvalidArgument)
	}

	session, err := sc.open(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	if err := session.Mail(from); err != nil {
		return nil, smtpFailure("MAIL FROM "+from, err)
	}
	for _, rcpt := range rcpts {
		if err := session.Rcpt(rcpt); err != nil {
			return nil, smtpFailure("RCPT TO "+rcpt, err)
		}
	}

	w, err := session.Data()
	if err != nil {
		return nil, smtpFailure("DATA", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("%w: write message: %w", ErrConnection, err)
	}
	if err := w.Close(); err != nil {
		return nil, smtpFailure("message rejected", err)
	}

	// The message is queued once DATA is acknowledged.
	if err := session.Quit(); err != nil {
		sc.logger.WithError(err).Debug("SMTP quit failed after delivery")
	}
	return rcpts, nil
}

// open dials, upgrades to TLS when configured and authenticates as creds
func (sc *SMTPClient) open(ctx context.Context, creds Credentials) (*smtpSession, error) {
	host := sc.config.SMTPServer
	addr := net.JoinHostPort(host, strconv.Itoa(sc.config.SMTPPort))
	dialer := &net.Dialer{Timeout: sc.config.Timeout}
	tlsCfg := tlsConfig(sc.config, host)

	var conn net.Conn
	var err error
	if sc.config.SMTPSecure {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsCfg}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial SMTP %s: %w", ErrConnection, addr, err)
	}

	deadline := time.Now().Add(sc.config.CommandTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: SMTP greeting from %s: %w", ErrConnection, addr, err)
	}
	session := &smtpSession{
		Client: c,
		stop: context.AfterFunc(ctx, func() {
			conn.Close()
		}),
	}

	if err := c.Hello(sc.config.Domain); err != nil {
		session.Close()
		return nil, fmt.Errorf("%w: EHLO: %w", ErrConnection, err)
	}

	if !sc.config.SMTPSecure && sc.config.SMTPStartTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsCfg); err != nil {
				session.Close()
				return nil, fmt.Errorf("%w: STARTTLS: %w", ErrConnection, err)
			}
		}
	}

	if ok, _ := c.Extension("AUTH"); ok {
		auth := smtp.PlainAuth("", sc.config.LoginName(creds.Username), creds.Password, host)
		if err := c.Auth(auth); err != nil {
			session.Close()
			var reply *textproto.Error
			if errors.As(err, &reply) {
				return nil, fmt.Errorf("%w: %w: SMTP auth as %s: %v", ErrConnection, ErrLoginRejected, creds.Username, err)
			}
			return nil, fmt.Errorf("%w: SMTP auth as %s: %w", ErrConnection, creds.Username, err)
		}
	} else {
		sc.logger.WithField("server", addr).Debug("SMTP server does not offer AUTH, sending unauthenticated")
	}

	return session, nil
}

// smtpFailure attaches an error kind to a failed transaction step. Permanent
// (5xx) rejections blame the request, anything else the connection.
func smtpFailure(step string, err error) error {
	var reply *textproto.Error
	if errors.As(err, &reply) && reply.Code >= 500 {
		return fmt.Errorf("%w: %s: %w", ErrInvalidArgument, step, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrConnection, step, err)
}
