package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jadenk/mailux/pkg/email"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnauthorized reports a missing, invalid or expired session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAuthFailed reports credentials refused at login.
	ErrAuthFailed = errors.New("authentication failed")
)

var validUsername = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Authenticator checks a username and password for a named service.
type Authenticator interface {
	Verify(ctx context.Context, service, username, password string) error
}

// Prober opens and closes a mail session with the given credentials
type Prober interface {
	Probe(ctx context.Context, creds email.Credentials) error
}

// MailAuthenticator verifies credentials by logging in to the IMAP server,
// which authenticates against the same local accounts.
type MailAuthenticator struct {
	prober Prober
}

// NewMailAuthenticator creates an authenticator backed by prober
func NewMailAuthenticator(prober Prober) *MailAuthenticator {
	return &MailAuthenticator{prober: prober}
}

// Verify returns nil when the mail server accepts the credentials,
// ErrAuthFailed when it refuses them and the connection error otherwise.
func (a *MailAuthenticator) Verify(ctx context.Context, service, username, password string) error {
	err := a.prober.Probe(ctx, email.Credentials{Username: username, Password: password})
	if err == nil {
		return nil
	}
	if errors.Is(err, email.ErrLoginRejected) {
		return fmt.Errorf("%w: %s refused %s", ErrAuthFailed, service, username)
	}
	return err
}

// Carrier turns a successful login into a signed session token and
// resolves tokens back into credentials on later requests.
type Carrier struct {
	auth     Authenticator
	service  string
	sessions *SessionStore
	tokens   *TokenIssuer
	logger   *logrus.Entry
}

// NewCarrier creates a carrier
func NewCarrier(a Authenticator, service string, sessions *SessionStore, tokens *TokenIssuer, logger *logrus.Entry) *Carrier {
	return &Carrier{
		auth:     a,
		service:  service,
		sessions: sessions,
		tokens:   tokens,
		logger:   logger,
	}
}

// Login verifies the credentials and opens a session
func (c *Carrier) Login(ctx context.Context, username, password string) (string, error) {
	if !validUsername.MatchString(username) || password == "" {
		return "", fmt.Errorf("%w: username and password are required", email.ErrInvalidArgument)
	}

	if err := c.auth.Verify(ctx, c.service, username, password); err != nil {
		c.logger.WithError(err).WithField("user", username).Warn("Login failed")
		return "", err
	}

	id := c.sessions.Open(email.Credentials{Username: username, Password: password})
	token, err := c.tokens.Issue(id, username)
	if err != nil {
		c.sessions.Close(id)
		return "", err
	}

	c.logger.WithField("user", username).Info("User logged in")
	return token, nil
}

// Resolve returns the credentials behind a session token
func (c *Carrier) Resolve(token string) (email.Credentials, error) {
	claims, err := c.tokens.Parse(token)
	if err != nil {
		return email.Credentials{}, err
	}
	creds, ok := c.sessions.Lookup(claims.Id)
	if !ok || creds.Username != claims.Subject {
		return email.Credentials{}, fmt.Errorf("%w: session expired", ErrUnauthorized)
	}
	return creds, nil
}

// Logout ends the session behind token
func (c *Carrier) Logout(token string) error {
	claims, err := c.tokens.Parse(token)
	if err != nil {
		return err
	}
	c.sessions.Close(claims.Id)
	c.logger.WithField("user", claims.Subject).Info("User logged out")
	return nil
}
