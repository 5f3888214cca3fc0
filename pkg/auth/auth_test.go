package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt"
	"github.com/jadenk/mailux/pkg/email"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123")

type fakeProber struct {
	password string
	err      error
	calls    int
}

func (p *fakeProber) Probe(_ context.Context, creds email.Credentials) error {
	p.calls++
	if p.err != nil {
		return p.err
	}
	if creds.Password != p.password {
		return fmt.Errorf("%w: %w: bad password", email.ErrConnection, email.ErrLoginRejected)
	}
	return nil
}

func newTestCarrier(prober Prober) (*Carrier, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return NewCarrier(
		NewMailAuthenticator(prober),
		"mailux",
		NewSessionStore(time.Hour),
		NewTokenIssuer(testSecret, "mailux", time.Hour),
		logger.WithField("component", "auth"),
	), hook
}

func TestLoginResolveLogout(t *testing.T) {
	carrier, hook := newTestCarrier(&fakeProber{password: "secret"})

	token, err := carrier.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.NotContains(t, token, "secret")

	creds, err := carrier.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, email.Credentials{Username: "alice", Password: "secret"}, creds)

	require.NoError(t, carrier.Logout(token))
	_, err = carrier.Resolve(token)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	for _, entry := range hook.AllEntries() {
		line, _ := entry.String()
		assert.NotContains(t, line, "secret", "password must never be logged")
	}
}

func TestLoginRejected(t *testing.T) {
	carrier, _ := newTestCarrier(&fakeProber{password: "secret"})

	_, err := carrier.Login(context.Background(), "alice", "wrong")

	assert.True(t, errors.Is(err, ErrAuthFailed))
}

func TestLoginServerUnreachable(t *testing.T) {
	unreachable := fmt.Errorf("%w: dial: connection refused", email.ErrConnection)
	carrier, _ := newTestCarrier(&fakeProber{err: unreachable})

	_, err := carrier.Login(context.Background(), "alice", "secret")

	assert.True(t, errors.Is(err, email.ErrConnection))
	assert.False(t, errors.Is(err, ErrAuthFailed))
}

func TestLoginValidatesInput(t *testing.T) {
	prober := &fakeProber{password: "secret"}
	carrier, _ := newTestCarrier(prober)

	for _, username := range []string{"", "alice smith", "../etc", strings.Repeat("a", 65)} {
		_, err := carrier.Login(context.Background(), username, "secret")
		assert.True(t, errors.Is(err, email.ErrInvalidArgument), username)
	}
	_, err := carrier.Login(context.Background(), "alice", "")
	assert.True(t, errors.Is(err, email.ErrInvalidArgument))

	assert.Zero(t, prober.calls, "invalid input must not reach the mail server")
}

func TestResolveRejectsBadTokens(t *testing.T) {
	carrier, _ := newTestCarrier(&fakeProber{password: "secret"})
	token, err := carrier.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)

	foreign := NewTokenIssuer([]byte("another-secret-value"), "mailux", time.Hour)
	forged, err := foreign.Issue("whatever", "alice")
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"empty":    "",
		"garbage":  "not.a.token",
		"truncated": token[:len(token)-4],
		"forged":   forged,
	} {
		_, err := carrier.Resolve(tok)
		assert.True(t, errors.Is(err, ErrUnauthorized), name)
	}
}

func TestTokenExpiry(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, "mailux", time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := issuer.Issue("session-1", "alice")
	require.NoError(t, err)

	_, err = issuer.Parse(token)
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, "mailux", time.Hour)

	token, err := issuer.Issue("session-1", "alice")
	require.NoError(t, err)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "session-1", claims.Id)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "mailux", claims.Issuer)
}

func TestTokenRejectsNoneAlgorithm(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, "mailux", time.Hour)
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Type:           sessionTokenType,
		StandardClaims: jwt.StandardClaims{Issuer: "mailux", Id: "x", Subject: "alice"},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = issuer.Parse(token)
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestSessionStore(t *testing.T) {
	store := NewSessionStore(30 * time.Millisecond)
	id := store.Open(email.Credentials{Username: "alice", Password: "secret"})

	creds, ok := store.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, "alice", creds.Username)

	time.Sleep(60 * time.Millisecond)
	_, ok = store.Lookup(id)
	assert.False(t, ok, "session should expire")

	id = store.Open(email.Credentials{Username: "bob"})
	store.Close(id)
	_, ok = store.Lookup(id)
	assert.False(t, ok)
}
