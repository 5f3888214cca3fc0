package email

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	imapserver "github.com/emersion/go-imap/server"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/jadenk/mailux/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// The memory IMAP backend ships a single account with one INBOX message.
const (
	testUser     = "username"
	testPassword = "password"
)

var testCreds = Credentials{Username: testUser, Password: testPassword}

type deliveredMessage struct {
	User string
	From string
	To   []string
	Data []byte
}

type smtpBackend struct {
	mu        sync.Mutex
	delivered []deliveredMessage
}

func (b *smtpBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &smtpSessionStub{backend: b}, nil
}

func (b *smtpBackend) Messages() []deliveredMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]deliveredMessage(nil), b.delivered...)
}

type smtpSessionStub struct {
	backend *smtpBackend
	user    string
	msg     deliveredMessage
}

func (s *smtpSessionStub) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *smtpSessionStub) Auth(string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != testUser || password != testPassword {
			return errors.New("invalid credentials")
		}
		s.user = username
		return nil
	}), nil
}

func (s *smtpSessionStub) Mail(from string, _ *smtp.MailOptions) error {
	s.msg.From = from
	return nil
}

func (s *smtpSessionStub) Rcpt(to string, _ *smtp.RcptOptions) error {
	switch {
	case strings.HasSuffix(to, "@rejected.example"):
		return &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "No such user"}
	case strings.HasSuffix(to, "@busy.example"):
		return &smtp.SMTPError{Code: 451, EnhancedCode: smtp.EnhancedCode{4, 3, 0}, Message: "Try again later"}
	}
	s.msg.To = append(s.msg.To, to)
	return nil
}

func (s *smtpSessionStub) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.msg.Data = data
	s.msg.User = s.user

	s.backend.mu.Lock()
	s.backend.delivered = append(s.backend.delivered, s.msg)
	s.backend.mu.Unlock()
	return nil
}

func (s *smtpSessionStub) Reset() {
	s.msg = deliveredMessage{}
}

func (s *smtpSessionStub) Logout() error {
	return nil
}

type testEnv struct {
	cfg      *config.Config
	smtp     *smtpBackend
	logs     *test.Hook
	logger   *logrus.Entry
	settings *staticSettings
	ledger   *memoryLedger
	service  *Service
}

// startTestEnv runs an in-memory IMAP server and a recording SMTP server on
// loopback and returns a service wired to both.
func startTestEnv(t *testing.T) *testEnv {
	t.Helper()

	imapListener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	imapSrv := imapserver.New(memory.New())
	imapSrv.AllowInsecureAuth = true
	go imapSrv.Serve(imapListener)
	t.Cleanup(func() { imapSrv.Close() })

	smtpListener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	backend := &smtpBackend{}
	smtpSrv := smtp.NewServer(backend)
	smtpSrv.Domain = "localhost"
	smtpSrv.AllowInsecureAuth = true
	go smtpSrv.Serve(smtpListener)
	t.Cleanup(func() { smtpSrv.Close() })

	cfg := &config.Config{
		Domain:          "example.org",
		LoginWithDomain: false,
		SMTPServer:      "127.0.0.1",
		SMTPPort:        smtpListener.Addr().(*net.TCPAddr).Port,
		SMTPStartTLS:    true,
		IMAPServer:      "127.0.0.1",
		IMAPPort:        imapListener.Addr().(*net.TCPAddr).Port,
		IMAPTLS:         false,
		InboxMailbox:    "INBOX",
		SentMailbox:     "Sent",
		Timeout:         5 * time.Second,
		CommandTimeout:  10 * time.Second,
		VacationWindow:  7 * 24 * time.Hour,
	}

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	entry := logger.WithField("component", "mail")

	env := &testEnv{
		cfg:      cfg,
		smtp:     backend,
		logs:     hook,
		logger:   entry,
		settings: &staticSettings{byUser: map[string]UserSettings{}},
		ledger:   newMemoryLedger(),
	}
	env.service = NewService(cfg, env.settings, env.ledger, entry)

	env.withClient(t, func(c *client.Client) {
		require.NoError(t, c.Create(cfg.SentMailbox))
	})
	return env
}

// withClient runs fn on a raw IMAP client logged in as the test user
func (e *testEnv) withClient(t *testing.T, fn func(c *client.Client)) {
	t.Helper()
	addr := net.JoinHostPort(e.cfg.IMAPServer, strconv.Itoa(e.cfg.IMAPPort))
	c, err := client.Dial(addr)
	require.NoError(t, err)
	defer c.Logout()
	require.NoError(t, c.Login(testUser, testPassword))
	fn(c)
}

// appendMessage stores raw in mailbox through a raw IMAP client
func (e *testEnv) appendMessage(t *testing.T, mailbox string, raw string) {
	t.Helper()
	e.withClient(t, func(c *client.Client) {
		require.NoError(t, c.Append(mailbox, nil, time.Now(), bytes.NewBufferString(raw)))
	})
}

// fetchRaw returns the raw bodies stored in mailbox, in UID order
func (e *testEnv) fetchRaw(t *testing.T, mailbox string) [][]byte {
	t.Helper()
	var bodies [][]byte
	e.withClient(t, func(c *client.Client) {
		status, err := c.Select(mailbox, true)
		require.NoError(t, err)
		if status.Messages == 0 {
			return
		}
		raws, err := fetchAll(c)
		require.NoError(t, err)
		for _, r := range raws {
			bodies = append(bodies, r.data)
		}
	})
	return bodies
}

// flags returns the flags of every message in mailbox keyed by UID
func (e *testEnv) flags(t *testing.T, mailbox string) map[uint32][]string {
	t.Helper()
	result := map[uint32][]string{}
	e.withClient(t, func(c *client.Client) {
		_, err := c.Select(mailbox, true)
		require.NoError(t, err)
		seqSet := new(imap.SeqSet)
		seqSet.AddRange(1, 0)
		messages := make(chan *imap.Message, 10)
		done := make(chan error, 1)
		go func() {
			done <- c.Fetch(seqSet, []imap.FetchItem{imap.FetchUid, imap.FetchFlags}, messages)
		}()
		for m := range messages {
			result[m.Uid] = m.Flags
		}
		require.NoError(t, <-done)
	})
	return result
}

type staticSettings struct {
	mu     sync.Mutex
	byUser map[string]UserSettings
}

func (s *staticSettings) GetUserSettings(username string) (UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byUser[username], nil
}

func (s *staticSettings) set(username string, settings UserSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser[username] = settings
}

type memoryLedger struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{keys: map[string]bool{}}
}

func (l *memoryLedger) MarkReplied(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.keys[key] {
		return false
	}
	l.keys[key] = true
	return true
}

func (l *memoryLedger) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.keys, key)
}
