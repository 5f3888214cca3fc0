package email

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
)

const (
	vacationPreamble = "Hello,\n\nthis is an automatic reply to your message.\n\n"
	vacationClosing  = "\n\nYour message has been received and will be read as soon as possible.\nThis reply was generated automatically, please do not answer it."
)

// vacationClockSkew is how far in the future a message Date may lie and
// still count as recent.
const vacationClockSkew = 5 * time.Minute

var angleAddress = regexp.MustCompile(`<([^<>\s]+@[^<>\s]+)>`)

// AutoResponder answers recent inbox messages while the owner has vacation
// mode enabled. Each message is answered at most once.
type AutoResponder struct {
	window   time.Duration
	budget   time.Duration
	settings SettingsSource
	ledger   ReplyLedger
	send     func(ctx context.Context, msg OutboundMessage, creds Credentials) (*SendResult, error)
	address  func(username string) string
	logger   *logrus.Entry
	now      func() time.Time
}

// Review answers every eligible message in msgs and returns how many
// replies were sent. Failures are logged per message and never returned.
// A positive budget bounds the whole pass; messages not reached in time
// are left for the next review.
func (a *AutoResponder) Review(ctx context.Context, creds Credentials, msgs []NormalizedMessage) int {
	settings, err := a.settings.GetUserSettings(creds.Username)
	if err != nil {
		a.logger.WithError(fmt.Errorf("%w: load settings: %w", ErrAutoReply, err)).
			WithField("user", creds.Username).Warn("Skipping vacation replies")
		return 0
	}
	if !settings.VacationMode || strings.TrimSpace(settings.VacationMessage) == "" {
		return 0
	}

	if a.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.budget)
		defer cancel()
	}

	sent := 0
	for i, msg := range msgs {
		if ctx.Err() != nil {
			a.logger.WithFields(logrus.Fields{
				"user":      creds.Username,
				"remaining": len(msgs) - i,
			}).Warn("Vacation pass out of time, deferring remaining messages")
			break
		}
		replied, err := a.respond(ctx, creds, settings, msg)
		if err != nil {
			a.logger.WithError(err).WithFields(logrus.Fields{
				"user": creds.Username,
				"uid":  msg.UID,
			}).Warn("Vacation reply failed")
			continue
		}
		if replied {
			sent++
		}
	}
	if sent > 0 {
		a.logger.WithFields(logrus.Fields{
			"user":    creds.Username,
			"replies": sent,
		}).Info("Sent vacation replies")
	}
	return sent
}

// respond sends one vacation reply for msg if it is eligible
func (a *AutoResponder) respond(ctx context.Context, creds Credentials, settings UserSettings, msg NormalizedMessage) (bool, error) {
	if msg.AutoGenerated || msg.Sent.IsZero() {
		return false, nil
	}
	now := a.now()
	if now.Sub(msg.Sent) > a.window || msg.Sent.After(now.Add(vacationClockSkew)) {
		return false, nil
	}

	sender := ExtractAddress(msg.From)
	if sender == "" {
		return false, nil
	}
	if strings.EqualFold(sender, a.address(creds.Username)) {
		return false, nil
	}

	key := replyKey(creds.Username, msg)
	if !a.ledger.MarkReplied(key) {
		return false, nil
	}

	reply := OutboundMessage{
		To:      sender,
		Subject: "Re: " + msg.Subject,
		Text:    vacationPreamble + settings.VacationMessage + vacationClosing,
		Headers: map[string]string{
			"Auto-Submitted":           "auto-replied",
			"X-Auto-Response-Suppress": "All",
		},
	}
	if _, err := a.send(ctx, reply, creds); err != nil {
		a.ledger.Forget(key)
		return false, fmt.Errorf("%w: reply to %s: %w", ErrAutoReply, sender, err)
	}
	return true, nil
}

// ExtractAddress returns the bare sender address from a From value. The
// first <...> address wins, otherwise the whole value must parse as one
// address. It returns "" when nothing usable is found.
func ExtractAddress(from string) string {
	if m := angleAddress.FindStringSubmatch(from); m != nil {
		return m[1]
	}
	if a, err := mail.ParseAddress(strings.TrimSpace(from)); err == nil {
		return a.Address
	}
	return ""
}

// replyKey identifies msg for the reply ledger. Messages without a
// Message-ID fall back to a digest of sender, subject and date.
func replyKey(owner string, msg NormalizedMessage) string {
	if msg.MessageID != "" {
		return owner + "|" + msg.MessageID
	}
	sum := sha256.Sum256([]byte(msg.From + "\x00" + msg.Subject + "\x00" + msg.Date))
	return owner + "|" + hex.EncodeToString(sum[:])
}
