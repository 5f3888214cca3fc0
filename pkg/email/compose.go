package email

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	jwemail "github.com/jordan-wright/email"
)

// FormatDisplayAddress renders name and address as a header value, e.g.
// "Alice" <alice@example.org>. Non-ASCII names are RFC 2047 encoded.
func FormatDisplayAddress(name, address string) string {
	if strings.TrimSpace(name) == "" {
		return address
	}
	return (&mail.Address{Name: name, Address: address}).String()
}

// ResolveOutbound fills in the sender fields the client left blank.
// From, ReplyTo and Envelope.From default to the user's display address,
// Envelope.To defaults to the addresses in To. Explicit values are kept.
func ResolveOutbound(msg OutboundMessage, displayName, defaultAddress string) OutboundMessage {
	sender := FormatDisplayAddress(displayName, defaultAddress)

	out := msg
	if strings.TrimSpace(out.From) == "" {
		out.From = sender
	}
	if strings.TrimSpace(out.ReplyTo) == "" {
		out.ReplyTo = sender
	}

	var env Envelope
	if msg.Envelope != nil {
		env.From = msg.Envelope.From
		env.To = append([]string(nil), msg.Envelope.To...)
	}
	if strings.TrimSpace(env.From) == "" {
		env.From = sender
	}
	if len(env.To) == 0 {
		env.To = recipientAddresses(out.To)
	}
	out.Envelope = &env

	return out
}

// ComposeRaw renders msg as an RFC 5322 message. The result is what gets
// transmitted and archived, so both copies are identical.
func ComposeRaw(msg OutboundMessage, messageID string, date time.Time) ([]byte, error) {
	e := jwemail.NewEmail()
	e.From = msg.From
	if msg.To != "" {
		e.To = []string{msg.To}
	}
	if msg.ReplyTo != "" {
		e.ReplyTo = []string{msg.ReplyTo}
	}
	e.Subject = msg.Subject
	if msg.Text != "" {
		e.Text = []byte(msg.Text)
	}
	if msg.HTML != "" {
		e.HTML = []byte(msg.HTML)
	}

	e.Headers.Set("Message-Id", messageID)
	e.Headers.Set("Date", date.Format(time.RFC1123Z))
	for k, v := range msg.Headers {
		e.Headers.Set(k, v)
	}

	raw, err := e.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: compose message: %w", ErrCodec, err)
	}
	if !bytes.HasSuffix(raw, []byte("\r\n")) {
		raw = append(raw, '\r', '\n')
	}
	return raw, nil
}

// NewMessageID returns a globally unique Message-ID under domain
func NewMessageID(domain string) string {
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// recipientAddresses extracts bare addresses from a To header value. A value
// that does not parse as an address list is split on commas.
func recipientAddresses(to string) []string {
	if strings.TrimSpace(to) == "" {
		return nil
	}

	if list, err := mail.ParseAddressList(to); err == nil {
		addrs := make([]string, 0, len(list))
		for _, a := range list {
			addrs = append(addrs, a.Address)
		}
		return addrs
	}

	var addrs []string
	for _, part := range strings.Split(to, ",") {
		if part = strings.TrimSpace(part); part != "" {
			addrs = append(addrs, part)
		}
	}
	return addrs
}

// bareAddress strips the display name from a single address
func bareAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty address")
	}
	a, err := mail.ParseAddress(s)
	if err != nil {
		if !strings.ContainsAny(s, "<> ") && strings.Contains(s, "@") {
			return s, nil
		}
		return "", err
	}
	return a.Address, nil
}
