package email

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// DecodeMessage parses a raw RFC 5322 message into its normalized form.
// Nested multiparts are walked depth first and the first text/plain and
// text/html parts win. A part without a usable Content-Type is treated as
// text/plain. When only HTML is present the text body is derived from it.
func DecodeMessage(uid uint32, r io.Reader) (NormalizedMessage, error) {
	msg := NormalizedMessage{UID: uid}

	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return msg, fmt.Errorf("%w: message %d: %w", ErrCodec, uid, err)
	}
	if mr == nil {
		return msg, fmt.Errorf("%w: message %d: unreadable header", ErrCodec, uid)
	}

	header := mr.Header
	msg.From = addressHeader(header, "From")
	msg.To = addressHeader(header, "To")
	if subject, err := header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = header.Get("Subject")
	}
	if date, err := header.Date(); err == nil && !date.IsZero() {
		msg.Sent = date
		msg.Date = date.Format(time.RFC3339)
	}
	if id, err := header.MessageID(); err == nil {
		msg.MessageID = id
	}
	msg.AutoGenerated = isAutoGenerated(header)

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return msg, fmt.Errorf("%w: message %d: %w", ErrCodec, uid, err)
		}
		if p == nil {
			continue
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, err := h.ContentType()
		if err != nil || ct == "" {
			ct = "text/plain"
		}
		if ct != "text/plain" && ct != "text/html" {
			continue
		}

		b, err := io.ReadAll(p.Body)
		if err != nil {
			return msg, fmt.Errorf("%w: message %d: read %s part: %w", ErrCodec, uid, ct, err)
		}
		switch {
		case ct == "text/plain" && msg.Text == "":
			msg.Text = string(b)
		case ct == "text/html" && msg.HTML == "":
			msg.HTML = string(b)
		}
	}

	if msg.Text == "" && msg.HTML != "" {
		msg.Text = htmlToText(msg.HTML)
	}
	return msg, nil
}

// SortByDate orders messages newest first. Messages without a date go
// last and ties keep their original order.
func SortByDate(msgs []NormalizedMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i].Sent, msgs[j].Sent
		switch {
		case a.IsZero():
			return false
		case b.IsZero():
			return true
		default:
			return a.After(b)
		}
	})
}

// addressHeader renders an address list header as "Name <addr>, addr".
// Headers that do not parse as addresses are returned as decoded text.
func addressHeader(h mail.Header, key string) string {
	list, err := h.AddressList(key)
	if err != nil || len(list) == 0 {
		if text, err := h.Text(key); err == nil {
			return strings.TrimSpace(text)
		}
		return strings.TrimSpace(h.Get(key))
	}

	parts := make([]string, 0, len(list))
	for _, a := range list {
		if a.Name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.Name, a.Address))
		} else {
			parts = append(parts, a.Address)
		}
	}
	return strings.Join(parts, ", ")
}

// isAutoGenerated reports headers that mark a message as machine sent:
// Auto-Submitted other than "no", bulk or list precedence, or a List-Id.
func isAutoGenerated(h mail.Header) bool {
	if v := strings.ToLower(strings.TrimSpace(h.Get("Auto-Submitted"))); v != "" && v != "no" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(h.Get("Precedence"))) {
	case "bulk", "junk", "list":
		return true
	}
	return h.Get("List-Id") != ""
}
