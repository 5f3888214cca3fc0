package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const decodeWorkers = 8

// rawMessage is an undecoded message as fetched from the server
type rawMessage struct {
	uid  uint32
	data []byte
}

// List fetches and decodes every message in mailbox, newest first. The
// mailbox is opened read-only and bodies are fetched with BODY.PEEK, so
// listing never changes flags. Listing the inbox also runs the vacation
// responder once the IMAP connection is closed.
func (s *Service) List(ctx context.Context, creds Credentials, mailbox string) ([]NormalizedMessage, error) {
	if strings.TrimSpace(mailbox) == "" {
		return nil, fmt.Errorf("%w: mailbox is required", ErrInvalidArgument)
	}

	var raws []rawMessage
	err := s.sessions.WithMailbox(ctx, creds, mailbox, true, func(c *client.Client, status *imap.MailboxStatus) error {
		if status.Messages == 0 {
			return nil
		}
		var err error
		raws, err = fetchAll(c)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrFetch, mailbox, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	msgs, err := decodeAll(ctx, raws)
	if err != nil {
		return nil, err
	}
	SortByDate(msgs)

	s.logger.WithFields(logrus.Fields{
		"user":     creds.Username,
		"mailbox":  mailbox,
		"messages": len(msgs),
	}).Debug("Listed mailbox")

	if strings.EqualFold(mailbox, s.config.InboxMailbox) {
		s.vacation.Review(ctx, creds, msgs)
	}
	return msgs, nil
}

// ListInbox lists the configured inbox
func (s *Service) ListInbox(ctx context.Context, creds Credentials) ([]NormalizedMessage, error) {
	return s.List(ctx, creds, s.config.InboxMailbox)
}

// ListSent lists the configured Sent mailbox
func (s *Service) ListSent(ctx context.Context, creds Credentials) ([]NormalizedMessage, error) {
	return s.List(ctx, creds, s.config.SentMailbox)
}

// fetchAll runs UID SEARCH ALL and fetches the full body of every match
func fetchAll(c *client.Client) ([]rawMessage, error) {
	uids, err := c.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	raws := make([]rawMessage, 0, len(uids))
	var readErr error
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			for _, literal := range msg.Body {
				body = literal
				break
			}
		}
		if body == nil || readErr != nil {
			continue
		}
		data, err := io.ReadAll(body)
		if err != nil {
			readErr = fmt.Errorf("read UID %d: %w", msg.Uid, err)
			continue
		}
		raws = append(raws, rawMessage{uid: msg.Uid, data: data})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if readErr != nil {
		return nil, readErr
	}
	return raws, nil
}

// decodeAll decodes raws in parallel. The first failure fails the whole
// batch and the result keeps the input order.
func decodeAll(ctx context.Context, raws []rawMessage) ([]NormalizedMessage, error) {
	msgs := make([]NormalizedMessage, len(raws))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(decodeWorkers)
	for i, raw := range raws {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			msg, err := DecodeMessage(raw.uid, bytes.NewReader(raw.data))
			if err != nil {
				return err
			}
			msgs[i] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return msgs, nil
}
