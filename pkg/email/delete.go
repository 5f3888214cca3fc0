package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	uidplus "github.com/emersion/go-imap-uidplus"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
)

// Delete flags the message with uid in mailbox as \Deleted and expunges
// it. Arguments are checked before any connection is opened. Other
// messages already flagged \Deleted in the mailbox are left in place.
func (s *Service) Delete(ctx context.Context, creds Credentials, mailbox string, uid *uint32) error {
	if uid == nil || *uid == 0 {
		return fmt.Errorf("%w: uid is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(mailbox) == "" {
		return fmt.Errorf("%w: mailbox is required", ErrInvalidArgument)
	}

	log := s.logger.WithFields(logrus.Fields{
		"user":    creds.Username,
		"mailbox": mailbox,
		"uid":     *uid,
	})

	err := s.sessions.WithMailbox(ctx, creds, mailbox, false, func(c *client.Client, _ *imap.MailboxStatus) error {
		target := new(imap.SeqSet)
		target.AddNum(*uid)

		if ok, _ := c.Support("UIDPLUS"); ok {
			if err := storeDeleted(c, target, imap.AddFlags); err != nil {
				return fmt.Errorf("flag UID %d deleted: %w", *uid, err)
			}
			if err := uidplus.NewClient(c).UidExpunge(target, nil); err != nil {
				return fmt.Errorf("UID EXPUNGE %d: %w", *uid, err)
			}
			return nil
		}

		log.Debug("Server lacks UIDPLUS, shielding other deleted messages from EXPUNGE")
		return expungeOnly(c, *uid)
	})
	if err != nil {
		return err
	}

	log.Info("Message deleted")
	return nil
}

// expungeOnly removes uid with a plain EXPUNGE. Messages another client
// already flagged \Deleted lose the flag for the duration of the EXPUNGE
// and get it back afterwards.
func expungeOnly(c *client.Client, uid uint32) error {
	criteria := imap.NewSearchCriteria()
	criteria.WithFlags = []string{imap.DeletedFlag}
	flagged, err := c.UidSearch(criteria)
	if err != nil {
		return fmt.Errorf("search deleted: %w", err)
	}

	others := new(imap.SeqSet)
	for _, u := range flagged {
		if u != uid {
			others.AddNum(u)
		}
	}

	if !others.Empty() {
		if err := storeDeleted(c, others, imap.RemoveFlags); err != nil {
			return fmt.Errorf("unflag other deleted messages: %w", err)
		}
	}

	target := new(imap.SeqSet)
	target.AddNum(uid)
	expungeErr := storeDeleted(c, target, imap.AddFlags)
	if expungeErr != nil {
		expungeErr = fmt.Errorf("flag UID %d deleted: %w", uid, expungeErr)
	} else if err := c.Expunge(nil); err != nil {
		expungeErr = fmt.Errorf("expunge: %w", err)
	}

	if !others.Empty() {
		if err := storeDeleted(c, others, imap.AddFlags); err != nil && expungeErr == nil {
			return fmt.Errorf("restore other deleted messages: %w", err)
		}
	}
	return expungeErr
}

func storeDeleted(c *client.Client, seqSet *imap.SeqSet, op imap.FlagsOp) error {
	return c.UidStore(seqSet, imap.FormatFlagsOp(op, true), []interface{}{imap.DeletedFlag}, nil)
}
