package email

import "errors"

// Error kinds. Operations wrap the underlying cause together with one of
// these so callers can branch with errors.Is.
var (
	// ErrConnection reports an authentication or network failure while
	// opening an SMTP or IMAP session.
	ErrConnection = errors.New("connection error")

	// ErrLoginRejected accompanies ErrConnection when the server was
	// reachable but refused the credentials.
	ErrLoginRejected = errors.New("login rejected")

	// ErrFetch reports a mailbox that is missing or unreadable.
	ErrFetch = errors.New("fetch error")

	// ErrCodec reports a message that could not be encoded or decoded.
	ErrCodec = errors.New("codec error")

	// ErrInvalidArgument reports a request missing a required field.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAutoReply wraps any failure in the vacation auto-reply path.
	ErrAutoReply = errors.New("auto-reply failed")
)
