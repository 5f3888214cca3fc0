package email

import "time"

// Credentials identify one local user for the duration of a single request.
// They are never persisted and never logged.
type Credentials struct {
	Username string
	Password string
}

// String hides the password when credentials end up in a format verb.
func (c Credentials) String() string {
	return c.Username
}

// Envelope is the SMTP-level sender and recipient list
type Envelope struct {
	From string   `json:"from,omitempty"`
	To   []string `json:"to,omitempty"`
}

// OutboundMessage is a message as submitted by a client. From, ReplyTo and
// Envelope.From are filled in by ResolveOutbound when left blank.
type OutboundMessage struct {
	To       string    `json:"to"`
	Subject  string    `json:"subject"`
	Text     string    `json:"text,omitempty"`
	HTML     string    `json:"html,omitempty"`
	From     string    `json:"from,omitempty"`
	ReplyTo  string    `json:"replyTo,omitempty"`
	Envelope *Envelope `json:"envelope,omitempty"`

	// Headers are extra header fields set by the gateway itself.
	Headers map[string]string `json:"-"`
}

// SendResult reports a successful transmission
type SendResult struct {
	MessageID string   `json:"messageId"`
	Accepted  []string `json:"accepted"`
}

// NormalizedMessage is a decoded message as returned to clients. Every
// string field is empty rather than absent when the source message lacks it.
type NormalizedMessage struct {
	UID     uint32 `json:"uid,omitempty"`
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
	Text    string `json:"text"`
	HTML    string `json:"html"`

	MessageID     string    `json:"-"`
	Sent          time.Time `json:"-"`
	AutoGenerated bool      `json:"-"`
}

// UserSettings are the per-user preferences the mail layer reads. They are
// owned by the settings store.
type UserSettings struct {
	Name            string `yaml:"name" json:"name"`
	Signature       string `yaml:"signature" json:"signature"`
	CanReceiveMails bool   `yaml:"can_receive_mails" json:"canReceiveMails"`
	VacationMode    bool   `yaml:"vacation_mode" json:"vacationMode"`
	VacationMessage string `yaml:"vacation_message,omitempty" json:"vacationMessage,omitempty"`
}

// DisplayName returns the configured name, or the username when none is set.
func (s UserSettings) DisplayName(username string) string {
	if s.Name != "" {
		return s.Name
	}
	return username
}

// SettingsSource loads user settings. Unknown users get default settings
// rather than an error.
type SettingsSource interface {
	GetUserSettings(username string) (UserSettings, error)
}

// ReplyLedger remembers which messages already received an automatic reply.
type ReplyLedger interface {
	// MarkReplied records key and reports whether it was not recorded before.
	MarkReplied(key string) bool
	// Forget drops key so a failed reply can be retried later.
	Forget(key string)
}
