package storage

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// ReplyLedger remembers auto-replied messages for a fixed period. The
// period must be at least the vacation window.
type ReplyLedger struct {
	entries *cache.Cache
}

// NewReplyLedger creates a ledger whose entries live for ttl
func NewReplyLedger(ttl time.Duration) *ReplyLedger {
	return &ReplyLedger{
		entries: cache.New(ttl, time.Hour),
	}
}

// MarkReplied records key and reports whether it was new. Concurrent
// callers with the same key see exactly one true.
func (l *ReplyLedger) MarkReplied(key string) bool {
	return l.entries.Add(key, time.Now(), cache.DefaultExpiration) == nil
}

// Forget removes key
func (l *ReplyLedger) Forget(key string) {
	l.entries.Delete(key)
}

// Len returns the number of live entries
func (l *ReplyLedger) Len() int {
	return l.entries.ItemCount()
}
