// Package chat implements the conversational core of the gateway: the
// append-only conversation log and the recommendation workflow state
// machine that drives a full ask → propose → confirm → fulfill cycle
// against the remote pantry service.
package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/go-pantry-chat/internal/domain"
)

// Log is an append-only ordered sequence of transcript entries. Entries are
// immutable once appended; insertion order is display order is causal
// order. The log lives in memory for the process lifetime only.
//
// Log is safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	entries []domain.TranscriptEntry
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append creates a new entry with a fresh ID and timestamp, appends it, and
// returns a copy. The recipe pointer, when present, is stored as given and
// must not be mutated afterwards.
func (l *Log) Append(origin domain.Origin, text string, recipe *domain.Recipe) domain.TranscriptEntry {
	e := domain.TranscriptEntry{
		ID:        uuid.NewString(),
		Origin:    origin,
		Text:      text,
		CreatedAt: time.Now().UTC(),
		Recipe:    recipe,
	}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	return e
}

// Entries returns a snapshot copy of the transcript in append order.
func (l *Log) Entries() []domain.TranscriptEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.TranscriptEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries appended so far.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Last returns the most recent entry, or false when the log is empty.
func (l *Log) Last() (domain.TranscriptEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return domain.TranscriptEntry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Get returns the entry with the given ID, or false when absent.
func (l *Log) Get(id string) (domain.TranscriptEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := range l.entries {
		if l.entries[i].ID == id {
			return l.entries[i], true
		}
	}
	return domain.TranscriptEntry{}, false
}
