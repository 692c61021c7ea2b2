// Package transcript accumulates streamed speech-to-text fragments for the
// two parties of a voice session and commits them as immutable entries at
// the end of each turn.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Entry is a committed utterance. Entries committed in the same turn share
// a Timestamp; Seq orders the model entry after the user entry.
type Entry struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Before reports whether e is ordered ahead of o.
func (e Entry) Before(o Entry) bool {
	if e.Timestamp.Equal(o.Timestamp) {
		return e.Seq < o.Seq
	}
	return e.Timestamp.Before(o.Timestamp)
}

// Accumulator is safe for concurrent use.
type Accumulator struct {
	now func() time.Time

	mu         sync.Mutex
	user       strings.Builder
	model      strings.Builder
	inProgress string
	entries    []Entry
	seq        uint64
}

// NewAccumulator uses now for commit timestamps; nil means time.Now.
func NewAccumulator(now func() time.Time) *Accumulator {
	if now == nil {
		now = time.Now
	}
	return &Accumulator{now: now}
}

// AppendInput adds a user fragment and returns the new in-progress text.
func (a *Accumulator) AppendInput(fragment string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user.WriteString(fragment)
	a.inProgress = a.user.String()
	return a.inProgress
}

// AppendOutput adds a model fragment and returns the new in-progress text.
func (a *Accumulator) AppendOutput(fragment string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model.WriteString(fragment)
	a.inProgress = a.model.String()
	return a.inProgress
}

// Commit turns the non-blank buffers into entries, user first, keeping the
// text exactly as streamed. It then clears both buffers and the in-progress
// text and returns the new entries.
func (a *Accumulator) Commit() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	ts := a.now()
	var added []Entry
	for _, p := range []struct {
		role Role
		buf  *strings.Builder
	}{{RoleUser, &a.user}, {RoleModel, &a.model}} {
		text := p.buf.String()
		p.buf.Reset()
		if strings.TrimSpace(text) == "" {
			continue
		}
		a.seq++
		added = append(added, Entry{
			ID:        uuid.NewString(),
			Role:      p.role,
			Text:      text,
			Timestamp: ts,
			Seq:       a.seq,
		})
	}
	a.inProgress = ""
	a.entries = append(a.entries, added...)
	return added
}

// Interrupt discards the model's partial utterance. The user buffer is kept
// since a barge-in means the user is still talking.
func (a *Accumulator) Interrupt() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model.Reset()
	a.inProgress = ""
}

// ResetPending clears both buffers and the in-progress text. Committed
// entries are kept.
func (a *Accumulator) ResetPending() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user.Reset()
	a.model.Reset()
	a.inProgress = ""
}

// Entries returns a copy of the committed entries in commit order.
func (a *Accumulator) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

func (a *Accumulator) InProgress() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inProgress
}

// Pending returns the raw user and model buffers.
func (a *Accumulator) Pending() (user, model string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user.String(), a.model.String()
}
