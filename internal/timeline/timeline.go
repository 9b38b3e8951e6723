// Package timeline keeps the per-session, ordered and duplicate-free
// message logs shown to the user.
package timeline

import (
	"sort"
	"sync"
	"time"

	"github.com/user/mirrorchat/internal/types"
)

// Timeline maps each session to its messages ordered by CreatedAt, ties
// kept in insertion order. Every mutation completes under one lock hold.
type Timeline struct {
	window time.Duration

	mu   sync.RWMutex
	seqs map[types.SessionID][]types.Message

	subMu   sync.Mutex
	subs    map[int]chan types.SessionID
	nextSub int
}

// New creates a Timeline whose duplicate detection tolerates creation
// times up to window apart.
func New(window time.Duration) *Timeline {
	return &Timeline{
		window: window,
		seqs:   make(map[types.SessionID][]types.Message),
		subs:   make(map[int]chan types.SessionID),
	}
}

// Replace swaps in a freshly loaded history for session. Messages owned by
// another session are dropped, as are structural duplicates.
func (t *Timeline) Replace(session types.SessionID, msgs []types.Message) {
	sorted := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Session == session {
			sorted = append(sorted, m)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	seq := make([]types.Message, 0, len(sorted))
	for _, m := range sorted {
		if !contains(seq, m, t.window) {
			seq = append(seq, m)
		}
	}

	t.mu.Lock()
	t.seqs[session] = seq
	t.mu.Unlock()
	t.notify(session)
}

// Append inserts msg in order unless a structurally equal entry is already
// present. It reports whether the timeline changed.
func (t *Timeline) Append(session types.SessionID, msg types.Message) bool {
	if msg.Session != session {
		return false
	}

	t.mu.Lock()
	seq := t.seqs[session]
	if contains(seq, msg, t.window) {
		t.mu.Unlock()
		return false
	}
	// Insert after every entry created at or before msg.
	i := sort.Search(len(seq), func(i int) bool {
		return seq[i].CreatedAt.After(msg.CreatedAt)
	})
	seq = append(seq, types.Message{})
	copy(seq[i+1:], seq[i:])
	seq[i] = msg
	t.seqs[session] = seq
	t.mu.Unlock()

	t.notify(session)
	return true
}

// Clear empties one session's sequence.
func (t *Timeline) Clear(session types.SessionID) {
	t.mu.Lock()
	delete(t.seqs, session)
	t.mu.Unlock()
	t.notify(session)
}

// View returns a copy of the session's messages.
func (t *Timeline) View(session types.SessionID) []types.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seq := t.seqs[session]
	out := make([]types.Message, len(seq))
	copy(out, seq)
	return out
}

// Reset drops every session, as on logout.
func (t *Timeline) Reset() {
	t.mu.Lock()
	sessions := make([]types.SessionID, 0, len(t.seqs))
	for s := range t.seqs {
		sessions = append(sessions, s)
	}
	t.seqs = make(map[types.SessionID][]types.Message)
	t.mu.Unlock()

	for _, s := range sessions {
		t.notify(s)
	}
}

// Subscribe returns a channel that receives the id of each session that
// changes. Slow subscribers miss notifications rather than block writers.
func (t *Timeline) Subscribe() (<-chan types.SessionID, func()) {
	ch := make(chan types.SessionID, 16)

	t.subMu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	t.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.subMu.Lock()
			delete(t.subs, id)
			t.subMu.Unlock()
			close(ch)
		})
	}
}

func (t *Timeline) notify(session types.SessionID) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- session:
		default:
		}
	}
}

func contains(seq []types.Message, msg types.Message, window time.Duration) bool {
	for _, m := range seq {
		if m.SameAs(msg, window) {
			return true
		}
	}
	return false
}
