// internal/state/messages.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/mirrorchat/internal/types"
)

// MessageLog is a JSONL-backed append-only message store.
// Records are stored per-session in sessions/<sessionID>/messages.jsonl.
type MessageLog struct {
	root  string
	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
	now   func() time.Time
}

// NewMessageLog creates a new file-backed MessageLog rooted at the given directory.
func NewMessageLog(root string) *MessageLog {
	return &MessageLog{
		root:  root,
		locks: make(map[types.SessionID]*sync.Mutex),
		now:   time.Now,
	}
}

// getLock returns the per-session mutex, creating one if it doesn't exist.
func (l *MessageLog) getLock(session types.SessionID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lock, ok := l.locks[session]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	l.locks[session] = lock
	return lock
}

func (l *MessageLog) sessionsDir() string {
	return filepath.Join(l.root, "sessions")
}

func (l *MessageLog) messagesPath(session types.SessionID) string {
	return filepath.Join(l.sessionsDir(), string(session), "messages.jsonl")
}

// checkSession rejects ids that would escape the sessions directory.
func checkSession(session types.SessionID) error {
	s := string(session)
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("invalid session id %q", s)
	}
	return nil
}

// read loads all records of a session. Caller must hold the session lock.
func (l *MessageLog) read(session types.SessionID) ([]types.Record, error) {
	f, err := os.Open(l.messagesPath(session))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	var records []types.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec types.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan messages file: %w", err)
	}
	return records, nil
}

// Create appends a record to the session's log, assigning its id and
// creation time.
func (l *MessageLog) Create(_ context.Context, rec types.Record) (*types.Record, error) {
	if err := checkSession(rec.Session); err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	lock := l.getLock(rec.Session)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Dir(l.messagesPath(rec.Session))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	rec.ID = types.NewRecordID()
	rec.CreatedAt = l.now().UTC()

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	f, err := os.OpenFile(l.messagesPath(rec.Session), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return nil, fmt.Errorf("write record: %w", err)
	}
	return &rec, nil
}

// Messages returns every record of the session in creation order.
func (l *MessageLog) Messages(_ context.Context, session types.SessionID) ([]types.Record, error) {
	if err := checkSession(session); err != nil {
		return nil, err
	}
	lock := l.getLock(session)
	lock.Lock()
	defer lock.Unlock()

	return l.read(session)
}

// Latest returns the most recently appended record, or nil for an empty session.
func (l *MessageLog) Latest(_ context.Context, session types.SessionID) (*types.Record, error) {
	if err := checkSession(session); err != nil {
		return nil, err
	}
	lock := l.getLock(session)
	lock.Lock()
	defer lock.Unlock()

	records, err := l.read(session)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	latest := records[len(records)-1]
	return &latest, nil
}

// Sessions lists the sessions in which author wrote a message or received a
// reply addressed to them. The result is sorted numerically where possible.
func (l *MessageLog) Sessions(ctx context.Context, author string) ([]types.SessionID, error) {
	entries, err := os.ReadDir(l.sessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	var sessions []types.SessionID
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		session := types.SessionID(entry.Name())
		records, err := l.Messages(ctx, session)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if rec.Author == author || rec.SentBy == author {
				sessions = append(sessions, session)
				break
			}
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		a, aok := sessions[i].Number()
		b, bok := sessions[j].Number()
		if aok && bok {
			return a < b
		}
		return sessions[i] < sessions[j]
	})
	return sessions, nil
}
