package state

import (
	"context"
	"sync"
	"testing"

	"github.com/user/mirrorchat/internal/types"
)

func TestMessageLogCreateAndList(t *testing.T) {
	log := NewMessageLog(t.TempDir())
	ctx := context.Background()

	for _, body := range []string{"one", "two", "three"} {
		rec, err := log.Create(ctx, types.Record{Session: "1", Author: "alice", Body: body, Origin: types.OriginUser})
		if err != nil {
			t.Fatal(err)
		}
		if rec.ID == "" {
			t.Error("expected record id to be assigned")
		}
		if rec.CreatedAt.IsZero() {
			t.Error("expected created at to be assigned")
		}
	}

	records, err := log.Messages(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Body != "one" || records[2].Body != "three" {
		t.Errorf("unexpected order: %q .. %q", records[0].Body, records[2].Body)
	}
}

func TestMessageLogLatest(t *testing.T) {
	log := NewMessageLog(t.TempDir())
	ctx := context.Background()

	latest, err := log.Latest(ctx, "7")
	if err != nil {
		t.Fatal(err)
	}
	if latest != nil {
		t.Fatalf("expected nil for empty session, got %+v", latest)
	}

	log.Create(ctx, types.Record{Session: "7", Author: "alice", Body: "hi", Origin: types.OriginUser})
	log.Create(ctx, types.Record{Session: "7", Author: types.BotAuthor, Body: "You said: hi", Origin: types.OriginBot})

	latest, err = log.Latest(ctx, "7")
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.Origin != types.OriginBot {
		t.Fatalf("expected bot record, got %+v", latest)
	}
}

func TestMessageLogSessions(t *testing.T) {
	log := NewMessageLog(t.TempDir())
	ctx := context.Background()

	log.Create(ctx, types.Record{Session: "10", Author: "alice", Body: "a", Origin: types.OriginUser})
	log.Create(ctx, types.Record{Session: "2", Author: "alice", Body: "b", Origin: types.OriginUser})
	log.Create(ctx, types.Record{Session: "3", Author: "bob", Body: "c", Origin: types.OriginUser})
	log.Create(ctx, types.Record{Session: "4", Author: types.BotAuthor, Body: "d", Origin: types.OriginBot, SentBy: "alice"})

	sessions, err := log.Sessions(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	want := []types.SessionID{"2", "4", "10"}
	if len(sessions) != len(want) {
		t.Fatalf("expected %v, got %v", want, sessions)
	}
	for i := range want {
		if sessions[i] != want[i] {
			t.Errorf("expected sessions[%d] = %s, got %s", i, want[i], sessions[i])
		}
	}
}

func TestMessageLogRejectsTraversal(t *testing.T) {
	log := NewMessageLog(t.TempDir())
	_, err := log.Create(context.Background(), types.Record{Session: "../x", Author: "alice", Origin: types.OriginUser})
	if err == nil {
		t.Fatal("expected error for session id with path separator")
	}
}

func TestMessageLogRejectsInvalidRecord(t *testing.T) {
	log := NewMessageLog(t.TempDir())
	_, err := log.Create(context.Background(), types.Record{Session: "1", Author: "alice", Origin: "robot"})
	if err == nil {
		t.Fatal("expected error for unknown origin")
	}
}

func TestMessageLogConcurrentCreate(t *testing.T) {
	log := NewMessageLog(t.TempDir())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := log.Create(ctx, types.Record{Session: "1", Author: "alice", Body: "x", Origin: types.OriginUser}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	records, err := log.Messages(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 20 {
		t.Errorf("expected 20 records, got %d", len(records))
	}
}
