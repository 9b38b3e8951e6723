package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/user/mirrorchat/internal/types"
)

func pending(session types.SessionID, body string) *PendingSend {
	return newPendingSend(context.Background(), types.Message{Session: session, Body: body, CreatedAt: time.Now()})
}

func TestLanesFIFOPerSession(t *testing.T) {
	var mu sync.Mutex
	var order []string

	l := NewLanes(2, 10, func(_ context.Context, p *PendingSend) error {
		mu.Lock()
		order = append(order, p.Echo.Body)
		mu.Unlock()
		p.complete(types.Message{}, false)
		return nil
	})
	l.Start(context.Background())
	defer l.Stop()

	var ps []*PendingSend
	for _, body := range []string{"a", "b", "c"} {
		p := pending("1", body)
		ps = append(ps, p)
		if err := l.Enqueue(p); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	for _, p := range ps {
		<-p.Done()
	}

	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("expected FIFO order, got %v", order)
	}
}

func TestLanesProcessorErrorFails(t *testing.T) {
	l := NewLanes(1, 1, func(context.Context, *PendingSend) error {
		return errors.New("boom")
	})
	l.Start(context.Background())
	defer l.Stop()

	p := pending("1", "x")
	if err := l.Enqueue(p); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-p.Done()
	if p.State() != SendFailed {
		t.Errorf("expected failed, got %s", p.State())
	}
}

func TestLanesStopFailsQueued(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	l := NewLanes(1, 4, func(ctx context.Context, p *PendingSend) error {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return ctx.Err()
	})
	l.Start(context.Background())

	first := pending("1", "first")
	second := pending("1", "second")
	l.Enqueue(first)
	<-started
	l.Enqueue(second)

	l.Stop()
	<-first.Done()
	<-second.Done()
	if first.State() != SendFailed || second.State() != SendFailed {
		t.Errorf("expected both failed, got %s and %s", first.State(), second.State())
	}

	if err := l.Enqueue(pending("1", "late")); err == nil {
		t.Error("expected enqueue after stop to fail")
	}
	l.Stop()
}
