//go:build integration

package test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/user/mirrorchat/internal/channel"
	"github.com/user/mirrorchat/internal/devserver"
	"github.com/user/mirrorchat/internal/identity"
	"github.com/user/mirrorchat/internal/orchestrator"
	"github.com/user/mirrorchat/internal/state"
	"github.com/user/mirrorchat/internal/store"
	"github.com/user/mirrorchat/internal/types"
)

type env struct {
	srv *httptest.Server
	hub *devserver.Hub
}

func newEnv(t *testing.T, delay time.Duration) *env {
	t.Helper()
	dir := t.TempDir()
	accounts := state.NewAccountStore(dir)
	hub := devserver.NewHub(accounts, "")
	srv := httptest.NewServer(devserver.NewServer(accounts, devserver.NewResponder(state.NewMessageLog(dir), hub, delay), hub))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &env{srv: srv, hub: hub}
}

func (e *env) register(t *testing.T, username string) identity.Identity {
	t.Helper()
	id, err := identity.NewClient(e.srv.URL).Register(context.Background(), username, username+"@example.com", "secret123")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return id
}

func (e *env) start(t *testing.T, id identity.Identity) (*orchestrator.Orchestrator, *channel.Supervisor) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	sup := channel.NewSupervisor(wsURL, &channel.Backoff{InitialDelay: 50 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second})
	o := orchestrator.New(id, store.New(e.srv.URL, id.Token, 5*time.Second), sup, orchestrator.DefaultOptions())
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { o.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for sup.State() != channel.StateConnected {
		if time.Now().After(deadline) {
			t.Fatal("channel never connected")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return o, sup
}

func TestEndToEnd(t *testing.T) {
	e := newEnv(t, 0)
	alice := e.register(t, "alice")
	o, _ := e.start(t, alice)

	ctx := context.Background()
	res, err := o.Send(ctx, "1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if res.Fallback {
		t.Error("expected the stored bot reply, got the fallback")
	}
	if res.Reply == nil || res.Reply.Body != "You said: hello" {
		t.Fatalf("reply = %+v", res.Reply)
	}

	// Let the automated-reply push land; it must merge with the polled reply.
	time.Sleep(300 * time.Millisecond)

	view := o.Timeline().View("1")
	if len(view) != 2 {
		t.Fatalf("expected 2 messages, got %d: %+v", len(view), view)
	}
	if view[0].Author != "alice" || view[0].Body != "hello" {
		t.Errorf("first = %+v", view[0])
	}
	if view[1].Origin != types.OriginBot || view[1].Body != "You said: hello" {
		t.Errorf("second = %+v", view[1])
	}
}

func TestEndToEndHistoryAfterRelogin(t *testing.T) {
	e := newEnv(t, 0)
	bob := e.register(t, "bob")

	first, _ := e.start(t, bob)
	ctx := context.Background()
	if _, err := first.Send(ctx, "1", "one"); err != nil {
		t.Fatal(err)
	}
	if err := first.Logout(); err != nil {
		t.Fatal(err)
	}

	// Another user's traffic must not leak into bob's history.
	carol := e.register(t, "carol")
	other, _ := e.start(t, carol)
	if _, err := other.Send(ctx, "1", "not yours"); err != nil {
		t.Fatal(err)
	}

	second, _ := e.start(t, bob)
	view := second.Timeline().View("1")
	if len(view) != 2 {
		t.Fatalf("expected 2 messages after relogin, got %d: %+v", len(view), view)
	}
	for _, m := range view {
		if strings.Contains(m.Body, "not yours") {
			t.Errorf("foreign message in history: %+v", m)
		}
	}
}

func TestEndToEndDelayedReplyFallsBack(t *testing.T) {
	e := newEnv(t, 500*time.Millisecond)
	dave := e.register(t, "dave")
	o, _ := e.start(t, dave)

	res, err := o.Send(context.Background(), "1", "slow")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Fallback {
		t.Fatalf("expected fallback, got %+v", res.Reply)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		var pushed bool
		for _, m := range o.Timeline().View("1") {
			if m.Body == "You said: slow" {
				pushed = true
			}
		}
		if pushed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("automated reply never arrived")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
