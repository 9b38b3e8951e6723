package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/user/mirrorchat/internal/identity"
	"github.com/user/mirrorchat/internal/state"
	"github.com/user/mirrorchat/internal/store"
	"github.com/user/mirrorchat/internal/types"
)

type testEnv struct {
	srv      *httptest.Server
	accounts *state.AccountStore
	log      *state.MessageLog
	hub      *Hub
}

func setupServer(t *testing.T, delay time.Duration) *testEnv {
	t.Helper()
	dir := t.TempDir()
	accounts := state.NewAccountStore(dir)
	log := state.NewMessageLog(dir)
	hub := NewHub(accounts, "Welcome to MirrorBot!")
	srv := httptest.NewServer(NewServer(accounts, NewResponder(log, hub, delay), hub))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &testEnv{srv: srv, accounts: accounts, log: log, hub: hub}
}

func (e *testEnv) register(t *testing.T, name string) identity.Identity {
	t.Helper()
	id, err := identity.NewClient(e.srv.URL).Register(context.Background(), name, name+"@example.com", "secret")
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return id
}

func TestHealthEndpoint(t *testing.T) {
	env := setupServer(t, 0)

	resp, err := http.Get(env.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	env := setupServer(t, 0)
	auth := identity.NewClient(env.srv.URL)

	reg := env.register(t, "alice")
	if reg.Username != "alice" || reg.Token == "" {
		t.Fatalf("unexpected identity %+v", reg)
	}

	id, err := auth.Login(context.Background(), "alice@example.com", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if id.Token != reg.Token {
		t.Errorf("expected same token on login")
	}

	_, err = auth.Login(context.Background(), "alice", "wrong")
	if !errors.Is(err, types.ErrAuth) || !strings.Contains(err.Error(), "Invalid identifier or password") {
		t.Errorf("expected ErrAuth with server message, got %v", err)
	}

	_, err = auth.Register(context.Background(), "alice", "other@example.com", "x")
	if !errors.Is(err, types.ErrAuth) {
		t.Errorf("expected duplicate registration rejected, got %v", err)
	}
}

func TestMessagesRequireToken(t *testing.T) {
	env := setupServer(t, 0)

	c := store.New(env.srv.URL, "nope", time.Second)
	if _, err := c.Sessions(context.Background(), "alice"); !errors.Is(err, types.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestCreateListAndLatest(t *testing.T) {
	env := setupServer(t, 0)
	alice := env.register(t, "alice")
	c := store.New(env.srv.URL, alice.Token, time.Second)
	ctx := context.Background()

	rec, err := c.Create(ctx, types.Record{Session: "1", Author: "alice", Body: "hello", Origin: types.OriginUser})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID == "" || rec.CreatedAt.IsZero() {
		t.Errorf("expected id and timestamp assigned, got %+v", rec)
	}

	// The responder answers synchronously.
	latest, err := c.Latest(ctx, "1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.Origin != types.OriginBot || latest.Body != "You said: hello" {
		t.Fatalf("expected bot reply as latest, got %+v", latest)
	}

	all, err := c.Messages(ctx, "1")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(all) != 2 || all[0].Body != "hello" {
		t.Errorf("expected user message then reply, got %+v", all)
	}

	sessions, err := c.Sessions(ctx, "alice")
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0] != "1" {
		t.Errorf("expected [1], got %v", sessions)
	}

	empty, err := c.Latest(ctx, "9")
	if err != nil || empty != nil {
		t.Errorf("expected no record in empty session, got %+v, %v", empty, err)
	}
}

func TestCreateRejectsImpersonation(t *testing.T) {
	env := setupServer(t, 0)
	alice := env.register(t, "alice")
	c := store.New(env.srv.URL, alice.Token, time.Second)

	_, err := c.Create(context.Background(), types.Record{Session: "1", Author: "bob", Body: "hi", Origin: types.OriginUser})
	if !errors.Is(err, types.ErrAuth) {
		t.Errorf("expected forbidden as ErrAuth, got %v", err)
	}

	_, err = c.Create(context.Background(), types.Record{Session: "1", Author: types.BotAuthor, Body: "x", Origin: types.OriginBot, SentBy: "bob"})
	if !errors.Is(err, types.ErrAuth) {
		t.Errorf("expected forbidden bot copy, got %v", err)
	}
}

func TestListValidatesQuery(t *testing.T) {
	env := setupServer(t, 0)
	alice := env.register(t, "alice")

	for _, q := range []string{"", "?session=1&sort=sideways", "?session=1&limit=-1", "?session=../x"} {
		req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/messages"+q, nil)
		req.Header.Set("Authorization", "Bearer "+alice.Token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("query %q: expected 400, got %d", q, resp.StatusCode)
		}
	}
}
