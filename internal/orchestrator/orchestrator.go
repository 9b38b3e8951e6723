// Package orchestrator coordinates session discovery, history loading, the
// send-then-fetch-reply protocol and inbound pushes for one signed-in user.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/mirrorchat/internal/channel"
	"github.com/user/mirrorchat/internal/identity"
	"github.com/user/mirrorchat/internal/registry"
	"github.com/user/mirrorchat/internal/timeline"
	"github.com/user/mirrorchat/internal/types"
)

// ErrEmptyMessage is returned by Send for blank input.
var ErrEmptyMessage = errors.New("message is empty")

// Channel is the part of the connection supervisor the orchestrator uses.
type Channel interface {
	Open(ctx context.Context, token string) error
	Send(event string, payload any) error
	On(event string, handler channel.Handler)
	OnConnect(fn func())
	Close() error
}

// Options tune the orchestrator.
type Options struct {
	FallbackReply string
	DedupeWindow  time.Duration
	MaxConcurrent int64
	// LaneDepth is how many sends may wait behind the one in flight for
	// the same session.
	LaneDepth int
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		FallbackReply: "Sorry, I have no reply right now.",
		DedupeWindow:  5 * time.Second,
		MaxConcurrent: 4,
		LaneDepth:     8,
	}
}

// Orchestrator is the application context of one authenticated lifetime. It
// is created after sign-in and torn down by Logout or Close; afterwards
// every operation fails with ErrAuth.
type Orchestrator struct {
	identity identity.Identity
	store    types.MessageStore
	channel  Channel
	opts     Options
	now      func() time.Time

	timeline *timeline.Timeline
	registry *registry.Registry
	lanes    *Lanes
	connects atomic.Int64

	mu         sync.Mutex
	started    bool
	closed     bool
	generation uint64
	// inflight records what was appended to a session while its history
	// load was running, so the load can lay it back over the snapshot.
	inflight   map[types.SessionID]*loadState
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

type loadState struct {
	gen   uint64
	local []types.Message
}

// New wires an orchestrator for id. Nothing touches the network until Start.
func New(id identity.Identity, store types.MessageStore, ch Channel, opts Options) *Orchestrator {
	o := &Orchestrator{
		identity: id,
		store:    store,
		channel:  ch,
		opts:     opts,
		now:      time.Now,
		timeline: timeline.New(opts.DedupeWindow),
		registry: registry.New(store),
		inflight: make(map[types.SessionID]*loadState),
	}
	o.lanes = NewLanes(opts.MaxConcurrent, opts.LaneDepth, o.process)
	return o
}

func (o *Orchestrator) Timeline() *timeline.Timeline { return o.timeline }
func (o *Orchestrator) Registry() *registry.Registry { return o.registry }
func (o *Orchestrator) Identity() identity.Identity  { return o.identity }

// Start runs the startup sequence: validate the identity, discover sessions,
// ensure the default session, open the channel and load the active session's
// history. Only an authentication failure is fatal.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.identity.Valid(); err != nil {
		return err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return types.ErrAuth
	}
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = true
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.mu.Unlock()

	o.lanes.Start(o.ctx)

	sessions, err := o.registry.Discover(ctx, o.identity.Username)
	if err != nil {
		if errors.Is(err, types.ErrAuth) {
			return err
		}
		slog.Warn("session discovery failed, continuing with none", "error", err)
		sessions = nil
	}
	o.registry.EnsureDefault(sessions)

	for _, event := range []string{types.EventAutomatedReply, types.EventWelcome} {
		o.channel.On(event, func(data json.RawMessage) error {
			return o.HandlePush(event, data)
		})
	}
	o.channel.OnConnect(o.handleConnect)
	if err := o.channel.Open(o.ctx, o.identity.Token); err != nil {
		if errors.Is(err, types.ErrAuth) {
			return err
		}
		slog.Warn("channel open failed", "error", err)
	}

	active := o.registry.Active()
	if err := o.LoadHistory(ctx, active); err != nil && errors.Is(err, types.ErrAuth) {
		return err
	}
	slog.Info("session ready", "user", o.identity.Username, "active", string(active), "sessions", len(o.registry.Sessions()))
	return nil
}

// live returns ErrAuth once the orchestrator has been torn down.
func (o *Orchestrator) live() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return types.ErrAuth
	}
	if !o.started {
		return errors.New("orchestrator not started")
	}
	return nil
}

// LoadHistory replaces the session's timeline with its stored messages. A
// failure leaves the timeline as it was; the error is logged and returned.
func (o *Orchestrator) LoadHistory(ctx context.Context, session types.SessionID) error {
	load, err := o.startLoad(session)
	if err != nil {
		return err
	}
	return load(ctx)
}

// startLoad claims a new load generation for session. The returned function
// performs the fetch and applies it only if no newer load started and the
// session is still active.
func (o *Orchestrator) startLoad(session types.SessionID) (func(context.Context) error, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, types.ErrAuth
	}
	o.generation++
	gen := o.generation
	o.inflight[session] = &loadState{gen: gen}
	o.mu.Unlock()

	return func(ctx context.Context) error {
		records, err := o.store.Messages(ctx, session)
		if err != nil {
			o.mu.Lock()
			o.endLoad(session, gen)
			o.mu.Unlock()
			slog.Warn("load history failed", "session", string(session), "error", err)
			return fmt.Errorf("load history for %s: %w", session, err)
		}
		msgs := o.visible(session, records)

		o.mu.Lock()
		defer o.mu.Unlock()
		local := o.endLoad(session, gen)
		if o.closed || gen != o.generation || o.registry.Active() != session {
			slog.Debug("discarding stale history", "session", string(session))
			return nil
		}
		o.timeline.Replace(session, msgs)
		// Echoes and replies that landed during the fetch may be missing
		// from the snapshot.
		for _, m := range local {
			o.timeline.Append(session, m)
		}
		return nil
	}, nil
}

// endLoad forgets the load of session started as gen and returns what was
// appended meanwhile. A newer load of the same session is left alone. The
// caller holds o.mu.
func (o *Orchestrator) endLoad(session types.SessionID, gen uint64) []types.Message {
	st := o.inflight[session]
	if st == nil || st.gen != gen {
		return nil
	}
	delete(o.inflight, session)
	return st.local
}

// visible keeps the session's records written by the user or answered to
// them by the bot. The store is not scoped per user, so anything else would
// leak other users' conversations.
func (o *Orchestrator) visible(session types.SessionID, records []types.Record) []types.Message {
	user := o.identity.Username
	out := make([]types.Message, 0, len(records))
	for i := range records {
		rec := &records[i]
		if rec.Session != session {
			continue
		}
		if rec.Author == user || (rec.Origin == types.OriginBot && rec.SentBy == user) {
			out = append(out, rec.Message())
		}
	}
	return out
}

// Send submits body to session and waits for the send to finish. Sends on
// the same session are serialized; a full lane returns ErrSessionBusy. A
// failed persist returns ErrSendFailed and the echo stays in the timeline.
func (o *Orchestrator) Send(ctx context.Context, session types.SessionID, body string) (*SendResult, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyMessage
	}
	if err := o.live(); err != nil {
		return nil, err
	}
	if !o.registry.Contains(session) {
		return nil, fmt.Errorf("send to unknown session %s", session)
	}

	// CreatedAt is set when the send leaves its lane.
	echo := types.Message{
		ID:      types.NewMessageID(),
		Author:  o.identity.Username,
		Body:    body,
		Session: session,
		Origin:  types.OriginUser,
	}
	p := newPendingSend(ctx, echo)
	if err := o.lanes.Enqueue(p); err != nil {
		return nil, err
	}

	select {
	case <-p.Done():
		return p.result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// process runs one send through echo, persist, broadcast, reply fetch,
// reply persist and reply append.
func (o *Orchestrator) process(ctx context.Context, p *PendingSend) error {
	session := p.Session
	user := o.identity.Username

	p.stamp(o.now())
	o.appendLive(session, p.Echo)

	_, err := o.store.Create(ctx, types.Record{
		Session:   session,
		Author:    user,
		Body:      p.Echo.Body,
		Origin:    types.OriginUser,
		CreatedAt: p.Echo.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("persist message: %w: %w", types.ErrSendFailed, err)
	}
	p.advance(SendPersisted)

	if err := o.channel.Send(types.EventMessageSent, types.MessageSent{Author: user, Body: p.Echo.Body}); err != nil {
		slog.Warn("message-sent not broadcast", "session", string(session), "error", err)
	}
	p.advance(SendAwaitingReply)

	body, err := o.fetchReply(ctx, session)
	fallback := false
	if err != nil {
		slog.Info("using fallback reply", "session", string(session), "reason", err)
		body = o.opts.FallbackReply
		fallback = true
	}

	reply := types.Message{
		ID:        types.NewMessageID(),
		Author:    types.BotAuthor,
		Body:      body,
		Session:   session,
		Origin:    types.OriginBot,
		CreatedAt: o.now(),
	}
	_, err = o.store.Create(ctx, types.Record{
		Session:   session,
		Author:    types.BotAuthor,
		Body:      body,
		Origin:    types.OriginBot,
		SentBy:    user,
		CreatedAt: reply.CreatedAt,
	})
	if err != nil {
		slog.Warn("persist reply failed", "session", string(session), "error", err)
	}

	o.appendLive(session, reply)
	p.complete(reply, fallback)
	return nil
}

// fetchReply reads the newest record of the session. Only a bot record
// counts as the reply; anything else means the responder has not answered.
func (o *Orchestrator) fetchReply(ctx context.Context, session types.SessionID) (string, error) {
	rec, err := o.store.Latest(ctx, session)
	if err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrReplyUnavailable, err)
	}
	if rec == nil {
		return "", types.ErrReplyUnavailable
	}
	if rec.Origin != types.OriginBot {
		return "", fmt.Errorf("latest record is from %s: %w", rec.Author, types.ErrReplyUnavailable)
	}
	return rec.Body, nil
}

// appendLive appends unless the orchestrator was torn down meanwhile.
func (o *Orchestrator) appendLive(session types.SessionID, msg types.Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	if st := o.inflight[session]; st != nil {
		st.local = append(st.local, msg)
	}
	return o.timeline.Append(session, msg)
}

// HandlePush merges an inbound event into the active session.
func (o *Orchestrator) HandlePush(event string, data json.RawMessage) error {
	switch event {
	case types.EventAutomatedReply:
		return o.handleAutomatedReply(data)
	case types.EventWelcome:
		return o.handleWelcome(data)
	default:
		return fmt.Errorf("unsupported push event %q", event)
	}
}

func (o *Orchestrator) handleAutomatedReply(data json.RawMessage) error {
	var reply types.AutomatedReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return fmt.Errorf("decode automated-reply: %w: %w", types.ErrTransport, err)
	}
	o.pushBot(reply.Body)
	return nil
}

func (o *Orchestrator) handleWelcome(data json.RawMessage) error {
	var w types.Welcome
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode welcome: %w: %w", types.ErrTransport, err)
	}
	if w.Text == "" {
		return nil
	}
	o.pushBot(w.Text)
	return nil
}

func (o *Orchestrator) pushBot(body string) {
	active := o.registry.Active()
	if active == "" {
		return
	}
	o.appendLive(active, types.Message{
		ID:        types.NewMessageID(),
		Author:    types.BotAuthor,
		Body:      body,
		Session:   active,
		Origin:    types.OriginBot,
		CreatedAt: o.now(),
	})
}

// handleConnect resyncs after every reconnect. The first connect is covered
// by Start's history load.
func (o *Orchestrator) handleConnect() {
	if o.connects.Add(1) == 1 {
		return
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	ctx := o.ctx
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		if err := o.Resync(ctx); err != nil {
			slog.Warn("resync after reconnect failed", "error", err)
		}
	}()
}

// Switch makes id the active session and loads its history. The active
// pointer moves only after the load has been initiated.
func (o *Orchestrator) Switch(ctx context.Context, id types.SessionID) error {
	if err := o.live(); err != nil {
		return err
	}
	if !o.registry.Contains(id) {
		return fmt.Errorf("switch to unknown session %s", id)
	}

	o.timeline.Clear(id)
	load, err := o.startLoad(id)
	if err != nil {
		return err
	}
	o.registry.Select(id)
	return load(ctx)
}

// NewSession allocates a fresh session id and switches to it.
func (o *Orchestrator) NewSession(ctx context.Context) (types.SessionID, error) {
	if err := o.live(); err != nil {
		return "", err
	}
	id, err := o.registry.Create()
	if err != nil {
		return "", fmt.Errorf("new session: %w", err)
	}
	if err := o.Switch(ctx, id); err != nil {
		return id, err
	}
	return id, nil
}

// Resync merges the stored history of the active session into its timeline
// and picks up sessions started elsewhere. Entries only present locally,
// such as an echo whose persist failed, are kept.
func (o *Orchestrator) Resync(ctx context.Context) error {
	if err := o.live(); err != nil {
		return err
	}

	if sessions, err := o.registry.Discover(ctx, o.identity.Username); err != nil {
		slog.Warn("resync discovery failed", "error", err)
	} else {
		o.registry.EnsureDefault(sessions)
	}

	session := o.registry.Active()
	records, err := o.store.Messages(ctx, session)
	if err != nil {
		return fmt.Errorf("resync %s: %w", session, err)
	}

	added := 0
	for _, m := range o.visible(session, records) {
		if o.registry.Active() != session {
			break
		}
		if o.appendLive(session, m) {
			added++
		}
	}
	if added > 0 {
		slog.Debug("resync merged messages", "session", string(session), "added", added)
	}
	return nil
}

// Close tears down the channel and the send lanes and discards every
// session and timeline entry.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := o.channel.Close()
	o.lanes.Stop()
	o.wg.Wait()

	o.mu.Lock()
	o.timeline.Reset()
	o.registry.Reset()
	clear(o.inflight)
	o.mu.Unlock()
	return err
}

// Logout is Close for a user-initiated sign out.
func (o *Orchestrator) Logout() error {
	slog.Info("signing out", "user", o.identity.Username)
	return o.Close()
}
