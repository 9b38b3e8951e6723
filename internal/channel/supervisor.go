// Package channel supervises the persistent real-time connection: it dials
// with the bearer credential, reconnects with backoff, dispatches inbound
// events and emits outbound ones.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/mirrorchat/internal/types"
)

// ErrClosed is returned by Open once the supervisor has been torn down.
var ErrClosed = errors.New("channel closed")

const writeTimeout = 10 * time.Second

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Supervisor owns one websocket connection at a time. Closed is terminal.
type Supervisor struct {
	url      string
	backoff  *Backoff
	dialer   *websocket.Dialer
	handlers *Handlers

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	onConnect []func()

	writeMu sync.Mutex
}

// NewSupervisor creates a disconnected supervisor for the websocket at rawURL.
func NewSupervisor(rawURL string, backoff *Backoff) *Supervisor {
	if backoff == nil {
		backoff = DefaultBackoff()
	}
	return &Supervisor{
		url:      rawURL,
		backoff:  backoff,
		dialer:   &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		handlers: NewHandlers(),
	}
}

// On registers the handler for an inbound event.
func (s *Supervisor) On(event string, handler Handler) {
	s.handlers.Register(event, handler)
}

// OnConnect registers fn to run after every successful connect, including
// reconnects. It runs on the read goroutine before any event is read.
func (s *Supervisor) OnConnect(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = append(s.onConnect, fn)
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open starts connecting in the background and returns immediately. Failed
// attempts are retried per the backoff; a rejected credential stops the
// loop. Calling Open while a loop is already running is a no-op.
func (s *Supervisor) Open(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("open channel: %w", types.ErrAuth)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrClosed
	}
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateConnecting
	slog.Debug("channel opening", "url", s.url, "events", s.handlers.Events())
	go s.run(runCtx, token, s.done)
	return nil
}

func (s *Supervisor) run(ctx context.Context, token string, done chan struct{}) {
	defer close(done)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	attempt := 0
	for {
		s.setState(StateConnecting)
		conn, err := s.dial(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateDisconnected)
				return
			}
			attempt++
			s.setState(StateDisconnected)
			if !s.backoff.ShouldRetry(err, attempt) {
				slog.Error("channel connect abandoned", "error", err, "attempts", attempt)
				return
			}
			delay := s.backoff.NextDelay(attempt)
			slog.Warn("channel connect failed, retrying", "error", err, "attempt", attempt, "delay", delay)
			if !wait(ctx, delay) {
				return
			}
			continue
		}

		if !s.attach(conn) {
			conn.Close()
			return
		}
		attempt = 0
		slog.Info("channel connected", "url", s.url)
		s.fireConnect()

		err = s.readLoop(conn)
		s.detach(conn)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("channel dropped", "error", err)
		attempt++
		if !wait(ctx, s.backoff.NextDelay(attempt)) {
			return
		}
	}
}

func (s *Supervisor) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return nil, fmt.Errorf("parse channel url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := s.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("dial %s: %w", s.url, types.ErrAuth)
		}
		return nil, fmt.Errorf("dial %s: %w: %w", s.url, types.ErrTransport, err)
	}
	return conn, nil
}

func (s *Supervisor) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("channel: malformed frame", "error", err)
			continue
		}
		if err := s.handlers.Dispatch(env.Event, env.Data); err != nil {
			if errors.Is(err, ErrNoHandler) {
				slog.Debug("channel: unhandled event", "event", env.Event)
				continue
			}
			slog.Warn("channel: handler failed", "event", env.Event, "error", err)
		}
	}
}

// attach installs conn unless the supervisor was closed while dialing.
func (s *Supervisor) attach(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.conn = conn
	s.state = StateConnected
	return true
}

func (s *Supervisor) detach(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	if s.state != StateClosed {
		s.state = StateDisconnected
	}
	s.mu.Unlock()
	conn.Close()
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = st
	}
}

func (s *Supervisor) fireConnect() {
	s.mu.Lock()
	hooks := append([]func(){}, s.onConnect...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Send emits an outbound event. It is best effort: when the channel is not
// connected it logs a warning and returns ErrNotConnected.
func (s *Supervisor) Send(event string, payload any) error {
	s.mu.Lock()
	conn, state := s.conn, s.state
	s.mu.Unlock()
	if state != StateConnected || conn == nil {
		slog.Warn("channel send skipped", "event", event, "state", state)
		return types.ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w: %w", event, types.ErrTransport, err)
	}
	return nil
}

// Close tears the supervisor down for good. It aborts an in-flight dial,
// closes any open connection and waits for the background loop to exit.
// Must not be called from a handler or OnConnect hook.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	cancel, conn, done := s.cancel, s.conn, s.done
	s.conn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		s.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		conn.Close()
	}
	if done != nil {
		<-done
	}
	return nil
}
