package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/user/mirrorchat/internal/types"
)

// SendState is the lifecycle state of a PendingSend.
type SendState string

const (
	SendCreated       SendState = "created"
	SendPersisted     SendState = "persisted"
	SendAwaitingReply SendState = "awaiting_reply"
	SendCompleted     SendState = "completed"
	SendFailed        SendState = "failed"
)

// PendingSend tracks one submitted message from local echo to stored reply.
// It lives only until it reaches SendCompleted or SendFailed.
type PendingSend struct {
	Session   types.SessionID
	Echo      types.Message
	CreatedAt time.Time

	ctx context.Context

	mu       sync.Mutex
	state    SendState
	reply    *types.Message
	fallback bool
	err      error
	endedAt  time.Time
	done     chan struct{}
}

func newPendingSend(ctx context.Context, echo types.Message) *PendingSend {
	return &PendingSend{
		Session:   echo.Session,
		Echo:      echo,
		CreatedAt: time.Now(),
		ctx:       ctx,
		state:     SendCreated,
		done:      make(chan struct{}),
	}
}

// stamp dates the echo. It runs once the send is taken off its lane, so a
// queued message sorts after the exchanges ahead of it.
func (p *PendingSend) stamp(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Echo.CreatedAt = t
}

// State returns the current state.
func (p *PendingSend) State() SendState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *PendingSend) advance(state SendState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.finishedLocked() {
		p.state = state
	}
}

func (p *PendingSend) complete(reply types.Message, fallback bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finishedLocked() {
		return
	}
	p.state = SendCompleted
	p.reply = &reply
	p.fallback = fallback
	p.endedAt = time.Now()
	close(p.done)
}

func (p *PendingSend) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finishedLocked() {
		return
	}
	p.state = SendFailed
	p.err = err
	p.endedAt = time.Now()
	close(p.done)
}

func (p *PendingSend) finishedLocked() bool {
	return p.state == SendCompleted || p.state == SendFailed
}

// Done is closed once the send reaches a final state.
func (p *PendingSend) Done() <-chan struct{} {
	return p.done
}

// SendResult is what a caller of Send learns about its message.
type SendResult struct {
	Session types.SessionID
	Echo    types.Message
	// Reply is nil when the send failed before a reply was obtained.
	Reply *types.Message
	// Fallback is set when no stored bot reply was found.
	Fallback bool
	State    SendState
	Duration time.Duration
}

func (p *PendingSend) result() (*SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &SendResult{
		Session:  p.Session,
		Echo:     p.Echo,
		Reply:    p.reply,
		Fallback: p.fallback,
		State:    p.state,
		Duration: p.endedAt.Sub(p.CreatedAt),
	}, p.err
}
