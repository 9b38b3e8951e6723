package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/user/mirrorchat/internal/types"
)

var errLanesStopped = fmt.Errorf("send lanes stopped: %w", types.ErrAuth)

// Lanes runs sends through one FIFO lane per session, so at most one send
// per session is in flight, while a semaphore bounds how many sessions make
// progress at once.
type Lanes struct {
	lanes     map[types.SessionID]chan *PendingSend
	depth     int
	semaphore *semaphore.Weighted
	processor func(context.Context, *PendingSend) error

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewLanes creates lanes holding up to depth queued sends each, with at most
// maxConcurrent sends running across all sessions.
func NewLanes(maxConcurrent int64, depth int, processor func(context.Context, *PendingSend) error) *Lanes {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if depth < 1 {
		depth = 1
	}
	return &Lanes{
		lanes:     make(map[types.SessionID]chan *PendingSend),
		depth:     depth,
		semaphore: semaphore.NewWeighted(maxConcurrent),
		processor: processor,
	}
}

// Start initialises the lanes' context. Must be called before Enqueue.
func (l *Lanes) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ctx, l.cancel = context.WithCancel(ctx)
}

// Stop cancels in-flight sends, waits for the lane goroutines and fails
// whatever was still queued.
func (l *Lanes) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	if l.cancel != nil {
		l.cancel()
	}
	for _, lane := range l.lanes {
		close(lane)
	}
	l.mu.Unlock()

	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, lane := range l.lanes {
		for p := range lane {
			p.fail(errLanesStopped)
		}
	}
}

// Enqueue adds p to its session's lane, creating the lane on first use.
// A full lane yields ErrSessionBusy.
func (l *Lanes) Enqueue(p *PendingSend) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped || l.ctx == nil {
		return errLanesStopped
	}

	lane, exists := l.lanes[p.Session]
	if !exists {
		lane = make(chan *PendingSend, l.depth)
		l.lanes[p.Session] = lane
		l.wg.Add(1)
		go l.processLane(p.Session, lane)
	}

	select {
	case lane <- p:
		return nil
	default:
		return fmt.Errorf("session %s: %w", p.Session, types.ErrSessionBusy)
	}
}

func (l *Lanes) processLane(session types.SessionID, lane chan *PendingSend) {
	defer l.wg.Done()
	for {
		select {
		case p, ok := <-lane:
			if !ok {
				return
			}
			if p.ctx.Err() != nil {
				p.fail(p.ctx.Err())
				continue
			}
			if l.ctx.Err() != nil {
				p.fail(errLanesStopped)
				continue
			}
			if err := l.semaphore.Acquire(l.ctx, 1); err != nil {
				p.fail(errLanesStopped)
				return
			}
			l.run(session, p)
			l.semaphore.Release(1)
		case <-l.ctx.Done():
			return
		}
	}
}

// run processes p with a context cancelled by either the caller or Stop.
func (l *Lanes) run(session types.SessionID, p *PendingSend) {
	ctx, cancel := context.WithCancel(l.ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	if err := l.processor(ctx, p); err != nil {
		slog.Error("send failed", "session", string(session), "error", err)
		p.fail(err)
	}
}
