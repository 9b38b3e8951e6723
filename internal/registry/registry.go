// Package registry tracks the sessions known to the signed-in user and
// which one is active.
package registry

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/user/mirrorchat/internal/types"
)

// DefaultSession is the session every user lands on.
const DefaultSession types.SessionID = "1"

// ErrIDsExhausted is returned when the largest known id cannot be incremented.
var ErrIDsExhausted = errors.New("session ids exhausted")

// Registry serializes id allocation and active-session changes behind one
// mutex, so concurrent Create calls never return the same id.
type Registry struct {
	store types.MessageStore

	mu     sync.Mutex
	known  map[types.SessionID]int
	order  int
	active types.SessionID
}

func New(store types.MessageStore) *Registry {
	return &Registry{
		store: store,
		known: make(map[types.SessionID]int),
	}
}

// Discover asks the store for every session author has used. The caller
// decides whether to continue with an empty set on error.
func (r *Registry) Discover(ctx context.Context, author string) ([]types.SessionID, error) {
	sessions, err := r.store.Sessions(ctx, author)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// EnsureDefault records the discovered sessions and guarantees the default
// session exists. A synthesized default becomes active, as does the default
// when nothing is active yet.
func (r *Registry) EnsureDefault(sessions []types.SessionID) types.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range sortIDs(sessions) {
		r.add(id)
	}
	if _, ok := r.known[DefaultSession]; !ok {
		r.add(DefaultSession)
		r.active = DefaultSession
	}
	if r.active == "" {
		r.active = DefaultSession
	}
	return DefaultSession
}

// Create allocates an id strictly greater than every numeric id known so far.
func (r *Registry) Create() (types.SessionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := NextID(r.ids())
	if err != nil {
		return "", err
	}
	r.add(id)
	return id, nil
}

// NextID returns one more than the largest numeric id in existing, or "1"
// when there is none. Non-numeric ids are ignored.
func NextID(existing []types.SessionID) (types.SessionID, error) {
	var max int64
	for _, id := range existing {
		if n, ok := id.Number(); ok && n > max {
			max = n
		}
	}
	if max == math.MaxInt64 {
		return "", ErrIDsExhausted
	}
	return types.SessionID(strconv.FormatInt(max+1, 10)), nil
}

// Select makes id active. Unknown ids are ignored.
func (r *Registry) Select(id types.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.known[id]; !ok {
		return false
	}
	r.active = id
	return true
}

func (r *Registry) Active() types.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Registry) Contains(id types.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.known[id]
	return ok
}

// Sessions lists the known sessions, numeric ids in ascending order.
func (r *Registry) Sessions() []types.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.Session, 0, len(r.known))
	for _, id := range sortIDs(r.ids()) {
		out = append(out, types.Session{ID: id, CreatedOrder: r.known[id]})
	}
	return out
}

// Reset forgets everything, as on logout.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.known = make(map[types.SessionID]int)
	r.order = 0
	r.active = ""
}

// add registers id if new. Caller must hold r.mu.
func (r *Registry) add(id types.SessionID) {
	if _, ok := r.known[id]; ok {
		return
	}
	r.order++
	r.known[id] = r.order
}

func (r *Registry) ids() []types.SessionID {
	ids := make([]types.SessionID, 0, len(r.known))
	for id := range r.known {
		ids = append(ids, id)
	}
	return ids
}

func sortIDs(ids []types.SessionID) []types.SessionID {
	out := append([]types.SessionID(nil), ids...)
	sort.Slice(out, func(i, j int) bool {
		a, aok := out[i].Number()
		b, bok := out[j].Number()
		switch {
		case aok && bok:
			return a < b
		case aok != bok:
			return aok
		default:
			return out[i] < out[j]
		}
	})
	return out
}
