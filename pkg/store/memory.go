package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gabrielmiguelok/pokesync/pkg/protocol"
)

// Memory is an in-memory reference Store, grounded on the teacher's
// pkg/state/memory.go MemoryStore (mutex-guarded map, closed flag, copy-out
// accessors — see DESIGN.md). It enforces the base-cookie continuity
// invariant itself, the way a real offline-first store would (spec.md §3),
// so tests can exercise S3's recovery path without a fake server.
type Memory struct {
	mu sync.RWMutex

	clientID string
	auth     string
	closed   bool

	cookie         *protocol.Version
	lastMutationID int64
	nextMutationID int64
	pending        []protocol.Mutation

	pusher PusherFunc
	puller PullerFunc

	mutators map[string]MutatorFunc
	subs     []*memorySub

	applied []CombinedPoke
}

type memorySub struct {
	body any
	cb   SubscriptionCallbacks
}

// NewMemory creates an in-memory store at genesis (nil cookie). If clientID
// is empty, one is generated the way the teacher's components generate ids
// (google/uuid — see DESIGN.md).
func NewMemory(clientID, auth string) *Memory {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return &Memory{
		clientID:       clientID,
		auth:           auth,
		nextMutationID: 0,
		mutators:       make(map[string]MutatorFunc),
	}
}

func (m *Memory) ClientID() string { return m.clientID }
func (m *Memory) Auth() string     { return m.auth }

// Poke applies a merged server delta, enforcing that combined.BaseCookie
// matches the store's current cookie. The error message intentionally
// contains the exact substring spec.md §4.5 step 6 / §8 S3 specify, so
// pkg/playback's recognition logic matches it verbatim.
func (m *Memory) Poke(ctx context.Context, combined CombinedPoke) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if !versionsEqual(combined.BaseCookie, m.cookie) {
		return fmt.Errorf("store: unexpected base cookie for poke: got %s, want %s",
			formatVersion(combined.BaseCookie), formatVersion(m.cookie))
	}

	cookie := combined.PullResponse.Cookie
	m.cookie = &cookie
	if combined.PullResponse.LastMutationID > m.lastMutationID {
		m.lastMutationID = combined.PullResponse.LastMutationID
	}
	m.trimAcked()
	m.applied = append(m.applied, combined)

	for _, sub := range m.subs {
		if sub.cb.OnData != nil {
			sub.cb.OnData(combined.PullResponse.Patch)
		}
	}

	return nil
}

// Pull invokes the installed PullerFunc, if any, with the store's current
// cookie and applies the response. pkg/puller relies on the installed
// PullerFunc returning a no-op response (same cookie, empty patch), so this
// never advances the replica on its own.
func (m *Memory) Pull(ctx context.Context) error {
	m.mu.RLock()
	puller := m.puller
	cookie := m.cookie
	m.mu.RUnlock()

	if puller == nil {
		return nil
	}

	resp, err := puller(ctx, PullRequest{BaseCookie: cookie})
	if err != nil {
		return err
	}

	m.mu.Lock()
	// PullResponse.Cookie cannot carry a nil (genesis) cookie, so a zero
	// cookie with an empty patch against a nil cookie is the same no-op
	// response pkg/puller returns, and leaves the cookie nil.
	if m.cookie != nil || resp.Cookie != 0 || len(resp.Patch) > 0 {
		next := resp.Cookie
		m.cookie = &next
	}
	if resp.LastMutationID > m.lastMutationID {
		m.lastMutationID = resp.LastMutationID
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) SetPusher(fn PusherFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pusher = fn
}

func (m *Memory) SetPuller(fn PullerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puller = fn
}

// AddMutator registers a local mutation handler under name.
func (m *Memory) AddMutator(name string, fn MutatorFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutators[name] = fn
}

func (m *Memory) Mutators() map[string]MutatorFunc {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]MutatorFunc, len(m.mutators))
	for k, v := range m.mutators {
		out[k] = v
	}
	return out
}

// Mutate applies a named mutation optimistically and, if a pusher is
// installed, invokes it in a background goroutine with every
// still-unacknowledged mutation (including this one), mirroring the store's
// own retry-cycle invocation of the pusher hook (spec.md §4.6). Mutate
// returns the mutator's result without waiting for the push; the push's own
// result is not reported to the caller.
func (m *Memory) Mutate(ctx context.Context, name string, args json.RawMessage) (any, error) {
	m.mu.Lock()
	fn, ok := m.mutators[name]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNoSuchMutator
	}

	m.nextMutationID++
	mut := protocol.Mutation{
		ID:        m.nextMutationID,
		ClientID:  m.clientID,
		Name:      name,
		Args:      args,
		Timestamp: time.Now().UnixMilli(),
	}
	m.pending = append(m.pending, mut)
	pending := append([]protocol.Mutation(nil), m.pending...)
	pusher := m.pusher
	m.mu.Unlock()

	result, err := fn(ctx, args)

	if pusher != nil {
		// The pusher blocks until a connection is up, so it must not hold
		// up a mutation made while disconnected.
		go pusher(context.WithoutCancel(ctx), PushRequest{Mutations: pending})
	}

	return result, err
}

// Subscribe registers body as a live query; OnData is invoked with the
// applied patch on every subsequent Poke, not at registration.
func (m *Memory) Subscribe(body any, callbacks SubscriptionCallbacks) func() {
	m.mu.Lock()
	sub := &memorySub{body: body, cb: callbacks}
	m.subs = append(m.subs, sub)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s == sub {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		if sub.cb.OnDone != nil {
			sub.cb.OnDone()
		}
	}
}

// Query returns the store's current cookie and last-acknowledged mutation
// id as a one-shot read. Real stores would interpret body; this reference
// implementation ignores it.
func (m *Memory) Query(ctx context.Context, body any) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	return map[string]any{
		"cookie":         formatVersion(m.cookie),
		"lastMutationID": m.lastMutationID,
	}, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// AppliedPokes returns every CombinedPoke the store has accepted, in order
// — a test-only introspection hook, mirroring the teacher's
// MemoryStore.Snapshot debugging accessor.
func (m *Memory) AppliedPokes() []CombinedPoke {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CombinedPoke, len(m.applied))
	copy(out, m.applied)
	return out
}

// CurrentCookie returns the store's current base cookie for test assertions.
func (m *Memory) CurrentCookie() *protocol.Version {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cookie
}

func (m *Memory) trimAcked() {
	if len(m.pending) == 0 {
		return
	}
	kept := m.pending[:0]
	for _, mut := range m.pending {
		if mut.ID > m.lastMutationID {
			kept = append(kept, mut)
		}
	}
	m.pending = kept
}

func versionsEqual(a, b *protocol.Version) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

func formatVersion(v *protocol.Version) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%d", *v)
}
