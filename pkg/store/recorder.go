package store

import (
	"context"
	"encoding/json"
	"sync"
)

// Recorder wraps a Store and records every call made through it, grounded
// on the teacher's MockSocket recording idiom in
// pkg/testing/mock_socket.go (mutex-guarded slices, Last* accessors).
// Tests can put one in front of a Memory store to assert exactly what a
// connection.Machine or pusher.Pusher drove through the store contract,
// without reaching into either's internals.
type Recorder struct {
	Store

	mu       sync.Mutex
	pokes    []CombinedPoke
	pulls    int
	mutates  []RecordedMutate
}

// RecordedMutate captures one Mutate call's arguments.
type RecordedMutate struct {
	Name string
	Args json.RawMessage
}

// NewRecorder wraps st, recording calls made through the returned Store.
func NewRecorder(st Store) *Recorder {
	return &Recorder{Store: st}
}

// Poke records the call and forwards it to the wrapped store.
func (r *Recorder) Poke(ctx context.Context, combined CombinedPoke) error {
	r.mu.Lock()
	r.pokes = append(r.pokes, combined)
	r.mu.Unlock()
	return r.Store.Poke(ctx, combined)
}

// Pull records the call and forwards it to the wrapped store.
func (r *Recorder) Pull(ctx context.Context) error {
	r.mu.Lock()
	r.pulls++
	r.mu.Unlock()
	return r.Store.Pull(ctx)
}

// Mutate records the call and forwards it to the wrapped store.
func (r *Recorder) Mutate(ctx context.Context, name string, args json.RawMessage) (any, error) {
	r.mu.Lock()
	r.mutates = append(r.mutates, RecordedMutate{Name: name, Args: args})
	r.mu.Unlock()
	return r.Store.Mutate(ctx, name, args)
}

// Pokes returns a copy of every CombinedPoke applied so far.
func (r *Recorder) Pokes() []CombinedPoke {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CombinedPoke, len(r.pokes))
	copy(out, r.pokes)
	return out
}

// PullCount returns how many times Pull was called.
func (r *Recorder) PullCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pulls
}

// Mutates returns a copy of every Mutate call recorded so far.
func (r *Recorder) Mutates() []RecordedMutate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedMutate, len(r.mutates))
	copy(out, r.mutates)
	return out
}
