// Package store defines the external local replica store's contract
// (spec.md §1: "out of scope... the embedded local replica store"). This
// module never implements real persistence; it only depends on this
// interface and ships an in-memory reference implementation for tests and
// the demo. Generalized from the teacher's generic KV pkg/state/store.go
// into the spec's poke/mutate/subscribe/query/clientID/auth surface (see
// DESIGN.md).
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gabrielmiguelok/pokesync/pkg/protocol"
)

// Common store errors.
var (
	ErrStoreClosed = errors.New("store: closed")
	ErrNoSuchMutator = errors.New("store: no such mutator")
)

// PushRequest is the batch handed to a registered PusherFunc by the store,
// carrying every mutation the store believes is still unacknowledged
// (spec.md §4.6).
type PushRequest struct {
	Mutations     []protocol.Mutation
	ClientGroupID string
	ProfileID     string
}

// PushResult is the pusher's reply. Per spec.md §4.6 step 5, delivery is
// best-effort over the socket — the store re-invokes the pusher on its own
// retry cycle regardless of this result.
type PushResult struct {
	HTTPStatusCode int
	ErrorMessage   string
}

// PusherFunc drains a push request onto the transport. Registered once via
// Store.SetPusher, invoked by the store whenever it has unacknowledged
// mutations to deliver.
type PusherFunc func(ctx context.Context, req PushRequest) (PushResult, error)

// PullRequest is what the store hands its installed PullerFunc: its current
// base cookie, so a real puller knows where to resume from.
type PullRequest struct {
	BaseCookie *protocol.Version
}

// PullResponse is the puller's reply: the new cookie, the highest mutation
// id the server has acknowledged, and the patch to apply to reach it.
type PullResponse struct {
	Cookie         protocol.Version
	LastMutationID int64
	Patch          []json.RawMessage
}

// PullerFunc materializes a pull response for the store. Registered
// transiently by pkg/puller to read the current base cookie without letting
// the store make real progress (spec.md §4.7).
type PullerFunc func(ctx context.Context, req PullRequest) (PullResponse, error)

// CombinedPoke is the argument to Store.Poke: a merged run of one or more
// PokeBody, as produced by the playback pipeline's drain step (spec.md §4.5
// step 5). The nested PullResponse shape mirrors scenario S1's literal
// `poke({baseCookie, pullResponse:{cookie, lastMutationID, patch}})` call.
type CombinedPoke struct {
	BaseCookie   *protocol.Version
	PullResponse PullResponse
}

// MutatorFunc is a single registered local mutation handler, invoked by
// Mutate with the optimistic mutation's opaque args.
type MutatorFunc func(ctx context.Context, args json.RawMessage) (any, error)

// SubscriptionCallbacks are the host-supplied hooks passed to Subscribe.
type SubscriptionCallbacks struct {
	OnData  func(data any)
	OnError func(err error)
	OnDone  func()
}

// Store is the external local replica store's contract (spec.md §1, §4.8).
// A real implementation backs this with an embedded KV/CRDT engine; this
// module only ever calls through this interface.
type Store interface {
	// ClientID returns this replica's opaque client id.
	ClientID() string

	// Auth returns the current auth token carried on reconnect.
	Auth() string

	// Poke applies a merged server-originated state delta. Returns an error
	// whose message contains "unexpected base cookie for poke" when
	// combined.BaseCookie does not match the store's current cookie
	// (spec.md §3, §4.5 step 6).
	Poke(ctx context.Context, combined CombinedPoke) error

	// Pull invokes the currently installed PullerFunc with the store's
	// current base cookie and applies whatever PullResponse it returns.
	// pkg/puller uses this to read the current cookie exactly once per
	// connect without letting the store make real progress (spec.md §4.7).
	Pull(ctx context.Context) error

	// SetPusher installs the pusher hook the store invokes with batches of
	// outstanding mutations. Passing nil uninstalls it.
	SetPusher(fn PusherFunc)

	// SetPuller installs the puller hook Pull invokes. Passing nil
	// uninstalls it.
	SetPuller(fn PullerFunc)

	// Subscribe registers a query over the replica and streams results to
	// callbacks.OnData until the returned unsubscribe func is called.
	Subscribe(body any, callbacks SubscriptionCallbacks) (unsubscribe func())

	// Query runs a one-shot read against the current replica state.
	Query(ctx context.Context, body any) (any, error)

	// AddMutator registers a named local mutation handler. Called once per
	// mutator at Client construction time (spec.md §6.4 `mutators`).
	AddMutator(name string, fn MutatorFunc)

	// Mutators returns the registered local mutators, for the façade's
	// `mutate` accessor (spec.md §4.8).
	Mutators() map[string]MutatorFunc

	// Mutate applies a named mutation optimistically and, if a pusher is
	// installed, drives it with every still-unacknowledged mutation
	// (spec.md §4.6). Returns ErrNoSuchMutator if name was never
	// registered.
	Mutate(ctx context.Context, name string, args json.RawMessage) (any, error)

	// Close closes the store. Idempotent.
	Close() error
}
