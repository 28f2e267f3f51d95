// Package protocol defines the wire protocol between the sync client and
// the room server: the downstream poke/connected/error/pong envelopes and
// the upstream ping/push envelopes (spec.md §6).
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version identifies replica state. It is a monotonically non-decreasing
// scalar; nil (via *Version) means "genesis" (spec.md §3).
type Version int64

// Mutation is a single optimistic local mutation, created by the store and
// consumed by the pusher. Never mutated after creation (spec.md §3).
type Mutation struct {
	ID        int64           `json:"id" msgpack:"id"`
	ClientID  string          `json:"clientID" msgpack:"clientID"`
	Name      string          `json:"name" msgpack:"name"`
	Args      json.RawMessage `json:"args" msgpack:"args"`
	Timestamp int64           `json:"timestamp" msgpack:"timestamp"`
}

// PokeBody is a single server-originated state delta. Immutable once
// received (spec.md §3).
type PokeBody struct {
	BaseCookie     *Version          `json:"baseCookie" msgpack:"baseCookie"`
	Cookie         Version           `json:"cookie" msgpack:"cookie"`
	LastMutationID int64             `json:"lastMutationID" msgpack:"lastMutationID"`
	Patch          []json.RawMessage `json:"patch" msgpack:"patch"`
	Timestamp      int64             `json:"timestamp" msgpack:"timestamp"`
	ClientID       string            `json:"clientID,omitempty" msgpack:"clientID,omitempty"`
}

// HasClientID reports whether this poke is attributed to a source client
// clock, per spec.md §4.5 step 3.
func (p PokeBody) HasClientID() bool {
	return p.ClientID != ""
}

// DownstreamKind identifies the variant of a Downstream envelope.
type DownstreamKind int

const (
	DownstreamConnected DownstreamKind = iota
	DownstreamError
	DownstreamPong
	DownstreamPoke
)

// Downstream is the tagged-union rendering of the server→client
// `[tag, payload]` envelope (spec.md §6.2), re-architected per spec.md §9
// ("dynamic envelope decoding → tagged variant").
type Downstream struct {
	Kind    DownstreamKind
	Error   string
	Pokes   []PokeBody
}

// ErrUnknownTag is returned when a downstream envelope's tag is not one of
// the four spec.md §6.2 defines. Spec.md §4.4 treats this as fatal.
type ErrUnknownTag struct {
	Tag string
}

func (e *ErrUnknownTag) Error() string {
	return fmt.Sprintf("protocol: unknown downstream tag %q", e.Tag)
}

// UnmarshalJSON decodes a `[tag, payload]` tuple into the matching variant.
func (d *Downstream) UnmarshalJSON(data []byte) error {
	var tuple [2]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("protocol: malformed envelope: %w", err)
	}

	var tag string
	if err := json.Unmarshal(tuple[0], &tag); err != nil {
		return fmt.Errorf("protocol: malformed envelope tag: %w", err)
	}

	switch tag {
	case "connected":
		d.Kind = DownstreamConnected
	case "error":
		d.Kind = DownstreamError
		if err := json.Unmarshal(tuple[1], &d.Error); err != nil {
			return fmt.Errorf("protocol: malformed error payload: %w", err)
		}
	case "pong":
		d.Kind = DownstreamPong
	case "poke":
		d.Kind = DownstreamPoke
		// Payload is either a single PokeBody or an array of them
		// (spec.md §4.4, §6.2); arrays are tried first since a lone
		// PokeBody is a JSON object, not an object that also parses
		// as a one-element array.
		var many []PokeBody
		if err := json.Unmarshal(tuple[1], &many); err == nil {
			d.Pokes = many
			break
		}
		var single PokeBody
		if err := json.Unmarshal(tuple[1], &single); err != nil {
			return fmt.Errorf("protocol: malformed poke payload: %w", err)
		}
		d.Pokes = []PokeBody{single}
	default:
		return &ErrUnknownTag{Tag: tag}
	}

	return nil
}

// MarshalJSON encodes the variant back into a `[tag, payload]` tuple. Used
// by tests exercising the fake transport end to end.
func (d Downstream) MarshalJSON() ([]byte, error) {
	switch d.Kind {
	case DownstreamConnected:
		return json.Marshal([2]any{"connected", map[string]any{}})
	case DownstreamError:
		return json.Marshal([2]any{"error", d.Error})
	case DownstreamPong:
		return json.Marshal([2]any{"pong", map[string]any{}})
	case DownstreamPoke:
		return json.Marshal([2]any{"poke", d.Pokes})
	default:
		return nil, fmt.Errorf("protocol: unknown downstream kind %d", d.Kind)
	}
}

// UpstreamKind identifies the variant of an Upstream envelope.
type UpstreamKind int

const (
	UpstreamPing UpstreamKind = iota
	UpstreamPush
)

// PushBody is the body of an upstream `push` envelope (spec.md §6.3). Per
// spec.md §4.6 step 4, Mutations always has exactly one element.
type PushBody struct {
	Mutations      []Mutation `json:"mutations" msgpack:"mutations"`
	ClientGroupID  string     `json:"clientGroupID,omitempty" msgpack:"clientGroupID,omitempty"`
	ProfileID      string     `json:"profileID,omitempty" msgpack:"profileID,omitempty"`
	Timestamp      int64      `json:"timestamp" msgpack:"timestamp"`
}

// Upstream is the client→server envelope.
type Upstream struct {
	Kind UpstreamKind
	Push PushBody
}

// MarshalJSON encodes the variant into a `[tag, payload]` tuple.
func (u Upstream) MarshalJSON() ([]byte, error) {
	switch u.Kind {
	case UpstreamPing:
		return json.Marshal([2]any{"ping", map[string]any{}})
	case UpstreamPush:
		return json.Marshal([2]any{"push", u.Push})
	default:
		return nil, fmt.Errorf("protocol: unknown upstream kind %d", u.Kind)
	}
}

// UnmarshalJSON is provided for symmetry and test fakes that simulate the
// server side of the wire.
func (u *Upstream) UnmarshalJSON(data []byte) error {
	var tuple [2]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("protocol: malformed envelope: %w", err)
	}

	var tag string
	if err := json.Unmarshal(tuple[0], &tag); err != nil {
		return fmt.Errorf("protocol: malformed envelope tag: %w", err)
	}

	switch tag {
	case "ping":
		u.Kind = UpstreamPing
	case "push":
		u.Kind = UpstreamPush
		if err := json.Unmarshal(tuple[1], &u.Push); err != nil {
			return fmt.Errorf("protocol: malformed push payload: %w", err)
		}
	default:
		return &ErrUnknownTag{Tag: tag}
	}
	return nil
}

// PingEnvelope builds the `["ping", {}]` upstream envelope.
func PingEnvelope() Upstream {
	return Upstream{Kind: UpstreamPing}
}

// PushEnvelope builds a `["push", {...}]` upstream envelope carrying a
// single mutation, stamped with now (ms).
func PushEnvelope(m Mutation, nowMillis int64) Upstream {
	return Upstream{
		Kind: UpstreamPush,
		Push: PushBody{
			Mutations: []Mutation{m},
			Timestamp: nowMillis,
		},
	}
}
