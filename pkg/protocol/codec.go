package protocol

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/gabrielmiguelok/pokesync/pkg/pool"
)

// ErrUnknownCodec is returned by Registry.Get for an unregistered name.
var ErrUnknownCodec = errors.New("protocol: unknown codec")

// Codec encodes/decodes the upstream and downstream envelopes. Adapted from
// the teacher's pkg/protocol/codec.go Codec interface; the Phoenix 5-tuple
// variant is dropped since this wire protocol is the spec's own 2-element
// tag/payload tuple (see DESIGN.md).
type Codec interface {
	EncodeUpstream(env Upstream) ([]byte, error)
	DecodeDownstream(data []byte) (Downstream, error)
	Name() string
}

// JSONCodec is the default codec: one JSON-encoded `[tag, payload]` tuple
// per frame. It borrows the teacher's pool.BufferPool on the encode path
// to avoid an allocation per outbound push/ping (SPEC_FULL §4.13).
type JSONCodec struct{}

// NewJSONCodec creates the default JSON codec.
func NewJSONCodec() *JSONCodec { return &JSONCodec{} }

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) EncodeUpstream(env Upstream) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	enc := json.NewEncoder(buf)
	if err := enc.Encode(env); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func (JSONCodec) DecodeDownstream(data []byte) (Downstream, error) {
	var d Downstream
	if err := json.Unmarshal(data, &d); err != nil {
		return Downstream{}, err
	}
	return d, nil
}

// BinaryCodec encodes frames with MessagePack instead of JSON, for hosts
// that want a more compact wire format over the same socket (SPEC_FULL §3).
// Downstream decoding still expects the `[tag, payload]` tuple shape.
type BinaryCodec struct{}

// NewBinaryCodec creates the MessagePack codec.
func NewBinaryCodec() *BinaryCodec { return &BinaryCodec{} }

func (BinaryCodec) Name() string { return "msgpack" }

func (BinaryCodec) EncodeUpstream(env Upstream) ([]byte, error) {
	switch env.Kind {
	case UpstreamPing:
		return msgpack.Marshal([2]any{"ping", map[string]any{}})
	case UpstreamPush:
		return msgpack.Marshal([2]any{"push", env.Push})
	default:
		return nil, errors.New("protocol: unknown upstream kind")
	}
}

func (BinaryCodec) DecodeDownstream(data []byte) (Downstream, error) {
	var tuple [2]msgpack.RawMessage
	if err := msgpack.Unmarshal(data, &tuple); err != nil {
		return Downstream{}, err
	}

	var tag string
	if err := msgpack.Unmarshal(tuple[0], &tag); err != nil {
		return Downstream{}, err
	}

	var d Downstream
	switch tag {
	case "connected":
		d.Kind = DownstreamConnected
	case "error":
		d.Kind = DownstreamError
		if err := msgpack.Unmarshal(tuple[1], &d.Error); err != nil {
			return Downstream{}, err
		}
	case "pong":
		d.Kind = DownstreamPong
	case "poke":
		d.Kind = DownstreamPoke
		var many []PokeBody
		if err := msgpack.Unmarshal(tuple[1], &many); err == nil {
			d.Pokes = many
			break
		}
		var single PokeBody
		if err := msgpack.Unmarshal(tuple[1], &single); err != nil {
			return Downstream{}, err
		}
		d.Pokes = []PokeBody{single}
	default:
		return Downstream{}, &ErrUnknownTag{Tag: tag}
	}
	return d, nil
}

// Registry holds codecs by name, letting a host pick the wire format via
// client.Options.WireFormat (carried from the teacher's CodecRegistry).
type Registry struct {
	codecs  map[string]Codec
	def     Codec
	mu      sync.RWMutex
}

// NewRegistry creates a registry pre-populated with JSON (default) and
// MessagePack codecs.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Codec)}
	r.Register(NewJSONCodec())
	r.Register(NewBinaryCodec())
	r.def = NewJSONCodec()
	return r
}

// Register adds or replaces a codec.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.Name()] = c
}

// Get retrieves a codec by name.
func (r *Registry) Get(name string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[name]
	return c, ok
}

// Default returns the default codec (JSON unless SetDefault changed it).
func (r *Registry) Default() Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.def
}

// SetDefault switches the default codec by name.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codecs[name]
	if !ok {
		return ErrUnknownCodec
	}
	r.def = c
	return nil
}
