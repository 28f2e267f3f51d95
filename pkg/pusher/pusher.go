// Package pusher implements the mutation push path (spec.md §4.6): await a
// live socket, optionally jitter the send to avoid a thundering herd of
// simultaneous pushes, then transmit every outstanding mutation the store
// hasn't already sent. Grounded on the teacher's retry/backoff composition
// style in pkg/retry/retry.go, adapted here to a single monotonic
// send-once guard rather than a retry loop (see DESIGN.md).
package pusher

import (
	"context"
	"math/rand"
	"time"

	"github.com/gabrielmiguelok/pokesync/pkg/core"
	"github.com/gabrielmiguelok/pokesync/pkg/logging"
	"github.com/gabrielmiguelok/pokesync/pkg/metrics"
	"github.com/gabrielmiguelok/pokesync/pkg/protocol"
	"github.com/gabrielmiguelok/pokesync/pkg/store"
	"github.com/gabrielmiguelok/pokesync/pkg/transport"
)

// Connection is the slice of connection.Machine the pusher depends on.
// Defined here, not in pkg/connection, so pusher never needs to import the
// concrete state machine — only this shape.
type Connection interface {
	RequestConnect()
	AwaitConnected(ctx context.Context) (transport.Transport, error)
	TryAdvanceSent(id int64) bool
	Codec() protocol.Codec
}

// Pusher is the store.PusherFunc implementation spec.md §4.6 describes.
type Pusher struct {
	conn Connection
	log  logging.Logger
	mt   *metrics.Metrics

	// MaxRandomPushLatency, when non-zero, adds a uniform random delay in
	// [0, MaxRandomPushLatency) before sending, so many clients pushing at
	// once don't all hit the server in the same instant (spec.md §4.6
	// step 3).
	MaxRandomPushLatency time.Duration
}

// New creates a Pusher bound to conn.
func New(conn Connection, opts ...Option) *Pusher {
	p := &Pusher{
		conn: conn,
		log:  logging.NewSlogLogger(),
		mt:   metrics.NewMetrics("pokesync"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Option configures a Pusher at construction.
type Option func(*Pusher)

// WithLogger overrides the default logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Pusher) { p.log = l }
}

// WithMetrics overrides the default per-instance metrics sink, e.g. to share
// one Metrics across a Pusher and its Connection.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pusher) { p.mt = m }
}

// WithMaxRandomPushLatency sets the jitter ceiling described above.
func WithMaxRandomPushLatency(d time.Duration) Option {
	return func(p *Pusher) { p.MaxRandomPushLatency = d }
}

// Push is the store.PusherFunc: it asks for a connection, waits for it,
// optionally jitters, then transmits every mutation the connection hasn't
// already sent (spec.md §4.6 steps 1-5).
func (p *Pusher) Push(ctx context.Context, req store.PushRequest) (store.PushResult, error) {
	p.conn.RequestConnect()

	tr, err := p.conn.AwaitConnected(ctx)
	if err != nil {
		return store.PushResult{ErrorMessage: err.Error()}, err
	}

	if p.MaxRandomPushLatency > 0 {
		d := time.Duration(rand.Int63n(int64(p.MaxRandomPushLatency)))
		if err := core.Sleep(ctx, d); err != nil {
			return store.PushResult{ErrorMessage: err.Error()}, err
		}
	}

	codec := p.conn.Codec()

	for _, mut := range req.Mutations {
		if !p.conn.TryAdvanceSent(mut.ID) {
			// Already transmitted on a prior redrive of this same batch.
			if p.mt != nil {
				p.mt.PushRedrive()
			}
			continue
		}

		data, err := codec.EncodeUpstream(protocol.PushEnvelope(mut, time.Now().UnixMilli()))
		if err != nil {
			return store.PushResult{ErrorMessage: err.Error()}, err
		}

		if err := tr.Send(ctx, data); err != nil {
			p.log.Warn("push send failed", logging.Err(err))
			return store.PushResult{ErrorMessage: err.Error()}, err
		}

		if p.mt != nil {
			p.mt.MutationPushed()
		}
	}

	return store.PushResult{HTTPStatusCode: 200}, nil
}
