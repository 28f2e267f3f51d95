// Package client is the public façade (spec.md §4.8): it wires together the
// connection state machine, the pusher, and a host-supplied local replica
// store behind the handful of methods a consuming application actually
// calls — subscribe, query, mutate, close. Grounded on the teacher's
// top-level Server façade in pkg/golivekit.go, which plays the same role of
// wiring its own subsystems (pubsub, session manager, transport) behind a
// small constructor-plus-method surface (see DESIGN.md).
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/gabrielmiguelok/pokesync/pkg/connection"
	"github.com/gabrielmiguelok/pokesync/pkg/core"
	"github.com/gabrielmiguelok/pokesync/pkg/health"
	"github.com/gabrielmiguelok/pokesync/pkg/logging"
	"github.com/gabrielmiguelok/pokesync/pkg/metrics"
	"github.com/gabrielmiguelok/pokesync/pkg/protocol"
	"github.com/gabrielmiguelok/pokesync/pkg/pusher"
	"github.com/gabrielmiguelok/pokesync/pkg/store"
)

// Client is a live, room-scoped synchronization session: one socket
// connection, one jitter buffer, one push pipeline, all driven off a single
// local replica store (spec.md §4.8).
type Client struct {
	opts Options
	st   store.Store
	conn *connection.Machine
	psh  *pusher.Pusher
	log  logging.Logger
	mt   *metrics.Metrics

	health *health.Checker

	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex
}

// New constructs a Client bound to st, registering opts.Mutators with it and
// starting the connection's cooperative pump goroutine immediately (spec.md
// §4.8: a Client is live as soon as it's constructed, not on first
// subscribe). Returns a ConfigError if opts fails Validate.
//
// connOpts is a trailing extension point for the connection.Machine itself
// (e.g. connection.WithDialFunc in tests that must never touch a real
// socket); production callers omit it.
func New(st store.Store, opts Options, connOpts ...connection.Option) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	for name, fn := range opts.Mutators {
		st.AddMutator(name, fn)
	}

	mt := opts.Metrics
	if mt == nil {
		mt = metrics.NewMetrics("pokesync")
	}

	logOpts := []logging.LoggerOption{logging.WithLevel(opts.LogLevel)}
	if len(opts.LogSinks) > 0 {
		logOpts = append(logOpts, logging.WithOutput(io.MultiWriter(opts.LogSinks...)))
	}
	log := logging.NewSlogLogger(logOpts...)

	registry := protocol.NewRegistry()
	codec, ok := registry.Get(opts.wireFormat())
	if !ok {
		// Validate already rejects any other WireFormat value, so this can
		// only happen if the registry itself is missing an entry.
		codec = registry.Default()
	}

	c := &Client{
		opts: opts,
		st:   st,
		log:  log,
		mt:   mt,
	}

	c.conn = connection.New(connection.Config{
		Origin:           opts.SocketOrigin,
		RoomID:           opts.RoomID,
		AuthToken:        opts.authToken,
		JitterBuffer:     opts.buffer(),
		WatchdogInterval: opts.watchdogInterval(),
		PingDeadline:     opts.pingDeadline(),
		Codec:            codec,
		OnOnlineChange:   opts.OnOnlineChange,
		OnFatalError: func(kind string, err error) {
			if opts.OnError != nil {
				opts.OnError(classifyFatal(kind, err))
			}
		},
		TransportConfig: opts.TransportConfig,
	}, st,
		append([]connection.Option{
			connection.WithLogger(log),
			connection.WithMetrics(mt),
		}, connOpts...)...,
	)

	c.psh = pusher.New(c.conn,
		pusher.WithLogger(log),
		pusher.WithMetrics(mt),
		pusher.WithMaxRandomPushLatency(opts.MaxRandomPushLatency),
	)
	st.SetPusher(c.psh.Push)

	c.health = health.NewChecker()
	c.health.AddCriticalCheck("connection", health.ConnectionStateCheck(func() bool {
		return c.conn.State() == connection.Connected
	}), 0)
	c.health.AddCheck("poke-lag", health.PokeLagCheck(c.conn.LastPokeAt, opts.maxPokeLag()), 0)
	c.health.AddCheck("dial-circuit", func(ctx context.Context) error {
		if state := c.conn.CircuitState(); state != core.CircuitClosed {
			return fmt.Errorf("dial circuit breaker is %s", state)
		}
		return nil
	}, 0)

	c.conn.Start()
	c.conn.RequestConnect()

	return c, nil
}

// ClientID returns this replica's opaque client id (spec.md §4.8).
func (c *Client) ClientID() string { return c.st.ClientID() }

// Auth returns the store's current auth token.
func (c *Client) Auth() string { return c.st.Auth() }

// SchemaVersion returns the schema version this client was constructed
// with.
func (c *Client) SchemaVersion() string { return c.opts.SchemaVersion }

// IDBName returns the local replica's storage namespace: a stable name a
// host can use to key its own on-disk persistence per room/user, the way a
// browser Replicache client names its IndexedDB database (spec.md §4.8).
// Derived rather than configurable, since it must stay in lockstep with
// RoomID/UserID to avoid two rooms silently sharing one replica on disk.
func (c *Client) IDBName() string {
	return fmt.Sprintf("pokesync-%s-%s", c.opts.RoomID, c.opts.UserID)
}

// Closed reports whether Close has already been called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Subscribe registers a live query over the replica, forwarded verbatim to
// the underlying store (spec.md §4.8 `subscribe`).
func (c *Client) Subscribe(body any, callbacks store.SubscriptionCallbacks) (unsubscribe func()) {
	return c.st.Subscribe(body, callbacks)
}

// ExperimentalWatch subscribes to every store change without a specific
// query body, forwarded the same way Subscribe is (spec.md §4.8
// `experimentalWatch`). Named to match the host-visible method, not to
// suggest the feature is unstable in this implementation.
func (c *Client) ExperimentalWatch(callback func(data any)) (unsubscribe func()) {
	return c.st.Subscribe(nil, store.SubscriptionCallbacks{OnData: callback})
}

// Query runs a one-shot read against the current replica state (spec.md
// §4.8 `query`).
func (c *Client) Query(ctx context.Context, body any) (any, error) {
	return c.st.Query(ctx, body)
}

// Mutate invokes the named local mutator optimistically and enqueues it for
// push to the server (spec.md §4.8 `mutate`, §4.6).
func (c *Client) Mutate(ctx context.Context, name string, args json.RawMessage) (any, error) {
	return c.st.Mutate(ctx, name, args)
}

// HealthCheck runs the client's readiness checks (SPEC_FULL §4.10): whether
// the connection is currently established (critical), whether a poke frame
// arrived within MaxPokeLag, and whether the dial circuit breaker is closed.
func (c *Client) HealthCheck(ctx context.Context) health.HealthStatus {
	return c.health.Check(ctx)
}

// Close disconnects and closes the store, idempotently (spec.md §4.8
// `close`): the connection machine stops redialing and unblocks any pusher
// waiting on AwaitConnected, then the store itself is closed.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		if storeErr := c.st.Close(); err == nil {
			err = storeErr
		}
	})
	return err
}
