// Package connection implements the duplex-socket connection state machine
// (spec.md §4.4): Disconnected/Connecting/Connected transitions, the fixed
// watchdog poll, ping/pong liveness, and dispatch of decoded downstream
// envelopes to the playback pipeline. Grounded on the teacher's
// WebSocketTransport connect/readLoop/writeLoop split in
// transport/websocket.go, generalized from "one physical socket" to "a
// socket that is dialed, lost, and redialed over the client's lifetime"
// (see DESIGN.md).
package connection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabrielmiguelok/pokesync/pkg/core"
	"github.com/gabrielmiguelok/pokesync/pkg/logging"
	"github.com/gabrielmiguelok/pokesync/pkg/metrics"
	"github.com/gabrielmiguelok/pokesync/pkg/playback"
	"github.com/gabrielmiguelok/pokesync/pkg/protocol"
	"github.com/gabrielmiguelok/pokesync/pkg/puller"
	"github.com/gabrielmiguelok/pokesync/pkg/socketurl"
	"github.com/gabrielmiguelok/pokesync/pkg/store"
	"github.com/gabrielmiguelok/pokesync/pkg/transport"
)

// State is one of the three connection states spec.md §4.4 names.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// ErrClosed is returned to anyone awaiting a connection that was abandoned
// by Machine.Close.
var ErrClosed = fmt.Errorf("connection: closed")

// DialFunc opens a transport to url. Tests substitute a fake dialer so they
// never touch a real socket.
type DialFunc func(ctx context.Context, url, subprotocol string, cfg *transport.Config) (transport.Transport, error)

func defaultDial(ctx context.Context, url, subprotocol string, cfg *transport.Config) (transport.Transport, error) {
	return transport.Dial(ctx, url, subprotocol, cfg)
}

type frameMsg struct {
	gen  int32
	data []byte
}

// Machine owns one logical connection's lifetime: it is constructed once
// per client and drives itself through repeated dial/lose/redial cycles
// from a single cooperative pump goroutine (spec.md §5, §9 — "single
// cooperative message pump that multiplexes socket-message, socket-close,
// ping-deadline, watchdog-tick, connect-request and close-request").
//
// Every field the pump goroutine mutates directly (state, tr, pingWait) is
// owned exclusively by that goroutine; other goroutines only ever touch it
// through the channels and atomics below.
type Machine struct {
	cfg   Config
	st    store.Store
	pb    *playback.Pipeline
	codec protocol.Codec
	dial  DialFunc
	tcfg  *transport.Config

	log      logging.Logger
	metrics  *metrics.Metrics
	circuit  *core.CircuitBreaker
	watchdog WatchdogStrategy

	state atomic.Int32

	lastSent     atomic.Int64
	lastReceived atomic.Int64
	lastPokeAt   atomic.Value // time.Time

	pcMu           sync.Mutex
	pendingConnect *core.Deferred[transport.Transport]

	connectReqCh   chan struct{}
	frames         chan frameMsg
	socketClosedCh chan int32
	pingTimeoutCh  chan int32

	closeCh   chan struct{}
	closeOnce sync.Once
	doneCh    chan struct{}

	// gen is bumped by the run-loop goroutine on every connect/disconnect
	// and read from other goroutines (requestDisconnect, ping-deadline
	// timers) to tag stale events, so it is atomic rather than run-loop-only
	// like tr/pingWait.
	gen atomic.Int32

	// run-loop-owned; no lock needed since only run() touches them.
	tr       transport.Transport
	pingWait *core.Deferred[struct{}]
}

// New creates a Machine bound to st, wiring a fresh playback.Pipeline that
// disconnects the machine whenever the store rejects a poke with an
// unexpected base cookie (spec.md §4.5 step 6, §8 S3).
func New(cfg Config, st store.Store, opts ...Option) *Machine {
	m := &Machine{
		cfg:            cfg,
		st:             st,
		codec:          cfg.codec(),
		dial:           defaultDial,
		tcfg:           cfg.TransportConfig,
		log:            logging.NewSlogLogger(),
		metrics:        metrics.NewMetrics("pokesync"),
		circuit:        core.NewCircuitBreaker(nil),
		watchdog:       cfg.watchdog(),
		pendingConnect: core.NewDeferred[transport.Transport](),
		connectReqCh:   make(chan struct{}, 1),
		frames:         make(chan frameMsg, 64),
		socketClosedCh: make(chan int32, 1),
		pingTimeoutCh:  make(chan int32, 1),
		closeCh:        make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	m.lastSent.Store(-1)
	m.lastPokeAt.Store(time.Now())

	for _, opt := range opts {
		opt(m)
	}

	m.pb = playback.New(st, cfg.JitterBuffer,
		playback.WithLogger(m.log),
		playback.WithOnDisconnect(func() {
			m.reportFatal("protocol", fmt.Errorf("unexpected base cookie for poke"))
			m.requestDisconnect()
		}),
		playback.WithOnError(func(err error) {
			m.log.Warn("poke rejected", logging.Err(err))
			m.reportFatal("store", err)
		}),
	)

	return m
}

// Option configures a Machine at construction, primarily for tests.
type Option func(*Machine)

// WithDialFunc overrides the transport dialer.
func WithDialFunc(fn DialFunc) Option {
	return func(m *Machine) { m.dial = fn }
}

// WithLogger overrides the default logger.
func WithLogger(l logging.Logger) Option {
	return func(m *Machine) { m.log = l }
}

// WithMetrics overrides the default per-instance metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

// Start launches the cooperative pump goroutine. Must be called exactly
// once.
func (m *Machine) Start() {
	go m.run()
}

// State reports the current connection state. Safe for concurrent use.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// LastMutationIDReceived reports the highest mutation id acknowledged by
// any poke received so far (recorded on receipt, before playback applies
// it), carried as `lmid` on the next dial (spec.md §6.1).
func (m *Machine) LastMutationIDReceived() int64 {
	return m.lastReceived.Load()
}

// TryAdvanceSent implements the pusher's monotonic send guard (spec.md §4.6
// step 4: "only if m.id > LastMutationIDSent"). Returns true and advances
// the watermark if id is new, false if id was already sent (a redrive).
func (m *Machine) TryAdvanceSent(id int64) bool {
	for {
		cur := m.lastSent.Load()
		if id <= cur {
			return false
		}
		if m.lastSent.CompareAndSwap(cur, id) {
			return true
		}
	}
}

// Codec exposes the wire codec for the pusher to encode pushes with.
func (m *Machine) Codec() protocol.Codec { return m.codec }

// CircuitState reports the watchdog's consecutive-dial-failure circuit
// breaker state, for a host's diagnostics (SPEC_FULL §4.9). Purely
// observational: it never gates or lengthens the watchdog interval.
func (m *Machine) CircuitState() core.CircuitState { return m.circuit.State() }

// LastPokeAt returns the wall-clock time the most recent poke frame was
// received from the server, for a host's poke-lag health check (SPEC_FULL
// §4.10). Initialized to the Machine's construction time, so a freshly
// constructed client isn't immediately reported as lagging.
func (m *Machine) LastPokeAt() time.Time { return m.lastPokeAt.Load().(time.Time) }

// RequestConnect asks the pump to attempt a connect if currently
// Disconnected. Fire-and-forget: safe to call from any goroutine, never
// blocks (spec.md §4.6 step 1).
func (m *Machine) RequestConnect() {
	select {
	case m.connectReqCh <- struct{}{}:
	default:
	}
}

// AwaitConnected blocks until the current connection attempt resolves
// (spec.md §4.6 step 2), returning the live transport, or an error if ctx
// is cancelled or the machine is closed first.
func (m *Machine) AwaitConnected(ctx context.Context) (transport.Transport, error) {
	pc := m.currentPendingConnect()
	select {
	case <-pc.Done():
		return pc.Wait()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the machine down idempotently: the current socket is closed,
// the pump goroutine exits, and any still-pending connect await is rejected
// so callers blocked in AwaitConnected unblock instead of hanging forever.
func (m *Machine) Close() error {
	m.closeOnce.Do(func() {
		close(m.closeCh)
	})
	<-m.doneCh
	return nil
}

// reportFatal forwards a classified error to the host via cfg.OnFatalError,
// if one was configured. kind is one of "protocol", "transport", "store"
// (pkg/client maps these onto its exported error taxonomy).
func (m *Machine) reportFatal(kind string, err error) {
	if m.cfg.OnFatalError != nil {
		m.cfg.OnFatalError(kind, err)
	}
}

func (m *Machine) requestDisconnect() {
	select {
	case m.socketClosedCh <- m.gen.Load():
	default:
	}
}

func (m *Machine) currentPendingConnect() *core.Deferred[transport.Transport] {
	m.pcMu.Lock()
	defer m.pcMu.Unlock()
	return m.pendingConnect
}

func (m *Machine) replacePendingConnect() *core.Deferred[transport.Transport] {
	m.pcMu.Lock()
	defer m.pcMu.Unlock()
	m.pendingConnect = core.NewDeferred[transport.Transport]()
	return m.pendingConnect
}

func (m *Machine) run() {
	defer close(m.doneCh)

	timer := time.NewTimer(m.watchdog.NextInterval())
	defer timer.Stop()

	for {
		select {
		case <-m.closeCh:
			m.teardown()
			return

		case <-timer.C:
			m.onWatchdogTick()
			timer.Reset(m.watchdog.NextInterval())

		case <-m.connectReqCh:
			m.connect()

		case fm := <-m.frames:
			if fm.gen == m.gen.Load() {
				m.handleFrame(fm.data)
			}

		case gen := <-m.socketClosedCh:
			if gen == m.gen.Load() {
				m.disconnect()
			}

		case gen := <-m.pingTimeoutCh:
			if gen == m.gen.Load() && m.pingWait != nil && !m.pingWait.Settled() {
				m.log.Warn("ping deadline exceeded, disconnecting")
				m.reportFatal("transport", fmt.Errorf("ping deadline exceeded"))
				m.disconnect()
			}
		}
	}
}

func (m *Machine) onWatchdogTick() {
	switch m.State() {
	case Connected:
		m.sendPing()
	case Disconnected:
		m.connect()
	case Connecting:
		// already in flight; nothing to do until it resolves or is lost.
	}
}

func (m *Machine) connect() {
	if m.State() != Disconnected {
		return
	}
	m.state.Store(int32(Connecting))
	gen := m.gen.Add(1)

	ctx := context.Background()

	baseCookie, err := puller.CurrentBaseCookie(ctx, m.st)
	if err != nil {
		m.log.Warn("failed to read base cookie, will retry on next watchdog tick", logging.Err(err))
		m.state.Store(int32(Disconnected))
		m.circuit.RecordError()
		return
	}

	dialURL, subprotocol, err := socketurl.Build(m.cfg.Origin, socketurl.Params{
		ClientID:               m.st.ClientID(),
		RoomID:                 m.cfg.RoomID,
		BaseCookie:             baseCookie,
		NowMillis:              time.Now().UnixMilli(),
		LastMutationIDReceived: m.lastReceived.Load(),
		Auth:                   m.authToken(),
	})
	if err != nil {
		m.log.Error("cannot build socket url, giving up on this attempt", logging.Err(err))
		m.state.Store(int32(Disconnected))
		return
	}

	tr, err := m.dial(ctx, dialURL, subprotocol, m.tcfg)
	if err != nil {
		m.log.Warn("dial failed, will retry on next watchdog tick", logging.Err(err))
		m.state.Store(int32(Disconnected))
		m.circuit.RecordError()
		if m.metrics != nil {
			m.metrics.RecordError("dial")
		}
		m.reportFatal("transport", err)
		return
	}

	m.tr = tr
	m.attach(tr, gen)
}

func (m *Machine) authToken() string {
	if m.cfg.AuthToken == nil {
		return ""
	}
	return m.cfg.AuthToken()
}

// attach spawns the per-socket forwarding goroutine that feeds frames (and
// eventually the close signal) from tr into the pump's shared channels,
// tagged with gen so a stale forwarder from a socket that was already
// replaced cannot corrupt current state.
func (m *Machine) attach(tr transport.Transport, gen int32) {
	go func() {
		for data := range tr.Recv() {
			select {
			case m.frames <- frameMsg{gen: gen, data: data}:
			case <-m.closeCh:
				return
			}
		}
		select {
		case m.socketClosedCh <- gen:
		case <-m.closeCh:
		}
	}()
}

func (m *Machine) handleFrame(data []byte) {
	env, err := m.codec.DecodeDownstream(data)
	if err != nil {
		m.log.Error("protocol violation, disconnecting", logging.Err(err))
		m.reportFatal("protocol", err)
		m.disconnect()
		return
	}

	switch env.Kind {
	case protocol.DownstreamConnected:
		m.onConnected()
	case protocol.DownstreamError:
		m.log.Error("server sent fatal error, disconnecting", logging.String("message", env.Error))
		m.reportFatal("protocol", fmt.Errorf("server error: %s", env.Error))
		m.disconnect()
	case protocol.DownstreamPong:
		if m.pingWait != nil {
			m.pingWait.Resolve(struct{}{})
		}
		// A live pong is as much a health signal as a fresh connect: an
		// opted-in backoff strategy must not keep stretching the same
		// watchdog tick that also paces ping cadence just because the
		// connection has been up for a while.
		m.watchdog.Reset()
	case protocol.DownstreamPoke:
		m.recordReceived(env.Pokes)
		m.lastPokeAt.Store(time.Now())
		m.pb.Enqueue(env.Pokes...)
		if m.metrics != nil {
			m.metrics.PokeReceived(len(env.Pokes))
		}
	}
}

func (m *Machine) recordReceived(pokes []protocol.PokeBody) {
	for _, p := range pokes {
		if p.LastMutationID > m.lastReceived.Load() {
			m.lastReceived.Store(p.LastMutationID)
		}
	}
}

func (m *Machine) onConnected() {
	m.state.Store(int32(Connected))
	m.lastSent.Store(-1)
	m.circuit.RecordSuccess()
	m.watchdog.Reset()

	pc := m.currentPendingConnect()
	pc.Resolve(m.tr)

	if m.metrics != nil {
		m.metrics.ConnectionOpened()
	}
	if m.cfg.OnOnlineChange != nil {
		m.cfg.OnOnlineChange(true)
	}
}

func (m *Machine) sendPing() {
	m.pingWait = core.NewDeferred[struct{}]()
	gen := m.gen.Load()

	data, err := m.codec.EncodeUpstream(protocol.PingEnvelope())
	if err != nil {
		m.log.Error("failed to encode ping", logging.Err(err))
		return
	}

	if err := m.tr.Send(context.Background(), data); err != nil {
		m.log.Warn("ping send failed, disconnecting", logging.Err(err))
		m.disconnect()
		return
	}

	deadline := m.cfg.pingDeadline()
	pw := m.pingWait
	go func() {
		select {
		case <-pw.Done():
			return
		case <-time.After(deadline):
		}
		select {
		case m.pingTimeoutCh <- gen:
		case <-m.closeCh:
		}
	}()
}

func (m *Machine) disconnect() {
	wasConnected := m.State() == Connected

	if m.tr != nil {
		_ = m.tr.Close()
		m.tr = nil
	}
	m.gen.Add(1)
	m.state.Store(int32(Disconnected))
	m.pb.Reset()
	m.lastSent.Store(-1)

	if wasConnected {
		m.replacePendingConnect()
		if m.metrics != nil {
			m.metrics.ConnectionClosed()
			m.metrics.Reconnected()
		}
		if m.cfg.OnOnlineChange != nil {
			m.cfg.OnOnlineChange(false)
		}
	}
}

func (m *Machine) teardown() {
	if m.tr != nil {
		_ = m.tr.Close()
		m.tr = nil
	}
	m.gen.Add(1)
	m.state.Store(int32(Disconnected))
	m.pb.Reset()

	pc := m.currentPendingConnect()
	if !pc.Settled() {
		pc.Reject(ErrClosed)
	}
}
