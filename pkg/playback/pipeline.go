// Package playback implements the poke playback pipeline (spec.md §4.5):
// buffering server-produced state deltas, estimating a per-source clock
// offset, delaying application by a jitter buffer, merging contiguous
// pokes within a frame, and feeding them serialized into the local store.
package playback

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gabrielmiguelok/pokesync/pkg/core"
	"github.com/gabrielmiguelok/pokesync/pkg/logging"
	"github.com/gabrielmiguelok/pokesync/pkg/protocol"
	"github.com/gabrielmiguelok/pokesync/pkg/store"
)

// unexpectedBaseCookieSignature is the exact substring the store's poke
// error message carries when the base-cookie continuity invariant is
// violated (spec.md §4.5 step 6, §8 S3).
const unexpectedBaseCookieSignature = "unexpected base cookie for poke"

// Pipeline drives the poke playback loop for a single connection's
// lifetime. Callers Enqueue pokes as they arrive off the socket; Pipeline
// schedules its own frame-tick-paced drain loop and applies merged batches
// to the store.
type Pipeline struct {
	st     store.Store
	jitter time.Duration
	log    logging.Logger

	// epoch anchors a monotonic "now" in milliseconds: time.Since always
	// reads the runtime's monotonic clock reading when available, which
	// avoids the wall-clock-jump hazard spec.md §4.5's edge cases call out
	// ("use a monotonic timer for now; absolute wall clock is used only in
	// URL construction and logging").
	epoch time.Time
	clock func() int64

	tick func(jitter time.Duration) <-chan time.Time

	offsets *ClientTimestampOffsets

	drainLock *core.Mutex

	mu      sync.Mutex
	buf     []protocol.PokeBody
	running bool

	onDisconnect func()
	onError      func(error)
}

// Option configures a Pipeline at construction.
type Option func(*Pipeline)

// WithLogger overrides the default slog logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithClock overrides the monotonic-ms clock function; tests use this to
// drive deterministic time instead of a real timer.
func WithClock(clock func() int64) Option {
	return func(p *Pipeline) { p.clock = clock }
}

// WithTicker overrides the frame-tick source. The function is called with
// the configured jitter each time a new tick is scheduled and must return a
// channel that fires once. Tests substitute a manually-fired channel.
func WithTicker(tick func(jitter time.Duration) <-chan time.Time) Option {
	return func(p *Pipeline) { p.tick = tick }
}

// WithOnDisconnect registers the callback run when the store rejects a poke
// with an unexpected-base-cookie error (spec.md §4.5 step 6): the
// connection state machine wires this to its own _disconnect.
func WithOnDisconnect(fn func()) Option {
	return func(p *Pipeline) { p.onDisconnect = fn }
}

// WithOnError registers the callback run when the store rejects a poke
// with any other error — spec.md §4.5 step 6 says "any other rejection
// propagates", so this is how it reaches the host.
func WithOnError(fn func(error)) Option {
	return func(p *Pipeline) { p.onError = fn }
}

// New creates a Pipeline applying pokes to st with the given jitter buffer
// duration.
func New(st store.Store, jitter time.Duration, opts ...Option) *Pipeline {
	epoch := time.Now()
	p := &Pipeline{
		st:        st,
		jitter:    jitter,
		log:       logging.NewSlogLogger(),
		epoch:     epoch,
		clock:     func() int64 { return time.Since(epoch).Milliseconds() },
		tick:      defaultTicker,
		offsets:   NewClientTimestampOffsets(),
		drainLock: core.NewMutex(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// defaultTicker is the spec.md §9 fallback cadence for environments without
// a native frame tick: max(16ms, jitter/4).
func defaultTicker(jitter time.Duration) <-chan time.Time {
	cadence := jitter / 4
	if cadence < 16*time.Millisecond {
		cadence = 16 * time.Millisecond
	}
	return time.After(cadence)
}

// Enqueue appends pokes, in order, to the pending buffer and starts the
// drain loop if it is not already running.
func (p *Pipeline) Enqueue(pokes ...protocol.PokeBody) {
	if len(pokes) == 0 {
		return
	}

	p.mu.Lock()
	p.buf = append(p.buf, pokes...)
	start := !p.running
	if start {
		p.running = true
	}
	p.mu.Unlock()

	if start {
		go p.loop()
	}
}

// Reset drops the pending buffer and clears calibrated clock offsets.
// Called on every disconnect (spec.md §3, §4.4).
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.buf = nil
	p.mu.Unlock()
	p.offsets.Reset()
}

// Len reports the number of pokes currently buffered, for tests and
// diagnostics.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

func (p *Pipeline) loop() {
	for {
		<-p.tick(p.jitter)

		ctx := context.Background()
		if err := p.drainLock.Lock(ctx); err == nil {
			p.drainStep(ctx)
			p.drainLock.Unlock()
		}

		p.mu.Lock()
		if len(p.buf) == 0 {
			p.running = false
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
	}
}

// drainStep runs one iteration of spec.md §4.5's drain algorithm. Must be
// called with drainLock held.
//
// Only the head's deadline gates draining. Once it is ripe, the entire
// contiguous run already sitting in the buffer merges into the same batch
// without re-checking each poke's own deadline: a burst delivered in one
// downstream frame arrives at the same local instant, and a later poke in
// that burst can carry a source timestamp a few ms ahead of the head's,
// which would otherwise hold it past the very drain step meant to merge it
// in (spec.md §4.5 step 5, §8 S1).
func (p *Pipeline) drainStep(ctx context.Context) {
	now := p.clock()

	p.mu.Lock()
	if len(p.buf) == 0 {
		p.mu.Unlock()
		return
	}
	head := p.buf[0]

	if head.HasClientID() {
		offset := p.offsets.OffsetFor(head.ClientID, now, head.Timestamp)
		deadline := offset + head.Timestamp + p.jitter.Milliseconds()
		if deadline > now {
			p.mu.Unlock()
			return
		}
	}

	batch := p.buf
	p.buf = nil
	p.mu.Unlock()

	// Calibrate any other source first seen in this batch, so its next
	// poke outside this batch paces off the same first-observation offset.
	for _, poke := range batch {
		if poke.HasClientID() {
			p.offsets.OffsetFor(poke.ClientID, now, poke.Timestamp)
		}
	}

	combined := mergeBatch(batch)

	if err := p.st.Poke(ctx, combined); err != nil {
		if strings.Contains(err.Error(), unexpectedBaseCookieSignature) {
			p.log.Info("poke rejected with unexpected base cookie, disconnecting", logging.Err(err))
			if p.onDisconnect != nil {
				p.onDisconnect()
			}
			return
		}
		if p.onError != nil {
			p.onError(err)
		}
	}
}

// mergeBatch combines a run of ripe pokes into a single store.CombinedPoke
// per spec.md §4.5 step 5: baseCookie from the first, cookie/lastMutationID
// from the last, patches concatenated in order.
func mergeBatch(batch []protocol.PokeBody) store.CombinedPoke {
	first := batch[0]
	last := batch[len(batch)-1]

	combined := store.CombinedPoke{
		BaseCookie: first.BaseCookie,
		PullResponse: store.PullResponse{
			Cookie:         last.Cookie,
			LastMutationID: last.LastMutationID,
		},
	}

	for _, p := range batch {
		combined.PullResponse.Patch = append(combined.PullResponse.Patch, p.Patch...)
	}

	return combined
}
