package connection

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrielmiguelok/pokesync/pkg/protocol"
	"github.com/gabrielmiguelok/pokesync/pkg/retry"
	"github.com/gabrielmiguelok/pokesync/pkg/store"
	"github.com/gabrielmiguelok/pokesync/pkg/transport"
)

// dialRecorder hands out connected Fake transports and records the dial URL
// each one was reached with, so tests can inspect what the next reconnect
// carried without a real server.
type dialRecorder struct {
	mu    sync.Mutex
	fakes []*transport.Fake
	urls  []string
	ch    chan *transport.Fake
}

func newDialRecorder() *dialRecorder {
	return &dialRecorder{ch: make(chan *transport.Fake, 8)}
}

func (r *dialRecorder) dial(ctx context.Context, url, subprotocol string, cfg *transport.Config) (transport.Transport, error) {
	f := transport.NewFake()
	r.mu.Lock()
	r.fakes = append(r.fakes, f)
	r.urls = append(r.urls, url)
	r.mu.Unlock()
	r.ch <- f
	return f, nil
}

func (r *dialRecorder) urlAt(i int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.urls[i]
}

func pushConnected(t *testing.T, f *transport.Fake) {
	t.Helper()
	b, err := json.Marshal(protocol.Downstream{Kind: protocol.DownstreamConnected})
	require.NoError(t, err)
	f.Push(b)
}

func pushPoke(t *testing.T, f *transport.Fake, p protocol.PokeBody) {
	t.Helper()
	b, err := json.Marshal(protocol.Downstream{Kind: protocol.DownstreamPoke, Pokes: []protocol.PokeBody{p}})
	require.NoError(t, err)
	f.Push(b)
}

func TestMachine_PingDeadlineExceeded_S5(t *testing.T) {
	rec := newDialRecorder()
	st := store.NewMemory("client-1", "")

	var onlineEvents []bool
	var mu sync.Mutex

	cfg := Config{
		Origin:           "ws://example.com",
		RoomID:           "room-1",
		WatchdogInterval: 15 * time.Millisecond,
		PingDeadline:     30 * time.Millisecond,
		OnOnlineChange: func(online bool) {
			mu.Lock()
			onlineEvents = append(onlineEvents, online)
			mu.Unlock()
		},
	}

	m := New(cfg, st, WithDialFunc(rec.dial))
	m.Start()
	defer m.Close()

	first := <-rec.ch
	pushConnected(t, first)

	require.Eventually(t, func() bool { return m.State() == Connected }, time.Second, time.Millisecond)

	// Never answer the ping: the machine must disconnect after PingDeadline
	// and redial.
	second := <-rec.ch
	assert.NotSame(t, first, second)

	mu.Lock()
	events := append([]bool(nil), onlineEvents...)
	mu.Unlock()
	require.GreaterOrEqual(t, len(events), 1)
	assert.True(t, events[0])
}

func TestMachine_ReconnectCarriesCookieAndLastMutationID_S6(t *testing.T) {
	rec := newDialRecorder()
	st := store.NewMemory("client-1", "")

	cfg := Config{
		Origin:           "ws://example.com",
		RoomID:           "room-1",
		WatchdogInterval: 15 * time.Millisecond,
		PingDeadline:     time.Hour, // keep the first socket alive on purpose
	}

	m := New(cfg, st, WithDialFunc(rec.dial))
	m.Start()
	defer m.Close()

	first := <-rec.ch
	pushConnected(t, first)
	require.Eventually(t, func() bool { return m.State() == Connected }, time.Second, time.Millisecond)

	one := protocol.Version(1)
	pushPoke(t, first, protocol.PokeBody{BaseCookie: nil, Cookie: one, LastMutationID: 42, Patch: nil})

	require.Eventually(t, func() bool { return m.LastMutationIDReceived() == 42 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		c := st.CurrentCookie()
		return c != nil && *c == one
	}, time.Second, time.Millisecond)

	// Server hangs up; the machine must notice and redial.
	require.NoError(t, first.Close())

	second := <-rec.ch
	require.Eventually(t, func() bool { return m.State() == Connected || m.State() == Connecting }, time.Second, time.Millisecond)

	url := rec.urlAt(1)
	_ = second
	assert.True(t, strings.Contains(url, "baseCookie=1"), "expected baseCookie=1 in %q", url)
	assert.True(t, strings.Contains(url, "lmid=42"), "expected lmid=42 in %q", url)
}

// flakyDialer fails every dial attempt up to failures times, recording the
// timestamp of each attempt, then succeeds by handing out a connected Fake.
type flakyDialer struct {
	mu         sync.Mutex
	failures   int
	attempts   []time.Time
	ch         chan *transport.Fake
}

func newFlakyDialer(failures int) *flakyDialer {
	return &flakyDialer{failures: failures, ch: make(chan *transport.Fake, 1)}
}

func (d *flakyDialer) dial(ctx context.Context, url, subprotocol string, cfg *transport.Config) (transport.Transport, error) {
	d.mu.Lock()
	d.attempts = append(d.attempts, time.Now())
	attempt := len(d.attempts)
	d.mu.Unlock()

	if attempt <= d.failures {
		return nil, assert.AnError
	}

	f := transport.NewFake()
	d.ch <- f
	return f, nil
}

func (d *flakyDialer) gaps() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	gaps := make([]time.Duration, 0, len(d.attempts)-1)
	for i := 1; i < len(d.attempts); i++ {
		gaps = append(gaps, d.attempts[i].Sub(d.attempts[i-1]))
	}
	return gaps
}

// TestMachine_BackoffWatchdogStrategyGrowsReconnectCadence plugs
// connection.Backoff in as the Machine's WatchdogStrategy (SPEC_FULL
// §4.12) and asserts that, under sustained dial failure, the gap between
// successive reconnect attempts actually grows rather than polling at a
// fixed cadence.
func TestMachine_BackoffWatchdogStrategyGrowsReconnectCadence(t *testing.T) {
	dialer := newFlakyDialer(3)
	st := store.NewMemory("client-1", "")

	cfg := Config{
		Origin: "ws://example.com",
		RoomID: "room-1",
		Watchdog: NewBackoff(&retry.Config{
			InitialDelay: 15 * time.Millisecond,
			Multiplier:   2,
			MaxDelay:     time.Second,
			Jitter:       0,
		}),
	}

	m := New(cfg, st, WithDialFunc(dialer.dial))
	m.Start()
	defer m.Close()

	connected := <-dialer.ch
	pushConnected(t, connected)
	require.Eventually(t, func() bool { return m.State() == Connected }, time.Second, time.Millisecond)

	gaps := dialer.gaps()
	require.Len(t, gaps, 3, "three failed dials before the fourth succeeds")
	assert.Greater(t, gaps[1], gaps[0], "second reconnect gap must exceed the first under sustained failure")
	assert.Greater(t, gaps[2], gaps[1], "third reconnect gap must exceed the second under sustained failure")
}

func TestMachine_CloseIsIdempotentAndUnblocksAwaiters(t *testing.T) {
	rec := newDialRecorder()
	st := store.NewMemory("client-1", "")

	cfg := Config{
		Origin:           "ws://example.com",
		RoomID:           "room-1",
		WatchdogInterval: time.Hour,
	}

	m := New(cfg, st, WithDialFunc(rec.dial))
	m.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := m.AwaitConnected(ctx)
		done <- err
	}()

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("AwaitConnected never unblocked after Close")
	}
}
