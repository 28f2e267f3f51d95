package connection

import (
	"time"

	"github.com/gabrielmiguelok/pokesync/pkg/protocol"
	"github.com/gabrielmiguelok/pokesync/pkg/retry"
	"github.com/gabrielmiguelok/pokesync/pkg/transport"
)

// WatchdogStrategy returns the delay before the next watchdog tick. The
// default is a fixed interval (spec.md §9: the fixed 5000ms poll is never
// gated by connection health); Backoff is an opt-in alternative a host can
// plug in for environments that want to back off retries (SPEC_FULL §4.12).
type WatchdogStrategy interface {
	NextInterval() time.Duration
	Reset()
}

// FixedInterval is the spec-mandated default watchdog strategy: always the
// same interval, regardless of circuit-breaker state.
type FixedInterval time.Duration

func (f FixedInterval) NextInterval() time.Duration { return time.Duration(f) }
func (FixedInterval) Reset()                        {}

// Backoff is an opt-in WatchdogStrategy built on pkg/retry's exponential
// backoff, for hosts that explicitly want reconnect attempts to slow down
// under sustained failure instead of polling at a fixed cadence.
type Backoff struct {
	cfg     *retry.Config
	attempt int
}

// NewBackoff creates a Backoff strategy. A nil cfg uses retry.DefaultConfig.
func NewBackoff(cfg *retry.Config) *Backoff {
	if cfg == nil {
		cfg = retry.DefaultConfig()
	}
	return &Backoff{cfg: cfg}
}

func (b *Backoff) NextInterval() time.Duration {
	d := retry.Backoff(b.attempt, b.cfg)
	b.attempt++
	return d
}

func (b *Backoff) Reset() { b.attempt = 0 }

// Config configures a Machine.
type Config struct {
	// Origin is the ws:// or wss:// base URL of the room server.
	Origin string

	// RoomID scopes the connection to a single room.
	RoomID string

	// AuthToken returns the current auth token carried on connect/reconnect.
	// Called fresh every connect attempt so a host can rotate tokens.
	AuthToken func() string

	// JitterBuffer is handed to the playback pipeline (spec.md §4.5).
	JitterBuffer time.Duration

	// WatchdogInterval seeds the default FixedInterval strategy when
	// Watchdog is nil.
	WatchdogInterval time.Duration

	// PingDeadline is how long the machine waits for a pong before treating
	// the connection as dead (spec.md §4.4, §8 S5). Default 2000ms.
	PingDeadline time.Duration

	// Watchdog overrides the tick-interval strategy. Defaults to
	// FixedInterval(WatchdogInterval).
	Watchdog WatchdogStrategy

	// Codec selects the wire encoding. Defaults to protocol.NewJSONCodec().
	Codec protocol.Codec

	// OnOnlineChange is invoked on every Disconnected<->Connected boundary
	// crossing (spec.md §4.4).
	OnOnlineChange func(online bool)

	// OnFatalError reports every recoverable-but-notable error this machine
	// hits, tagged with a coarse kind ("protocol", "transport", "store") so
	// pkg/client can classify it into spec.md §7's taxonomy before handing
	// it to the host. "protocol" and "transport" errors reported here have
	// already triggered (or are about to trigger) a disconnect or follow a
	// failed dial; a "store" error (a poke rejected for any reason other than
	// an unexpected base cookie) leaves the connection as it is. This is
	// purely observational.
	OnFatalError func(kind string, err error)

	// TransportConfig is forwarded to transport.Dial. Nil uses
	// transport.DefaultConfig().
	TransportConfig *transport.Config
}

func (c *Config) watchdog() WatchdogStrategy {
	if c.Watchdog != nil {
		return c.Watchdog
	}
	interval := c.WatchdogInterval
	if interval <= 0 {
		interval = 5000 * time.Millisecond
	}
	return FixedInterval(interval)
}

func (c *Config) pingDeadline() time.Duration {
	if c.PingDeadline <= 0 {
		return 2000 * time.Millisecond
	}
	return c.PingDeadline
}

func (c *Config) codec() protocol.Codec {
	if c.Codec != nil {
		return c.Codec
	}
	return protocol.NewJSONCodec()
}
