package client

import (
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/gabrielmiguelok/pokesync/pkg/metrics"
	"github.com/gabrielmiguelok/pokesync/pkg/socketurl"
	"github.com/gabrielmiguelok/pokesync/pkg/store"
	"github.com/gabrielmiguelok/pokesync/pkg/transport"
)

// Options configures a Client (spec.md §6.4). Grounded on the teacher's
// Options-struct-plus-Validate idiom in pkg/core/config.go, flattened to one
// struct rather than nested TimeoutConfig/SecurityConfig sections since this
// client has a single cohesive concern instead of a whole server's worth of
// settings.
type Options struct {
	// UserID identifies this replica's owner. Required.
	UserID string

	// RoomID scopes the room-local replica and its socket connection.
	RoomID string

	// SocketOrigin is the ws:// or wss:// base URL of the room server.
	// Required.
	SocketOrigin string

	// Auth is a static auth token carried on every (re)connect. Ignored if
	// GetAuth is set.
	Auth string

	// GetAuth, when set, is called fresh on every connect attempt so a host
	// can rotate short-lived tokens (spec.md §6.1).
	GetAuth func() string

	// SchemaVersion is returned by Client.SchemaVersion; this package does
	// not send it to the server.
	SchemaVersion string

	// LogLevel sets the minimum level the client's logger emits.
	LogLevel slog.Level

	// LogSinks are the io.Writers the client's logger fans out to. When set
	// they replace the logger's default stdout output; when empty the
	// logger writes to stdout.
	LogSinks []io.Writer

	// Mutators are the named local mutation handlers registered with the
	// store at construction (spec.md §4.8 `mutate`).
	Mutators map[string]store.MutatorFunc

	// Buffer is the jitter-buffer hold duration (spec.md §4.5). Defaults to
	// 250ms.
	Buffer time.Duration

	// MaxRandomPushLatency adds up to this much random delay before a push,
	// to avoid a thundering herd of simultaneous mutations (spec.md §4.6
	// step 3). Defaults to 0 (disabled).
	MaxRandomPushLatency time.Duration

	// WatchdogInterval is the fixed connection-health poll period (spec.md
	// §4.4, §9). Defaults to 5000ms.
	WatchdogInterval time.Duration

	// PingDeadline is how long the client waits for a pong before treating
	// the connection as dead (spec.md §8 S5). Defaults to 2000ms.
	PingDeadline time.Duration

	// OnOnlineChange is invoked on every online/offline transition (spec.md
	// §4.4).
	OnOnlineChange func(online bool)

	// OnError, when set, receives every classified fatal error the
	// connection hits — ConfigError never reaches it, since that class is
	// returned from New/Validate instead (spec.md §7, SPEC_FULL §4.8).
	OnError func(err error)

	// WireFormat selects the upstream/downstream codec by name, as
	// registered in protocol.NewRegistry ("json" or "msgpack"). Defaults to
	// "json" (SPEC_FULL §3, domain-stack: vmihailenco/msgpack).
	WireFormat string

	// Metrics, when set, routes connection/push/poke counters to a
	// host-supplied instance instead of the fresh per-Client one New
	// otherwise constructs (SPEC_FULL §4.11).
	Metrics *metrics.Metrics

	// TransportConfig is forwarded to the dialer. Nil uses
	// transport.DefaultConfig().
	TransportConfig *transport.Config

	// MaxPokeLag bounds how long HealthCheck tolerates silence since the
	// last received poke before reporting unhealthy (SPEC_FULL §4.10).
	// Defaults to 30s.
	MaxPokeLag time.Duration
}

// Default tunables applied when the corresponding Options field is zero.
const (
	DefaultBuffer           = 250 * time.Millisecond
	DefaultWatchdogInterval = 5000 * time.Millisecond
	DefaultPingDeadline     = 2000 * time.Millisecond
	DefaultWireFormat       = "json"
	DefaultMaxPokeLag       = 30 * time.Second
)

// Validate checks o for the construction-time misconfigurations spec.md §7
// classifies as ConfigError. Recoverable error classes (Protocol/Transport/
// Store) can only happen after a connection exists, so they never appear
// here.
func (o Options) Validate() error {
	if o.UserID == "" {
		return &ConfigError{Message: "UserID is required"}
	}
	if o.SocketOrigin == "" {
		return &ConfigError{Message: "SocketOrigin is required"}
	}

	u, err := url.Parse(o.SocketOrigin)
	if err != nil {
		return &ConfigError{Message: "SocketOrigin is not a valid URL", Err: err}
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return &ConfigError{Message: "SocketOrigin must use the ws or wss scheme", Err: socketurl.ErrUnsupportedScheme}
	}

	if o.WireFormat != "" && o.WireFormat != "json" && o.WireFormat != "msgpack" {
		return &ConfigError{Message: "WireFormat must be \"json\" or \"msgpack\""}
	}

	return nil
}

func (o Options) buffer() time.Duration {
	if o.Buffer <= 0 {
		return DefaultBuffer
	}
	return o.Buffer
}

func (o Options) watchdogInterval() time.Duration {
	if o.WatchdogInterval <= 0 {
		return DefaultWatchdogInterval
	}
	return o.WatchdogInterval
}

func (o Options) pingDeadline() time.Duration {
	if o.PingDeadline <= 0 {
		return DefaultPingDeadline
	}
	return o.PingDeadline
}

func (o Options) wireFormat() string {
	if o.WireFormat == "" {
		return DefaultWireFormat
	}
	return o.WireFormat
}

// DefaultOptions returns the minimal Options a host needs to fill in to get
// a working client: the two fields Validate requires (UserID, SocketOrigin)
// plus RoomID, with every tunable at its documented default. Mirrors the teacher's DefaultConfig/ProductionConfig/
// DevelopmentConfig triad in pkg/core/config.go, narrowed to the one
// variant this client's tunables actually warrant.
func DefaultOptions(userID, roomID, socketOrigin string) Options {
	return Options{
		UserID:       userID,
		RoomID:       roomID,
		SocketOrigin: socketOrigin,
	}
}

// WithTestLatency returns a copy of o with MaxRandomPushLatency set, for
// tests and demos that want to exercise the thundering-herd jitter spec.md
// §4.6 step 3 describes without waiting on a real server's push timing.
func (o Options) WithTestLatency(d time.Duration) Options {
	o.MaxRandomPushLatency = d
	return o
}

func (o Options) maxPokeLag() time.Duration {
	if o.MaxPokeLag <= 0 {
		return DefaultMaxPokeLag
	}
	return o.MaxPokeLag
}

func (o Options) authToken() string {
	if o.GetAuth != nil {
		return o.GetAuth()
	}
	return o.Auth
}
