package client

import (
	"errors"
	"fmt"
	"strings"
)

// The client surfaces exactly four error kinds (spec.md §7), mirroring the
// teacher's practice of wrapping lower-level failures in a small named
// taxonomy (pkg/core/errors.go) rather than leaking raw transport/codec
// errors to the host.

// ConfigError means construction-time misconfiguration: an invalid Options
// value. Always fatal — the client never attempts to self-correct a
// ConfigError, since there is no connection to retry (spec.md §7).
type ConfigError struct {
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pokesync: config error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("pokesync: config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ProtocolError means the wire contract was violated: an unrecognized
// downstream tag, a malformed envelope, or a server-sent fatal error frame.
// Recoverable — the connection machine has already disconnected and will
// redial on the next watchdog tick (spec.md §4.4, §7).
type ProtocolError struct {
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pokesync: protocol error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("pokesync: protocol error: %s", e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError means the underlying socket misbehaved: dial failure,
// unexpected close, or a missed ping deadline. Recoverable the same way as
// ProtocolError — the machine redials on its own (spec.md §7).
type TransportError struct {
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pokesync: transport error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("pokesync: transport error: %s", e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StoreError wraps a failure from the embedded local replica store. It is
// only recoverable when it carries the base-cookie-mismatch signature
// (spec.md §3, §8 S3); any other store error is treated as a genuine local
// replica corruption the host should investigate.
type StoreError struct {
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pokesync: store error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("pokesync: store error: %s", e.Message)
}

func (e *StoreError) Unwrap() error { return e.Err }

const baseCookieMismatchSignature = "unexpected base cookie for poke"

// IsRecoverableStoreError reports whether err is the one StoreError variant
// the client recovers from automatically: a base-cookie mismatch, which
// the connection machine resolves by disconnecting and resyncing from the
// server's current cookie (spec.md §8 S3).
func IsRecoverableStoreError(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return strings.Contains(se.Error(), baseCookieMismatchSignature)
	}
	return strings.Contains(err.Error(), baseCookieMismatchSignature)
}

// classifyFatal turns a connection.Config.OnFatalError (kind, err) pair into
// one of the taxonomy types above, for the OnError callback (SPEC_FULL
// §4.8).
func classifyFatal(kind string, err error) error {
	switch kind {
	case "protocol":
		return &ProtocolError{Message: "connection protocol violation", Err: err}
	case "transport":
		return &TransportError{Message: "connection transport failure", Err: err}
	case "store":
		return &StoreError{Message: "local replica rejected a server update", Err: err}
	default:
		return err
	}
}
