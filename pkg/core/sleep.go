package core

import (
	"context"
	"time"
)

// Sleep pauses for d or until ctx is cancelled, whichever comes first,
// returning ctx.Err() in the latter case. Mirrors the cancellable-wait idiom
// the teacher uses in retry.go's backoff loop and transport/websocket.go's
// ping loop (see DESIGN.md), generalized into a standalone helper; the
// pusher's random push latency wait uses it.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deadline blocks until t is reached or ctx is cancelled, whichever comes
// first: a wait for an absolute wall-clock point (e.g. "5s since last
// pong") rather than a relative duration. The connection watchdog paces
// itself with its own timer and does not call it.
func Deadline(ctx context.Context, t time.Time) error {
	return Sleep(ctx, time.Until(t))
}
