// Package puller implements the one-shot base-cookie extraction trick
// spec.md §4.7 describes: the store exposes no direct getter for its
// current cookie, so the shim transiently installs a puller that captures
// the cookie from the pull request body and returns a stub response that
// makes no real progress. Grounded on the teacher's single-fire callback
// idiom in pkg/core/circuit_breaker.go's OnStateChange (see DESIGN.md).
package puller

import (
	"context"

	"github.com/gabrielmiguelok/pokesync/pkg/core"
	"github.com/gabrielmiguelok/pokesync/pkg/protocol"
	"github.com/gabrielmiguelok/pokesync/pkg/store"
)

// CurrentBaseCookie triggers exactly one pull against st and returns the
// base cookie it reported, without letting the store advance its replica.
// Called once per connect (spec.md §4.4: "Side effects: read base cookie
// via the Puller Shim").
func CurrentBaseCookie(ctx context.Context, st store.Store) (*protocol.Version, error) {
	captured := core.NewDeferred[*protocol.Version]()

	st.SetPuller(func(ctx context.Context, req store.PullRequest) (store.PullResponse, error) {
		captured.Resolve(req.BaseCookie)

		resp := store.PullResponse{Patch: nil}
		if req.BaseCookie != nil {
			resp.Cookie = *req.BaseCookie
		}
		return resp, nil
	})
	defer st.SetPuller(nil)

	if err := st.Pull(ctx); err != nil {
		return nil, err
	}

	return captured.Wait()
}
