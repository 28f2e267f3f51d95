// Package socketurl builds the authenticated duplex-connection URL the
// connection state machine dials (spec.md §4.3, §6.1). Generalized from the
// teacher's WebSocketTransport.SetURL header/query assembly in
// transport/websocket.go (see DESIGN.md).
package socketurl

import (
	"errors"
	"net/url"
	"strconv"

	"github.com/gabrielmiguelok/pokesync/pkg/protocol"
)

// ErrUnsupportedScheme is returned when origin is not a websocket scheme.
// pkg/client wraps this as a ConfigError at the façade boundary (spec.md
// §4.3: "Fails with ConfigError if the origin scheme is not one of the two
// accepted websocket schemes").
var ErrUnsupportedScheme = errors.New("socketurl: origin must use the ws or wss scheme")

// Params carries everything the socket URL's query string encodes
// (spec.md §6.1).
type Params struct {
	ClientID               string
	RoomID                 string
	BaseCookie             *protocol.Version
	NowMillis              int64
	LastMutationIDReceived int64
	Auth                   string
}

// Build constructs the dial URL and sub-protocol for origin. The auth token
// is conveyed via the sub-protocol, URL-encoded; an empty token yields an
// empty sub-protocol (spec.md §4.3).
func Build(origin string, p Params) (dialURL string, subprotocol string, err error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", "", ErrUnsupportedScheme
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", "", ErrUnsupportedScheme
	}

	u.Path = "/connect"

	q := url.Values{}
	q.Set("clientID", p.ClientID)
	q.Set("roomID", p.RoomID)
	if p.BaseCookie != nil {
		q.Set("baseCookie", strconv.FormatInt(int64(*p.BaseCookie), 10))
	} else {
		q.Set("baseCookie", "")
	}
	q.Set("ts", strconv.FormatInt(p.NowMillis, 10))
	q.Set("lmid", strconv.FormatInt(p.LastMutationIDReceived, 10))
	u.RawQuery = q.Encode()

	if p.Auth == "" {
		return u.String(), "", nil
	}
	return u.String(), url.QueryEscape(p.Auth), nil
}
