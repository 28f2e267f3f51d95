package client

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrielmiguelok/pokesync/pkg/connection"
	"github.com/gabrielmiguelok/pokesync/pkg/store"
	"github.com/gabrielmiguelok/pokesync/pkg/transport"
)

// fakeDial never touches a real socket, so these tests can construct a live
// Client (which connects eagerly, spec.md §4.8) without network access.
func fakeDial(ctx context.Context, url, subprotocol string, cfg *transport.Config) (transport.Transport, error) {
	return transport.NewFake(), nil
}

func TestNew_RejectsMissingUserID(t *testing.T) {
	st := store.NewMemory("client-1", "")
	_, err := New(st, Options{SocketOrigin: "wss://example.com"})
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestNew_RejectsUnsupportedScheme(t *testing.T) {
	st := store.NewMemory("client-1", "")
	_, err := New(st, Options{UserID: "u1", SocketOrigin: "http://example.com"})
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestNew_RegistersMutatorsAndDerivesIDBName(t *testing.T) {
	st := store.NewMemory("client-1", "")
	called := false

	c, err := New(st, Options{
		UserID:           "u1",
		RoomID:           "room-9",
		SocketOrigin:     "wss://example.com",
		WatchdogInterval: time.Hour,
		Mutators: map[string]store.MutatorFunc{
			"increment": func(ctx context.Context, args json.RawMessage) (any, error) {
				called = true
				return nil, nil
			},
		},
	}, connection.WithDialFunc(fakeDial))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Mutate(context.Background(), "increment", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, called)

	assert.Equal(t, "pokesync-room-9-u1", c.IDBName())
	assert.Equal(t, "client-1", c.ClientID())
	assert.False(t, c.Closed())
}

func TestClient_CloseIsIdempotentAndClosesStore(t *testing.T) {
	st := store.NewMemory("client-1", "")
	c, err := New(st, Options{
		UserID:           "u1",
		SocketOrigin:     "wss://example.com",
		WatchdogInterval: time.Hour,
	}, connection.WithDialFunc(fakeDial))
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, c.Closed())

	_, err = st.Query(context.Background(), nil)
	assert.ErrorIs(t, err, store.ErrStoreClosed)
}
