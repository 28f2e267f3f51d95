package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrielmiguelok/pokesync/pkg/protocol"
)

func TestRecorder_RecordsPokePullMutate(t *testing.T) {
	mem := NewMemory("client-1", "")
	mem.AddMutator("noop", func(ctx context.Context, args json.RawMessage) (any, error) {
		return "ok", nil
	})
	rec := NewRecorder(mem)

	cookie := protocol.Version(1)
	err := rec.Poke(context.Background(), CombinedPoke{
		BaseCookie: nil,
		PullResponse: PullResponse{
			Cookie:         cookie,
			LastMutationID: 0,
			Patch:          nil,
		},
	})
	require.NoError(t, err)

	require.NoError(t, rec.Pull(context.Background()))

	result, err := rec.Mutate(context.Background(), "noop", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	assert.Len(t, rec.Pokes(), 1)
	assert.Equal(t, 1, rec.PullCount())
	assert.Equal(t, []RecordedMutate{{Name: "noop", Args: json.RawMessage(`{}`)}}, rec.Mutates())

	// Delegated methods pass through to the wrapped store untouched.
	assert.Equal(t, "client-1", rec.ClientID())
}
