package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gabrielmiguelok/pokesync/pkg/retry"
)

func TestBackoff_GrowsThenResets(t *testing.T) {
	b := NewBackoff(&retry.Config{
		InitialDelay: 10 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     1 * time.Second,
		Jitter:       0,
	})

	assert.Equal(t, 10*time.Millisecond, b.NextInterval())
	assert.Equal(t, 20*time.Millisecond, b.NextInterval())
	assert.Equal(t, 40*time.Millisecond, b.NextInterval())

	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.NextInterval(), "Reset must bring the next interval back to the first attempt's delay")
}

func TestBackoff_CapsAtMaxDelay(t *testing.T) {
	b := NewBackoff(&retry.Config{
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   10,
		MaxDelay:     250 * time.Millisecond,
		Jitter:       0,
	})

	assert.Equal(t, 100*time.Millisecond, b.NextInterval())
	assert.Equal(t, 250*time.Millisecond, b.NextInterval(), "second attempt's raw 1000ms must be capped at MaxDelay")
	assert.Equal(t, 250*time.Millisecond, b.NextInterval())
}
