package perception

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDrainsFakeSourceIntoBuffer(t *testing.T) {
	src := &FakeSource{Records_: []RawRecord{
		{Kind: KindKeyboard, Timestamp: time.Now(), Text: "a"},
		{Kind: KindMouse, Timestamp: time.Now(), Text: "b"},
	}}
	buf := New()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := Run(ctx, src, buf)
	require.NoError(t, err)
	assert.Equal(t, 2, buf.Len())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	src := &FakeSource{Records_: []RawRecord{{Kind: KindKeyboard, Timestamp: time.Now()}}}
	buf := New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Run(ctx, src, buf)
	assert.Error(t, err)
}
