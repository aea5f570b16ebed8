package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/transport"
)

func writeSample(v any) transport.Sample {
	return transport.Sample{Value: v}
}

func TestDummy(t *testing.T) {
	ctx := context.Background()
	d := NewDummy(map[string]any{"a": 1, "b": 2})

	_, err := d.Read(ctx, "a")
	assert.ErrorIs(t, err, errors.ErrBackendClosed)

	require.NoError(t, d.Open(ctx))
	assert.True(t, d.IsFunctional())
	v, err := d.Read(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = d.Read(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrUnknownVariable)

	require.NoError(t, d.Write(ctx, "b", 3))
	got, _ := d.Get("b")
	assert.Equal(t, 3, got)

	d.FailReads(true)
	_, err = d.Read(ctx, "a")
	assert.ErrorIs(t, err, errors.ErrBackendFault)
	assert.True(t, errors.IsTransient(err))
	assert.False(t, d.IsFunctional(), "an injected fault closes the backend")

	assert.Equal(t, []string{"a", "b"}, d.Registers())
	reads, writes := d.Transfers()
	assert.Equal(t, 4, reads)
	assert.Equal(t, 1, writes)
}
