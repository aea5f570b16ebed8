package buffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/c360/varnet/errors"
	"github.com/c360/varnet/metric"
)

func TestCircularBuffer_FIFO(t *testing.T) {
	buf, err := NewCircularBuffer[string](3)
	require.NoError(t, err)
	defer buf.Close()

	assert.True(t, buf.IsEmpty())
	assert.Equal(t, 3, buf.Capacity())

	require.NoError(t, buf.Write("first"))
	require.NoError(t, buf.Write("second"))

	head, ok := buf.Peek()
	require.True(t, ok)
	assert.Equal(t, "first", head)
	assert.Equal(t, 2, buf.Size())

	item, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, "first", item)

	item, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, "second", item)

	_, ok = buf.Read()
	assert.False(t, ok)
}

func TestCircularBuffer_DropOldest(t *testing.T) {
	var dropped []int
	buf, err := NewCircularBuffer[int](2, WithDropCallback[int](func(item int) {
		dropped = append(dropped, item)
	}))
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		require.NoError(t, buf.Write(i))
	}

	assert.Equal(t, []int{1, 2}, dropped)
	assert.Equal(t, []int{3, 4}, buf.ReadBatch(10))
	assert.Equal(t, int64(2), buf.Stats().Drops())
	assert.Equal(t, int64(4), buf.Stats().Writes())
	assert.InDelta(t, 0.5, buf.Stats().DropRate(), 1e-9)
}

func TestCircularBuffer_DropNewest(t *testing.T) {
	var dropped []int
	buf, err := NewCircularBuffer[int](2,
		WithOverflowPolicy[int](DropNewest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, buf.Write(i))
	}

	assert.Equal(t, []int{3}, dropped)
	assert.Equal(t, []int{1, 2}, buf.ReadBatch(2))
}

func TestCircularBuffer_BlockUntilRead(t *testing.T) {
	buf, err := NewCircularBuffer[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)
	require.NoError(t, buf.Write(1))

	done := make(chan error, 1)
	go func() { done <- buf.Write(2) }()

	select {
	case <-done:
		t.Fatal("write should block while the buffer is full")
	case <-time.After(20 * time.Millisecond):
	}

	item, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, item)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked write was not released")
	}

	item, _ = buf.Read()
	assert.Equal(t, 2, item)
}

func TestCircularBuffer_BlockCancelled(t *testing.T) {
	buf, err := NewCircularBuffer[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)
	require.NoError(t, buf.Write(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, buf.WriteContext(ctx, 2), context.DeadlineExceeded)
	assert.Equal(t, 1, buf.Size())
}

func TestCircularBuffer_CloseReleasesWriters(t *testing.T) {
	buf, err := NewCircularBuffer[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)
	require.NoError(t, buf.Write(1))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := buf.Write(2)
		assert.ErrorIs(t, err, cerrors.ErrAlreadyStopped)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, buf.Close())
	wg.Wait()

	assert.ErrorIs(t, buf.Write(3), cerrors.ErrAlreadyStopped)
}

func TestCircularBuffer_ClearCallsDropCallback(t *testing.T) {
	count := 0
	buf, err := NewCircularBuffer[int](4, WithDropCallback[int](func(int) { count++ }))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Write(i))
	}
	buf.Clear()

	assert.Equal(t, 3, count)
	assert.True(t, buf.IsEmpty())
	assert.Equal(t, int64(3), buf.Stats().MaxSize())
}

func TestCircularBuffer_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	buf, err := NewCircularBuffer[int](1, WithMetrics[int](registry, "q1"))
	require.NoError(t, err)
	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))

	_, err = NewCircularBuffer[int](1, WithMetrics[int](registry, "q1"))
	assert.Error(t, err, "duplicate prefix must fail registration")
}

func TestParseOverflowPolicy(t *testing.T) {
	tests := []struct {
		in   string
		want OverflowPolicy
		ok   bool
	}{
		{"", DropOldest, true},
		{"drop_oldest", DropOldest, true},
		{"drop_newest", DropNewest, true},
		{"block", Block, true},
		{"sometimes", DropOldest, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseOverflowPolicy(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
