package testable

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/transport"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// runConsumer mimics a module main loop reading q under the scheduler lock.
func runConsumer(ctx context.Context, h *Handle, q *transport.Queue, mu *sync.Mutex, got *[]int) {
	defer h.Close()
	if err := h.Lock(ctx); err != nil {
		return
	}
	for {
		h.Unlock()
		s, done, err := q.Take(ctx)
		if err != nil {
			return
		}
		if err := h.Lock(ctx); err != nil {
			return
		}
		done()
		mu.Lock()
		*got = append(*got, s.Value.(int))
		mu.Unlock()
	}
}

func TestScheduler_DisabledIsNoop(t *testing.T) {
	s := New(Config{})
	h := s.Handle("/M")
	require.NoError(t, h.Lock(testContext(t)))
	h.Unlock()
	assert.False(t, h.Held())
	assert.False(t, s.Enabled())
	assert.False(t, s.CanStep())

	err := s.Step(testContext(t))
	require.Error(t, err)
	assert.False(t, errors.IsStall(err))
}

func TestScheduler_StepWithoutStimulusStalls(t *testing.T) {
	s := New(Config{PollInterval: time.Millisecond, StallAttempts: 5})
	s.Enable()
	assert.False(t, s.CanStep())

	err := s.Step(testContext(t))
	require.Error(t, err)
	assert.True(t, errors.IsStall(err))
	assert.Equal(t, errors.ErrorStall, errors.Classify(err))
	assert.False(t, errors.IsTransient(err))
	assert.False(t, errors.IsFatal(err))

	var stall *StallError
	require.True(t, stderrors.As(err, &stall))
	assert.Contains(t, stall.Reason, "missing")
	assert.Equal(t, Stalled, s.State())
}

func TestScheduler_StepDeliversOneValue(t *testing.T) {
	ctx := testContext(t)
	s := New(Config{PollInterval: time.Millisecond, StallAttempts: 500})
	s.Enable()

	q, err := transport.NewQueue(transport.QueueConfig{Name: "/M/in", Capacity: 4, Observer: s})
	require.NoError(t, err)

	var mu sync.Mutex
	var got []int
	go runConsumer(ctx, s.Handle("/M"), q, &mu, &got)

	// let the module reach its first receive
	require.NoError(t, s.Step(ctx))
	assert.False(t, s.CanStep())

	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Write(ctx, transport.Sample{Value: i}))
		mu.Lock()
		assert.Len(t, got, i-1, "nothing runs while the driver holds the lock")
		mu.Unlock()

		require.NoError(t, s.Step(ctx))
		mu.Lock()
		assert.Len(t, got, i)
		mu.Unlock()
		assert.Equal(t, int64(0), s.Pending())
	}
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.GreaterOrEqual(t, s.Releases(), uint64(4))
}

func TestScheduler_NoProgressStalls(t *testing.T) {
	s := New(Config{PollInterval: time.Millisecond, StallAttempts: 3})
	s.Enable()
	s.Enqueued("/orphan")
	assert.True(t, s.CanStep())

	err := s.Step(testContext(t))
	require.Error(t, err)
	var stall *StallError
	require.True(t, stderrors.As(err, &stall))
	assert.Equal(t, map[string]int64{"/orphan": 1}, stall.Pending)
	assert.Contains(t, err.Error(), "/orphan=1")
}

func TestScheduler_HeldLockStalls(t *testing.T) {
	ctx := testContext(t)
	s := New(Config{PollInterval: time.Millisecond, StallAttempts: 20})
	s.Enable()

	h := s.Handle("/P")
	release := make(chan struct{})
	go func() {
		defer h.Close()
		if err := h.Lock(ctx); err != nil {
			return
		}
		// blocks without parking
		<-release
	}()

	start := time.Now()
	err := s.Step(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsStall(err))
	var stall *StallError
	require.True(t, stderrors.As(err, &stall))
	assert.Equal(t, "/P", stall.Holder)
	assert.Contains(t, stall.Busy, "/P")
	assert.Contains(t, err.Error(), "holder: /P")
	assert.Less(t, time.Since(start), 2*time.Second)

	close(release)
	require.Eventually(t, func() bool { return !h.Held() }, time.Second, time.Millisecond)

	// the driver takes the lock back on the next step
	err = s.Step(ctx)
	require.True(t, stderrors.As(err, &stall))
	assert.Contains(t, stall.Reason, "missing")
	assert.Empty(t, stall.Holder)
}

func TestScheduler_DeviceInitCounts(t *testing.T) {
	s := New(Config{PollInterval: time.Millisecond, StallAttempts: 1000})
	s.Enable()
	s.BeginDeviceInit()
	assert.True(t, s.CanStep())

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.EndDeviceInit()
	}()
	require.NoError(t, s.Step(testContext(t)))
	assert.False(t, s.CanStep())
}

func TestScheduler_LockHonoursCancellation(t *testing.T) {
	s := New(Config{})
	s.Enable()
	h := s.Handle("/M")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.Lock(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, h.Held())
}

func TestScheduler_HandleIsPerName(t *testing.T) {
	s := New(Config{})
	assert.Same(t, s.Handle("/A"), s.Handle("/A"))
	assert.NotSame(t, s.Handle("/A"), s.Handle("/B"))
	assert.Equal(t, "/B", s.Handle("/B").Name())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "not-running", NotRunning.String())
	assert.Equal(t, "released", Released.String())
	assert.Equal(t, "one-thread-active", OneThreadActive.String())
	assert.Equal(t, "stalled", Stalled.String())
}
