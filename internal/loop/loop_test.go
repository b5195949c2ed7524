package loop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b-open-io/cellindex/ulogger"
)

const wait = 2 * time.Second

func TestLoopTicksUntilStopped(t *testing.T) {
	var ticks atomic.Int32
	l := New("test", time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return errors.New("logged and ignored")
	}, ulogger.TestLogger{})

	assert.False(t, l.Running())
	l.Start(context.Background())
	l.Start(context.Background())
	assert.True(t, l.Running())

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, wait, time.Millisecond)
	l.Stop()
	assert.False(t, l.Running())

	time.Sleep(20 * time.Millisecond)
	stopped := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, ticks.Load())
}

func TestLoopTicksNeverOverlap(t *testing.T) {
	var active, maxActive atomic.Int32
	var ticks atomic.Int32
	l := New("test", 0, func(ctx context.Context) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		ticks.Add(1)
		return nil
	}, ulogger.TestLogger{})

	for range 5 {
		l.Start(context.Background())
		time.Sleep(3 * time.Millisecond)
		l.Stop()
	}
	l.Start(context.Background())
	require.Eventually(t, func() bool { return ticks.Load() >= 10 }, wait, time.Millisecond)
	l.Stop()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestLoopCancelAbortsTick(t *testing.T) {
	started := make(chan struct{})
	aborted := make(chan struct{})
	l := New("test", time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(aborted)
		return ctx.Err()
	}, ulogger.TestLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)
	<-started
	cancel()

	select {
	case <-aborted:
	case <-time.After(wait):
		t.Fatal("tick not cancelled")
	}
	require.Eventually(t, func() bool { return !l.Running() }, wait, time.Millisecond)
}

func TestLoopPanics(t *testing.T) {
	var ticks atomic.Int32
	tick := func(ctx context.Context) error {
		if ticks.Add(1) == 1 {
			panic("boom")
		}
		return nil
	}

	once := New("once", time.Millisecond, tick, ulogger.TestLogger{})
	once.Start(context.Background())
	require.Eventually(t, func() bool { return !once.Running() }, wait, time.Millisecond)
	assert.Equal(t, int32(1), ticks.Load())

	ticks.Store(0)
	forever := New("forever", time.Millisecond, tick, ulogger.TestLogger{})
	forever.StartForever(context.Background())
	defer forever.Stop()
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, wait, time.Millisecond)
	assert.True(t, forever.Running())
}
