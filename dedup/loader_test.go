package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderSharesInflightCall(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})

	l := NewLoader(func(ctx context.Context, key string) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return "tx:" + key, nil
	})

	var wg sync.WaitGroup
	results := make([]string, 5)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = l.Load(context.Background(), "0xaa")
	}()
	<-started

	for i := 1; i < len(results); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = l.Load(context.Background(), "0xaa")
		}(i)
	}

	close(release)
	wg.Wait()

	// late callers either joined the first load or started a fresh one after it finished
	assert.LessOrEqual(t, calls.Load(), int32(len(results)))
	for _, r := range results {
		assert.Equal(t, "tx:0xaa", r)
	}
}

func TestLoaderWaiterHonoursContext(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	l := NewLoader(func(ctx context.Context, key int) (int, error) {
		close(started)
		<-release
		return key, nil
	})

	go l.Load(context.Background(), 1)
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Load(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
	close(release)
}
