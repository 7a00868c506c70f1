package flight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct{ n int }

func TestConcurrentGetsShareOneLoad(t *testing.T) {
	c := New[*payload]()
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	load := func(context.Context) (*payload, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return &payload{n: 42}, nil
	}

	const n = 16
	results := make([]*payload, n)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := c.Get(context.Background(), "base/page", load)
		assert.NoError(t, err)
		results[0] = v
	}()
	<-started
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(context.Background(), "base/page", load)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestErrorsAreNotCached(t *testing.T) {
	c := New[int]()
	boom := errors.New("boom")
	calls := 0
	load := func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, boom
		}
		return 7, nil
	}

	_, err := c.Get(context.Background(), "k", load)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	v, err := c.Get(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 2, calls)
}

func TestInvalidateAndDisable(t *testing.T) {
	c := New[int]()
	calls := 0
	load := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}
	ctx := context.Background()

	v1, _ := c.Get(ctx, "k", load)
	v2, _ := c.Get(ctx, "k", load)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, calls)

	c.Invalidate()
	v3, _ := c.Get(ctx, "k", load)
	assert.Equal(t, 2, v3)

	c.SetEnabled(false)
	assert.False(t, c.Enabled())
	c.Get(ctx, "k", load)
	c.Get(ctx, "k", load)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 0, c.Len())

	c.SetEnabled(true)
	c.Get(ctx, "k", load)
	c.Get(ctx, "k", load)
	assert.Equal(t, 5, calls)
}

func TestWaiterRetriesAfterCancelledLoad(t *testing.T) {
	c := New[string]()
	started := make(chan struct{})
	ctxA, cancelA := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.Get(ctxA, "k", func(ctx context.Context) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
	}()
	<-started

	done := make(chan struct{})
	var got string
	var gotErr error
	go func() {
		defer close(done)
		got, gotErr = c.Get(context.Background(), "k", func(context.Context) (string, error) {
			return "fresh", nil
		})
	}()
	cancelA()
	wg.Wait()
	<-done

	require.NoError(t, gotErr)
	assert.Equal(t, "fresh", got)
}

func TestWaiterGivesUpWithItsOwnContext(t *testing.T) {
	c := New[int]()
	started := make(chan struct{})
	release := make(chan struct{})
	go c.Get(context.Background(), "k", func(context.Context) (int, error) {
		close(started)
		<-release
		return 1, nil
	})
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, "k", func(context.Context) (int, error) { return 2, nil })
	assert.ErrorIs(t, err, context.Canceled)
	close(release)
}

func TestPanickingLoadBecomesError(t *testing.T) {
	c := New[int]()
	_, err := c.Get(context.Background(), "k", func(context.Context) (int, error) {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, 0, c.Len())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	c := New[int](WithMetrics(m))
	ctx := context.Background()
	ok := func(context.Context) (int, error) { return 1, nil }

	c.Get(ctx, "base/a", ok)
	c.Get(ctx, "base/a", ok)
	c.Get(ctx, "include/b", func(context.Context) (int, error) { return 0, errors.New("x") })

	assert.Equal(t, 1.0, testutil.ToFloat64(m.loads.WithLabelValues("base")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hits.WithLabelValues("base")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loadErrors.WithLabelValues("include")))
	assert.Equal(t, "default", kindOf("plain"))
}
