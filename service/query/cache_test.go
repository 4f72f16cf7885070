package query

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(ttl time.Duration) *Cache {
	return NewCache(16, ttl, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func counter(value int, calls *atomic.Int32) func(context.Context) (int, error) {
	return func(context.Context) (int, error) {
		calls.Add(1)
		return value, nil
	}
}

func TestGet_CachesLoadedValue(t *testing.T) {
	c := newTestCache(time.Minute)
	key := NewKey("0xToken", "balanceOf", "0xAlice")
	var calls atomic.Int32

	r := Get(context.Background(), c, key, counter(100, &calls))
	require.True(t, r.Ok())
	assert.Equal(t, 100, r.Value)

	r = Get(context.Background(), c, key, counter(200, &calls))
	assert.Equal(t, 100, r.Value)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGet_KeysIncludeArguments(t *testing.T) {
	c := newTestCache(time.Minute)
	var calls atomic.Int32

	a := Get(context.Background(), c, NewKey("0xToken", "balanceOf", "0xA"), counter(1, &calls))
	b := Get(context.Background(), c, NewKey("0xToken", "balanceOf", "0xB"), counter(2, &calls))

	assert.Equal(t, 1, a.Value)
	assert.Equal(t, 2, b.Value)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGet_ErrorsAreNotCached(t *testing.T) {
	c := newTestCache(time.Minute)
	key := NewKey("0xToken", "totalSupply")
	boom := errors.New("boom")

	r := Get(context.Background(), c, key, func(context.Context) (int, error) { return 0, boom })
	assert.Equal(t, Failed, r.Status)
	assert.ErrorIs(t, r.Err, boom)

	var calls atomic.Int32
	r = Get(context.Background(), c, key, counter(5, &calls))
	assert.True(t, r.Ok())
	assert.Equal(t, 5, r.Value)
}

func TestGet_ExpiresAfterStaleTime(t *testing.T) {
	c := newTestCache(20 * time.Millisecond)
	key := NewKey("0xToken", "totalSupply")
	var calls atomic.Int32

	Get(context.Background(), c, key, counter(1, &calls))
	time.Sleep(60 * time.Millisecond)
	r := Get(context.Background(), c, key, counter(2, &calls))

	assert.Equal(t, 2, r.Value)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGet_ConcurrentMissesShareOneFetch(t *testing.T) {
	c := newTestCache(time.Minute)
	key := NewKey("0xToken", "property")
	var calls atomic.Int32
	release := make(chan struct{})

	fetch := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}

	var wg sync.WaitGroup
	results := make([]Result[int], 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Get(context.Background(), c, key, fetch)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, 7, r.Value)
	}
}

func TestGet_CallerCancellation(t *testing.T) {
	c := newTestCache(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := Get(ctx, c, NewKey("0xToken", "name"), func(context.Context) (string, error) {
		time.Sleep(10 * time.Millisecond)
		return "x", nil
	})
	assert.Equal(t, Failed, r.Status)
	assert.ErrorIs(t, r.Err, context.Canceled)
}

func TestInvalidateFunctions(t *testing.T) {
	c := newTestCache(time.Minute)
	var calls atomic.Int32
	ctx := context.Background()

	Get(ctx, c, NewKey("0xToken", "balanceOf", "0xA"), counter(1, &calls))
	Get(ctx, c, NewKey("0xToken", "balanceOf", "0xB"), counter(1, &calls))
	Get(ctx, c, NewKey("0xToken", "totalSupply"), counter(1, &calls))
	Get(ctx, c, NewKey("0xRegistry", "balanceOf", "0xA"), counter(1, &calls))

	dropped := c.InvalidateFunctions("0xTOKEN", "balanceOf")
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 2, c.Len())

	assert.True(t, Peek[int](c, NewKey("0xToken", "totalSupply")).Ok())
	assert.False(t, Peek[int](c, NewKey("0xToken", "balanceOf", "0xA")).Ok())
}

func TestReload(t *testing.T) {
	c := newTestCache(time.Minute)
	var calls atomic.Int32
	ctx := context.Background()
	key := NewKey("0xToken", "admin")

	Get(ctx, c, key, counter(1, &calls))

	failed := Reload(ctx, c, key, func(context.Context) (int, error) {
		return 0, errors.New("node down")
	})
	assert.Equal(t, Failed, failed.Status)
	kept := Peek[int](c, key)
	require.True(t, kept.Ok())
	assert.Equal(t, 1, kept.Value)

	fresh := Reload(ctx, c, key, counter(2, &calls))
	require.True(t, fresh.Ok())
	assert.Equal(t, 2, Peek[int](c, key).Value)
	assert.Equal(t, int32(2), calls.Load())

	// a reload on an empty cache stores the value too
	other := NewKey("0xToken", "totalSupply")
	Reload(ctx, c, other, counter(3, &calls))
	assert.Equal(t, 3, Peek[int](c, other).Value)
}

func TestInvalidate_DropsInFlightResult(t *testing.T) {
	c := newTestCache(time.Minute)
	key := NewKey("0xToken", "frozen", "0xA")
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan Result[bool])
	go func() {
		done <- Get(context.Background(), c, key, func(context.Context) (bool, error) {
			close(started)
			<-release
			return false, nil
		})
	}()

	<-started
	c.Invalidate(func(k Key) bool { return k.Function == "frozen" })
	close(release)

	r := <-done
	assert.True(t, r.Ok())
	assert.False(t, Peek[bool](c, key).Ok(), "stale in-flight result must not be cached")
}

func TestInvalidateAll(t *testing.T) {
	c := newTestCache(time.Minute)
	var calls atomic.Int32
	Get(context.Background(), c, NewKey("0xToken", "name"), counter(1, &calls))

	c.InvalidateAll()
	assert.Equal(t, 0, c.Len())
}

func TestResultHelpers(t *testing.T) {
	idle := Idle[int]()
	assert.Equal(t, NotLoaded, idle.Status)
	assert.Equal(t, 9, idle.OrElse(9))

	ok := Success(3)
	v, loaded := ok.Get()
	assert.True(t, loaded)
	assert.Equal(t, 3, v)

	doubled := Map(ok, func(n int) int { return n * 2 })
	assert.Equal(t, 6, doubled.Value)

	failed := Map(Failure[int](errors.New("x")), func(n int) string { return "" })
	assert.Equal(t, Failed, failed.Status)

	assert.Equal(t, NotLoaded, Map(idle, func(n int) int { return n }).Status)
}

func TestKey(t *testing.T) {
	k := NewKey("0xABC", "balanceOf", "0xDEF")
	assert.Equal(t, "0xabc.balanceOf(0xdef)", k.String())
	assert.True(t, k.HasArg("0xdEf"))
	assert.False(t, k.HasArg("0x123"))
}
