package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nas-web/internal/httperror"
)

type failingStore struct {
	gets, sets atomic.Int32
}

func (f *failingStore) Get(context.Context, string) (string, bool, error) {
	f.gets.Add(1)
	return "", false, errors.New("connection refused")
}

func (f *failingStore) SetWithTTL(context.Context, string, string, time.Duration) error {
	f.sets.Add(1)
	return errors.New("connection refused")
}

func (f *failingStore) Close() error { return nil }

func TestKey(t *testing.T) {
	assert.Equal(t, "user_7:thumbnail:abc:500", Key("7", "thumbnail", "abc", "500"))
	assert.Equal(t, "user_7:streams:abc", Key("7", "streams", "abc", ""))
	assert.Equal(t, "thumbnail", kindOf(Key("7", "thumbnail", "abc", "500")))
	assert.Equal(t, "unknown", kindOf("plain"))
}

func TestGetOrComputeSingleFlight(t *testing.T) {
	c := New(NewMemoryStore())
	release := make(chan struct{})
	var calls atomic.Int32

	compute := func(context.Context) (Value, error) {
		calls.Add(1)
		<-release
		return Thumbnail{Mime: "image/png", Data: []byte("frame")}, nil
	}

	const callers = 8
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
		results [callers]Value
	)
	started.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			v, err := c.GetOrCompute(context.Background(), Key("1", "thumbnail", "fp", "500"), time.Hour, compute)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, v := range results {
		assert.Equal(t, results[0], v)
	}
}

func TestGetOrComputeServesFromStore(t *testing.T) {
	store := NewMemoryStore()
	c := New(store)
	key := Key("1", "thumbnail", "fp1", "500")
	var calls int
	compute := func(context.Context) (Value, error) {
		calls++
		return Thumbnail{Mime: "image/png", Data: []byte{1, 2, 3}}, nil
	}

	first, err := c.GetOrCompute(context.Background(), key, time.Hour, compute)
	require.NoError(t, err)
	second, err := c.GetOrCompute(context.Background(), key, time.Hour, compute)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)

	// a restarted process sees the stored entry
	restarted := New(store)
	_, err = restarted.GetOrCompute(context.Background(), key, time.Hour, compute)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Zero(t, restarted.Computations())
}

func TestGetOrComputeFingerprintChange(t *testing.T) {
	c := New(NewMemoryStore())
	var calls int
	compute := func(context.Context) (Value, error) {
		calls++
		return String("image/jpeg"), nil
	}

	_, err := c.GetOrCompute(context.Background(), Key("1", "mime", "before", ""), time.Hour, compute)
	require.NoError(t, err)
	_, err = c.GetOrCompute(context.Background(), Key("1", "mime", "after", ""), time.Hour, compute)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestGetOrComputeErrors(t *testing.T) {
	store := NewMemoryStore()
	c := New(store)

	t.Run("generic errors are not stored", func(t *testing.T) {
		key := Key("1", "thumbnail", "flaky", "500")
		var calls int
		compute := func(context.Context) (Value, error) {
			calls++
			return nil, errors.New("ffmpeg exited with code 1")
		}

		for i := 0; i < 2; i++ {
			v, err := c.GetOrCompute(context.Background(), key, time.Hour, compute)
			assert.EqualError(t, err, "ffmpeg exited with code 1")
			assert.IsType(t, Error{}, v)
		}
		assert.Equal(t, 2, calls)
		_, ok, _ := store.Get(context.Background(), key)
		assert.False(t, ok)
	})

	t.Run("http errors are stored", func(t *testing.T) {
		key := Key("1", "thumbnail", "zip", "500")
		var calls int
		compute := func(context.Context) (Value, error) {
			calls++
			return nil, httperror.UnsupportedMediaType("application/zip")
		}

		for i := 0; i < 2; i++ {
			_, err := c.GetOrCompute(context.Background(), key, time.Hour, compute)
			var he *httperror.Error
			require.ErrorAs(t, err, &he)
			assert.Equal(t, 415, he.Status)
		}
		assert.Equal(t, 1, calls)
	})

	t.Run("nil value becomes empty", func(t *testing.T) {
		v, err := c.GetOrCompute(context.Background(), Key("1", "thumbnail", "none", ""), time.Hour,
			func(context.Context) (Value, error) { return nil, nil })
		require.NoError(t, err)
		assert.Equal(t, Empty{}, v)
	})
}

func TestGetOrComputeStoreFailureIsMiss(t *testing.T) {
	store := &failingStore{}
	c := New(store)

	v, err := c.GetOrCompute(context.Background(), Key("1", "streams", "fp", ""), time.Hour,
		func(context.Context) (Value, error) { return JSON(`{"streams":[]}`), nil })
	require.NoError(t, err)
	assert.Equal(t, JSON(`{"streams":[]}`), v)
	assert.EqualValues(t, 1, store.gets.Load())
	assert.EqualValues(t, 1, store.sets.Load())
}

func TestGetOrComputeCorruptRecordIsMiss(t *testing.T) {
	store := NewMemoryStore()
	key := Key("1", "mime", "fp", "")
	require.NoError(t, store.SetWithTTL(context.Background(), key, "garbage", time.Hour))

	c := New(store)
	v, err := c.GetOrCompute(context.Background(), key, time.Hour,
		func(context.Context) (Value, error) { return String("text/plain"), nil })
	require.NoError(t, err)
	assert.Equal(t, String("text/plain"), v)

	raw, ok, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"type":"string","content":"text/plain"}`, raw)
}

func TestGetOrComputeWaiterCancel(t *testing.T) {
	store := NewMemoryStore()
	c := New(store)
	key := Key("1", "thumbnail", "slow", "")
	release := make(chan struct{})
	finished := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer close(finished)
		_, err := c.GetOrCompute(ctx, key, time.Hour, func(ctx context.Context) (Value, error) {
			<-release
			assert.NoError(t, ctx.Err(), "compute must not see the caller's cancellation")
			return String("done"), nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-finished
	close(release)

	// the computation still completes and lands in the store
	require.Eventually(t, func() bool {
		_, ok, _ := store.Get(context.Background(), key)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryStoreTTL(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.SetWithTTL(ctx, "k", "v", time.Minute))
	require.NoError(t, store.SetWithTTL(ctx, "forever", "v", 0))

	v, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(time.Minute)
	_, ok, _ = store.Get(ctx, "k")
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, "forever")
	assert.True(t, ok)
	assert.Equal(t, 1, store.Len())
}

func TestRedisStoreRequiresAddr(t *testing.T) {
	_, err := NewRedisStore(RedisConfig{Addrs: []string{" "}})
	assert.Error(t, err)
}

func TestRedisStoreUnreachableIsMiss(t *testing.T) {
	store, err := NewRedisStore(RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	c := New(store)
	t.Cleanup(func() { _ = c.Close() })

	v, err := c.GetOrCompute(context.Background(), Key("1", "mime", "fp", ""), time.Hour,
		func(context.Context) (Value, error) { return String("image/png"), nil })
	require.NoError(t, err)
	assert.Equal(t, String("image/png"), v)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("NASWEB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("NASWEB_TEST_REDIS_ADDR not set")
	}
	store, err := NewRedisStore(RedisConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	key := Key("test", "mime", time.Now().Format(time.RFC3339Nano), "")
	_, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetWithTTL(ctx, key, "value", time.Minute))
	v, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "value", v)
}
