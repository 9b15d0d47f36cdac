package guard

import (
    "context"
    "os"
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "github.com/google/uuid"
    redis "github.com/redis/go-redis/v9"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestLocalGuard(t *testing.T) {
    g := New(nil, time.Minute)
    ctx := context.Background()

    release, err := g.Acquire(ctx, "abc")
    require.NoError(t, err)
    assert.True(t, g.Held("abc"))

    _, err = g.Acquire(ctx, "abc")
    assert.ErrorIs(t, err, ErrBusy)

    other, err := g.Acquire(ctx, "def")
    require.NoError(t, err)
    other()

    release()
    assert.False(t, g.Held("abc"))
    again, err := g.Acquire(ctx, "abc")
    require.NoError(t, err)
    again()
}

func TestLocalGuardConcurrent(t *testing.T) {
    g := New(nil, time.Minute)
    var wins atomic.Int32
    var wg sync.WaitGroup
    start := make(chan struct{})
    for i := 0; i < 16; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            <-start
            if _, err := g.Acquire(context.Background(), "same"); err == nil {
                wins.Add(1)
            }
        }()
    }
    close(start)
    wg.Wait()
    assert.Equal(t, int32(1), wins.Load())
}

func TestRedisGuard(t *testing.T) {
    url := os.Getenv("TEST_REDIS_URL")
    if url == "" {
        t.Skip("TEST_REDIS_URL not set")
    }
    opt, err := redis.ParseURL(url)
    require.NoError(t, err)
    rdb := redis.NewClient(opt)
    defer rdb.Close()

    digest := uuid.NewString()
    a := New(rdb, time.Minute)
    b := New(rdb, time.Minute)
    ctx := context.Background()

    release, err := a.Acquire(ctx, digest)
    require.NoError(t, err)
    _, err = b.Acquire(ctx, digest)
    assert.ErrorIs(t, err, ErrBusy)
    assert.False(t, b.Held(digest))

    release()
    rb, err := b.Acquire(ctx, digest)
    require.NoError(t, err)
    rb()
}
