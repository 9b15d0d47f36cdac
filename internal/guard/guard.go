// Package guard keeps a source document from being processed by two
// operations at once. Sources are identified by a digest of their bytes.
package guard

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/google/uuid"
    redis "github.com/redis/go-redis/v9"
    "github.com/rs/zerolog/log"

    "github.com/local/pdfdesk/internal/metrics"
)

// ErrBusy is returned when the source is already being processed.
var ErrBusy = errors.New("document is already being processed")

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Guard holds per-digest locks in process and, when a Redis client is
// given, across instances with SET NX PX.
type Guard struct {
    rdb *redis.Client
    ttl time.Duration

    mu   sync.Mutex
    held map[string]struct{}
}

// New returns a Guard. rdb may be nil for a single instance.
func New(rdb *redis.Client, ttl time.Duration) *Guard {
    if ttl <= 0 { ttl = 10 * time.Minute }
    return &Guard{rdb: rdb, ttl: ttl, held: map[string]struct{}{}}
}

func (g *Guard) key(digest string) string { return fmt.Sprintf("guard:doc:%s", digest) }

// Acquire reserves digest. The returned release must be called exactly once.
func (g *Guard) Acquire(ctx context.Context, digest string) (func(), error) {
    g.mu.Lock()
    if _, busy := g.held[digest]; busy {
        g.mu.Unlock()
        metrics.IncBusy()
        return nil, ErrBusy
    }
    g.held[digest] = struct{}{}
    g.mu.Unlock()

    local := func() {
        g.mu.Lock()
        delete(g.held, digest)
        g.mu.Unlock()
    }
    if g.rdb == nil {
        return local, nil
    }

    token := uuid.NewString()
    ok, err := g.rdb.SetNX(ctx, g.key(digest), token, g.ttl).Result()
    if err != nil {
        local()
        return nil, fmt.Errorf("guard lock: %w", err)
    }
    if !ok {
        local()
        metrics.IncBusy()
        return nil, ErrBusy
    }
    return func() {
        rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        defer cancel()
        if err := releaseScript.Run(rctx, g.rdb, []string{g.key(digest)}, token).Err(); err != nil {
            log.Warn().Err(err).Str("digest", digest).Msg("guard release failed; lock will expire")
        }
        local()
    }, nil
}

// Held reports whether digest is locked in this process.
func (g *Guard) Held(digest string) bool {
    g.mu.Lock()
    defer g.mu.Unlock()
    _, ok := g.held[digest]
    return ok
}
