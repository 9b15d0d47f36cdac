package queue

import (
    "context"
    "errors"
    "strconv"
    "sync"
    "sync/atomic"
    "time"

    "github.com/rs/zerolog/log"
)

// ErrFull is returned by Memory.Enqueue when the buffer is at capacity.
var ErrFull = errors.New("queue is full")

// Memory is an in-process Queue for single-instance deployments without Redis.
type Memory struct {
    ch      chan *Job
    seq     atomic.Int64
    pending atomic.Int64

    mu     sync.Mutex
    failed []*Job
}

func NewMemory(capacity int) *Memory {
    if capacity <= 0 { capacity = 64 }
    return &Memory{ch: make(chan *Job, capacity)}
}

func (m *Memory) Enqueue(ctx context.Context, j *Job) error {
    if err := j.Validate(); err != nil { return err }
    if j.Enqueued.IsZero() { j.Enqueued = time.Now().UTC() }
    select {
    case m.ch <- j:
        return nil
    default:
        return ErrFull
    }
}

func (m *Memory) Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, *Job, error) {
    t := time.NewTimer(timeout)
    defer t.Stop()
    select {
    case j := <-m.ch:
        m.pending.Add(1)
        return strconv.FormatInt(m.seq.Add(1), 10), j, nil
    case <-t.C:
        return "", nil, nil
    case <-ctx.Done():
        return "", nil, ctx.Err()
    }
}

func (m *Memory) Ack(ctx context.Context, msgID string) error {
    if msgID != "" { m.pending.Add(-1) }
    return nil
}

func (m *Memory) Fail(ctx context.Context, j *Job, reason string) error {
    m.mu.Lock()
    m.failed = append(m.failed, j)
    m.mu.Unlock()
    log.Warn().Str("job_id", j.ID).Str("reason", reason).Msg("job failed")
    return nil
}

// Failed returns the jobs recorded by Fail.
func (m *Memory) Failed() []*Job {
    m.mu.Lock()
    defer m.mu.Unlock()
    return append([]*Job(nil), m.failed...)
}

func (m *Memory) Depths(ctx context.Context) (int64, int64, error) {
    return int64(len(m.ch)), m.pending.Load(), nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
