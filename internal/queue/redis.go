package queue

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "time"

    redis "github.com/redis/go-redis/v9"
    "github.com/rs/zerolog/log"
)

// RedisQueue implements Queue with Redis Streams and a consumer group.
// Failed jobs are copied to <stream>:dlq; nothing is retried.
type RedisQueue struct {
    client    *redis.Client
    Stream    string
    Group     string
    DLQStream string
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
    opt, err := redis.ParseURL(redisURL)
    if err != nil {
        return nil, fmt.Errorf("parse redis url: %w", err)
    }
    c := redis.NewClient(opt)
    pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
    defer cancel()
    if err := c.Ping(pctx).Err(); err != nil {
        _ = c.Close()
        return nil, fmt.Errorf("redis ping: %w", err)
    }
    return c, nil
}

// NewRedisQueue ensures the stream and consumer group exist.
func NewRedisQueue(ctx context.Context, c *redis.Client, stream, group string) (*RedisQueue, error) {
    q := &RedisQueue{
        client:    c,
        Stream:    stream,
        Group:     group,
        DLQStream: stream + ":dlq",
    }
    // MKSTREAM creates the stream if missing
    if err := c.XGroupCreateMkStream(ctx, stream, group, "$").Err(); err != nil && !isBusyGroupErr(err) {
        return nil, fmt.Errorf("xgroup create: %w", err)
    }
    return q, nil
}

func isBusyGroupErr(err error) bool {
    if err == nil { return false }
    // go-redis returns the raw Redis error string
    return strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

func (q *RedisQueue) Close() error { return nil }

// Ping checks redis connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error { return q.client.Ping(ctx).Err() }

// Enqueue adds a job to the stream as a single-field entry {data: <json>}.
func (q *RedisQueue) Enqueue(ctx context.Context, j *Job) error {
    if err := j.Validate(); err != nil { return err }
    if j.Enqueued.IsZero() { j.Enqueued = time.Now().UTC() }
    payload, err := Encode(j)
    if err != nil { return err }
    return q.client.XAdd(ctx, &redis.XAddArgs{
        Stream: q.Stream,
        Values: map[string]any{"data": string(payload)},
    }).Err()
}

// Dequeue reads one message for consumer from the group.
func (q *RedisQueue) Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, *Job, error) {
    res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
        Group:    q.Group,
        Consumer: consumer,
        Streams:  []string{q.Stream, ">"},
        Count:    1,
        Block:    timeout,
    }).Result()
    if err != nil {
        if errors.Is(err, redis.Nil) { return "", nil, nil }
        return "", nil, err
    }
    if len(res) == 0 || len(res[0].Messages) == 0 { return "", nil, nil }
    msg := res[0].Messages[0]
    var raw []byte
    switch t := msg.Values["data"].(type) {
    case string:
        raw = []byte(t)
    case []byte:
        raw = t
    }
    j, err := Decode(raw)
    if err != nil {
        // poison message: ack so it is not redelivered, keep a copy in the DLQ
        log.Error().Err(err).Str("msg_id", msg.ID).Msg("dropping undecodable job")
        _ = q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.DLQStream, Values: map[string]any{"data": string(raw), "reason": err.Error()}}).Err()
        _ = q.Ack(ctx, msg.ID)
        return "", nil, nil
    }
    return msg.ID, j, nil
}

// Ack marks a message as processed.
func (q *RedisQueue) Ack(ctx context.Context, msgID string) error {
    if msgID == "" { return nil }
    return q.client.XAck(ctx, q.Stream, q.Group, msgID).Err()
}

// Fail pushes a failed job to the DLQ stream with reason.
func (q *RedisQueue) Fail(ctx context.Context, j *Job, reason string) error {
    payload, err := Encode(j)
    if err != nil { return err }
    return q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.DLQStream, Values: map[string]any{"data": string(payload), "reason": reason}}).Err()
}

// Depths returns the stream length and the group's pending count.
func (q *RedisQueue) Depths(ctx context.Context) (int64, int64, error) {
    pipe := q.client.Pipeline()
    xlen := pipe.XLen(ctx, q.Stream)
    pending := pipe.XPending(ctx, q.Stream, q.Group)
    if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
        return 0, 0, err
    }
    var p int64
    if pending.Val() != nil { p = pending.Val().Count }
    return xlen.Val(), p, nil
}
