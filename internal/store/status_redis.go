package store

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "strconv"
    "strings"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"
)

// Job states.
const (
    StatusQueued     = "queued"
    StatusProcessing = "processing"
    StatusSuccess    = "success"
    StatusFailed     = "failed"
)

// ErrNotFound is returned for unknown job ids.
var ErrNotFound = errors.New("job not found")

type Status struct {
    Status       string     `json:"status"`
    Op           string     `json:"op"`
    Message      string     `json:"message,omitempty"`
    ErrorKind    string     `json:"error_kind,omitempty"`
    ArtifactKey  string     `json:"artifact_key,omitempty"`
    ArtifactName string     `json:"artifact_name,omitempty"`
    Size         string     `json:"size,omitempty"`
    Pages        int        `json:"pages,omitempty"`
    Warnings     []string   `json:"warnings,omitempty"`
    Start        *time.Time `json:"start_time,omitempty"`
    End          *time.Time `json:"end_time,omitempty"`
}

// Terminal reports whether the job has finished.
func (s Status) Terminal() bool { return s.Status == StatusSuccess || s.Status == StatusFailed }

// StatusStore records job progress.
type StatusStore interface {
    Set(ctx context.Context, jobID string, st Status) error
    Get(ctx context.Context, jobID string) (Status, error)
}

// RedisStatus keeps each job as a hash job:<id>:status with a TTL.
type RedisStatus struct {
    client *redis.Client
    keyNS  string
    ttl    time.Duration
}

func NewRedisStatus(c *redis.Client, ttl time.Duration) *RedisStatus {
    if ttl <= 0 { ttl = 24 * time.Hour }
    return &RedisStatus{client: c, keyNS: "job", ttl: ttl}
}

func (s *RedisStatus) key(jobID string) string { return fmt.Sprintf("%s:%s:status", s.keyNS, jobID) }

func (s *RedisStatus) Set(ctx context.Context, jobID string, st Status) error {
    pipe := s.client.TxPipeline()
    pipe.Del(ctx, s.key(jobID))
    pipe.HSet(ctx, s.key(jobID), toHash(st))
    pipe.Expire(ctx, s.key(jobID), s.ttl)
    _, err := pipe.Exec(ctx)
    return err
}

func (s *RedisStatus) Get(ctx context.Context, jobID string) (Status, error) {
    res, err := s.client.HGetAll(ctx, s.key(jobID)).Result()
    if err != nil { return Status{}, err }
    if len(res) == 0 { return Status{}, fmt.Errorf("%w: %s", ErrNotFound, jobID) }
    return fromHash(res), nil
}

func toHash(st Status) map[string]interface{} {
    m := map[string]interface{}{
        "status": st.Status,
        "op":     st.Op,
    }
    put := func(k, v string) { if v != "" { m[k] = v } }
    put("message", st.Message)
    put("error_kind", st.ErrorKind)
    put("artifact_key", st.ArtifactKey)
    put("artifact_name", st.ArtifactName)
    put("size", st.Size)
    if st.Pages > 0 { m["pages"] = st.Pages }
    if len(st.Warnings) > 0 {
        b, _ := json.Marshal(st.Warnings)
        m["warnings"] = string(b)
    }
    if st.Start != nil { m["start"] = st.Start.Format(time.RFC3339Nano) }
    if st.End != nil { m["end"] = st.End.Format(time.RFC3339Nano) }
    return m
}

func fromHash(res map[string]string) Status {
    st := Status{
        Status:       res["status"],
        Op:           res["op"],
        Message:      res["message"],
        ErrorKind:    res["error_kind"],
        ArtifactKey:  res["artifact_key"],
        ArtifactName: res["artifact_name"],
        Size:         res["size"],
    }
    if p, err := strconv.Atoi(res["pages"]); err == nil { st.Pages = p }
    if v := res["warnings"]; strings.HasPrefix(v, "[") {
        _ = json.Unmarshal([]byte(v), &st.Warnings)
    }
    if v := res["start"]; v != "" {
        if t, err := time.Parse(time.RFC3339Nano, v); err == nil { st.Start = &t }
    }
    if v := res["end"]; v != "" {
        if t, err := time.Parse(time.RFC3339Nano, v); err == nil { st.End = &t }
    }
    return st
}

// MemoryStatus is a StatusStore for single-instance deployments.
type MemoryStatus struct {
    mu   sync.RWMutex
    jobs map[string]Status
}

func NewMemoryStatus() *MemoryStatus { return &MemoryStatus{jobs: map[string]Status{}} }

func (m *MemoryStatus) Set(ctx context.Context, jobID string, st Status) error {
    m.mu.Lock()
    m.jobs[jobID] = st
    m.mu.Unlock()
    return nil
}

func (m *MemoryStatus) Get(ctx context.Context, jobID string) (Status, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    st, ok := m.jobs[jobID]
    if !ok { return Status{}, fmt.Errorf("%w: %s", ErrNotFound, jobID) }
    return st, nil
}
