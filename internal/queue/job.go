package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"
)

// Job is one queued document operation. Inputs reference objects already
// written to storage; the worker loads them, runs Op and stores the artifact.
type Job struct {
    ID       string            `json:"id"`
    Op       string            `json:"op"`
    Inputs   []Input           `json:"inputs"`
    Params   map[string]string `json:"params,omitempty"`
    Enqueued time.Time         `json:"enqueued"`
}

// Input is a stored upload.
type Input struct {
    Key  string `json:"key"`
    Name string `json:"name"`
}

func (j *Job) Validate() error {
    if j.ID == "" { return errors.New("job: missing id") }
    if j.Op == "" { return errors.New("job: missing op") }
    if len(j.Inputs) == 0 { return fmt.Errorf("job %s: no inputs", j.ID) }
    return nil
}

func (j *Job) Param(name string) string {
    if j.Params == nil { return "" }
    return j.Params[name]
}

func Encode(j *Job) ([]byte, error) { return json.Marshal(j) }

func Decode(b []byte) (*Job, error) {
    var j Job
    if err := json.Unmarshal(b, &j); err != nil {
        return nil, fmt.Errorf("decode job: %w", err)
    }
    return &j, j.Validate()
}

// Queue is what the HTTP layer and workers need from a job queue.
type Queue interface {
    Enqueue(ctx context.Context, j *Job) error
    // Dequeue blocks up to timeout; a nil job with nil error means nothing arrived.
    Dequeue(ctx context.Context, consumer string, timeout time.Duration) (msgID string, j *Job, err error)
    Ack(ctx context.Context, msgID string) error
    // Fail records a job that could not be completed.
    Fail(ctx context.Context, j *Job, reason string) error
    Depths(ctx context.Context) (stream, pending int64, err error)
    Ping(ctx context.Context) error
    Close() error
}
