package logger

import (
    "context"
    "encoding/json"
    "sync"
    "sync/atomic"
    "time"

    "github.com/axiomhq/axiom-go/axiom"
    "github.com/axiomhq/axiom-go/axiom/ingest"
    "github.com/rs/zerolog"
)

const (
    shipBatch  = 200
    shipBuffer = 1000
)

// ingester is the part of *axiom.Client the shipper uses.
type ingester interface {
    IngestEvents(ctx context.Context, dataset string, events []axiom.Event, options ...ingest.Option) (*ingest.Status, error)
}

// shipper is a zerolog.LevelWriter that forwards info-and-above events to an
// Axiom dataset in batches. Events are dropped, and counted, when the buffer
// is full.
type shipper struct {
    client  ingester
    dataset string
    minimum zerolog.Level
    events  chan axiom.Event
    dropped atomic.Int64

    done chan struct{}
    wg   sync.WaitGroup
    once sync.Once
}

func newShipper(token, orgID, dataset string, flushEvery time.Duration) (*shipper, error) {
    opts := []axiom.Option{axiom.SetToken(token)}
    if orgID != "" { opts = append(opts, axiom.SetOrganizationID(orgID)) }
    c, err := axiom.NewClient(opts...)
    if err != nil { return nil, err }
    if dataset == "" { dataset = "dev_" + service }
    return startShipper(c, dataset, flushEvery), nil
}

func startShipper(c ingester, dataset string, flushEvery time.Duration) *shipper {
    if flushEvery <= 0 { flushEvery = 10 * time.Second }
    s := &shipper{
        client:  c,
        dataset: dataset,
        minimum: zerolog.InfoLevel,
        events:  make(chan axiom.Event, shipBuffer),
        done:    make(chan struct{}),
    }
    s.wg.Add(1)
    go s.run(flushEvery)
    return s
}

func (s *shipper) Write(p []byte) (int, error) { return s.WriteLevel(zerolog.NoLevel, p) }

func (s *shipper) WriteLevel(level zerolog.Level, p []byte) (int, error) {
    if level != zerolog.NoLevel && level < s.minimum { return len(p), nil }
    ev := axiom.Event{}
    if err := json.Unmarshal(p, &ev); err != nil {
        ev = axiom.Event{"message": string(p), "level": level.String()}
    }
    if _, ok := ev[ingest.TimestampField]; !ok { ev[ingest.TimestampField] = time.Now() }
    select {
    case s.events <- ev:
    default:
        s.dropped.Add(1)
    }
    return len(p), nil
}

func (s *shipper) run(flushEvery time.Duration) {
    defer s.wg.Done()
    ticker := time.NewTicker(flushEvery)
    defer ticker.Stop()
    batch := make([]axiom.Event, 0, shipBatch)
    flush := func() {
        if len(batch) == 0 { return }
        ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
        _, _ = s.client.IngestEvents(ctx, s.dataset, batch)
        cancel()
        batch = batch[:0]
    }
    for {
        select {
        case ev := <-s.events:
            batch = append(batch, ev)
            if len(batch) >= shipBatch { flush() }
        case <-ticker.C:
            flush()
        case <-s.done:
            for {
                select {
                case ev := <-s.events:
                    batch = append(batch, ev)
                    if len(batch) >= shipBatch { flush() }
                default:
                    flush()
                    return
                }
            }
        }
    }
}

// Close drains buffered events and stops the shipper.
func (s *shipper) Close() {
    s.once.Do(func() { close(s.done) })
    s.wg.Wait()
}
