package statuscheck

import (
    "context"
    "errors"
    "time"
)

// Pinger models the minimal capability we need for status checks.
type Pinger interface {
    Ping(ctx context.Context) error
}

// PageCounter is the render service as seen by the MuPDF check.
type PageCounter interface {
    PageCount(data []byte) (int, error)
}

// selfTestPDF is a one-page document MuPDF must be able to open.
const selfTestPDF = "%PDF-1.4\n" +
    "1 0 obj<</Type/Catalog/Pages 2 0 R>>endobj\n" +
    "2 0 obj<</Type/Pages/Kids[3 0 R]/Count 1>>endobj\n" +
    "3 0 obj<</Type/Page/Parent 2 0 R/MediaBox[0 0 10 10]>>endobj\n" +
    "trailer<</Root 1 0 R>>\n%%EOF\n"

// Checker aggregates health checks for the dependencies behind /status.
type Checker struct {
    queue          Pinger
    queueBackend   string
    storage        Pinger
    storageBackend string
    converter      string
    renderer       PageCounter
    timeout        time.Duration
}

// Options configures the Checker. A nil Pinger reports the subsystem as
// unavailable; an empty ConverterVersion means office conversion is off and
// a nil Renderer means previews are off.
type Options struct {
    Queue            Pinger
    QueueBackend     string
    Storage          Pinger
    StorageBackend   string
    ConverterVersion string
    Renderer         PageCounter
    Timeout          time.Duration
}

// Status represents the readiness of a subsystem.
type Status struct {
    OK      bool   `json:"ok"`
    Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
    OK          bool   `json:"ok"`
    Queue       Status `json:"queue"`
    Storage     Status `json:"storage"`
    LibreOffice Status `json:"libreoffice"`
    MuPDF       Status `json:"mupdf"`
}

func New(opts Options) *Checker {
    if opts.Timeout <= 0 { opts.Timeout = 3 * time.Second }
    return &Checker{
        queue:          opts.Queue,
        queueBackend:   opts.QueueBackend,
        storage:        opts.Storage,
        storageBackend: opts.StorageBackend,
        converter:      opts.ConverterVersion,
        renderer:       opts.Renderer,
        timeout:        opts.Timeout,
    }
}

// Summary returns the current status snapshot. OK covers the required
// subsystems (queue, storage); conversion and previews are optional.
func (c *Checker) Summary(ctx context.Context) Summary {
    s := Summary{
        Queue:       c.ping(ctx, c.queue, c.queueBackend),
        Storage:     c.ping(ctx, c.storage, c.storageBackend),
        LibreOffice: c.checkLibreOffice(),
        MuPDF:       c.checkMuPDF(),
    }
    s.OK = s.Queue.OK && s.Storage.OK
    return s
}

func (c *Checker) ping(ctx context.Context, p Pinger, backend string) Status {
    if p == nil {
        return Status{OK: false, Message: "not configured"}
    }
    ctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    if err := p.Ping(ctx); err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    if backend == "" { backend = "ok" }
    return Status{OK: true, Message: "Connected (" + backend + ")"}
}

func (c *Checker) checkLibreOffice() Status {
    if c.converter == "" {
        return Status{OK: false, Message: "Disabled or binary not found"}
    }
    return Status{OK: true, Message: c.converter}
}

func (c *Checker) checkMuPDF() Status {
    if c.renderer == nil {
        return Status{OK: false, Message: "Previews disabled"}
    }
    n, err := c.renderer.PageCount([]byte(selfTestPDF))
    if err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    if n != 1 {
        return Status{OK: false, Message: "unexpected page count from self-test"}
    }
    return Status{OK: true, Message: "Available"}
}

func trimError(err error) string {
    if err == nil {
        return ""
    }
    var netErr interface{ Timeout() bool }
    if errors.As(err, &netErr) && netErr.Timeout() {
        return "timeout"
    }
    if errors.Is(err, context.DeadlineExceeded) {
        return "timeout"
    }
    msg := err.Error()
    if len(msg) > 120 {
        return msg[:120]
    }
    return msg
}
