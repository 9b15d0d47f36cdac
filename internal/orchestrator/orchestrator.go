package orchestrator

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "mime"
    "mime/multipart"
    "net/http"
    "slices"
    "strconv"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/rs/zerolog/log"

    "github.com/local/pdfdesk/internal/assembler"
    "github.com/local/pdfdesk/internal/dispatcher"
    "github.com/local/pdfdesk/internal/filetype"
    "github.com/local/pdfdesk/internal/guard"
    "github.com/local/pdfdesk/internal/metrics"
    "github.com/local/pdfdesk/internal/preview"
    "github.com/local/pdfdesk/internal/queue"
    "github.com/local/pdfdesk/internal/statuscheck"
    "github.com/local/pdfdesk/internal/storage"
    "github.com/local/pdfdesk/internal/store"
)

// Dependencies are the collaborators behind the HTTP surface.
type Dependencies struct {
    Runner  *dispatcher.Runner
    Queue   queue.Queue
    Status  store.StatusStore
    Objects storage.Store
    Checker *statuscheck.Checker
    // MaxUploadBytes caps the whole multipart body.
    MaxUploadBytes int64
    // RequestTimeout bounds synchronous operations.
    RequestTimeout time.Duration
}

type Orchestrator struct {
    deps Dependencies
}

func New(deps Dependencies) *Orchestrator {
    if deps.MaxUploadBytes <= 0 { deps.MaxUploadBytes = 100 << 20 }
    if deps.RequestTimeout <= 0 { deps.RequestTimeout = 5 * time.Minute }
    return &Orchestrator{deps: deps}
}

func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
    mux.HandleFunc("GET /health", o.handleHealth)
    mux.HandleFunc("GET /status", o.handleStatus)
    mux.Handle("GET /metrics", metrics.Handler())
    mux.HandleFunc("POST /api/{op}", logged(o.handleOperation))
    mux.HandleFunc("GET /api/jobs/{id}", logged(o.handleJob))
    mux.HandleFunc("GET /api/artifacts/{id}", logged(o.handleArtifact))
}

type jobResp struct {
    Status  string `json:"status"`
    JobID   string `json:"job_id"`
    Message string `json:"message"`
}

type errorResp struct {
    Error   string `json:"error"`
    Message string `json:"message"`
}

func (o *Orchestrator) handleHealth(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (o *Orchestrator) handleStatus(w http.ResponseWriter, r *http.Request) {
    if o.deps.Checker == nil { writeJSON(w, http.StatusOK, map[string]bool{"ok": true}); return }
    s := o.deps.Checker.Summary(r.Context())
    code := http.StatusOK
    if !s.OK { code = http.StatusServiceUnavailable }
    writeJSON(w, code, s)
}

// handleOperation runs /api/{op} inline, or queues it when async=true.
func (o *Orchestrator) handleOperation(w http.ResponseWriter, r *http.Request) {
    op := r.PathValue("op")
    if !slices.Contains(dispatcher.Ops, op) { http.NotFound(w, r); return }

    req, async, err := o.readRequest(w, r, op)
    if err != nil {
        var tooBig *http.MaxBytesError
        if errors.As(err, &tooBig) {
            writeJSON(w, http.StatusRequestEntityTooLarge, errorResp{Error: "too_large",
                Message: fmt.Sprintf("Upload exceeds %d MB.", o.deps.MaxUploadBytes>>20)})
            return
        }
        writeError(w, err)
        return
    }
    if async { o.enqueue(w, r, req); return }

    ctx, cancel := context.WithTimeout(r.Context(), o.deps.RequestTimeout)
    defer cancel()
    res, err := o.deps.Runner.Run(ctx, req)
    if err != nil {
        log.Warn().Err(err).Str("op", op).Msg("operation failed")
        writeError(w, err)
        return
    }
    switch {
    case res.Info != nil:
        writeJSON(w, http.StatusOK, res.Info)
    case res.Preview != nil:
        w.Header().Set("Content-Type", "image/jpeg")
        w.Header().Set("X-Page-Width", strconv.Itoa(res.Preview.Width))
        w.Header().Set("X-Page-Height", strconv.Itoa(res.Preview.Height))
        _, _ = w.Write(res.Preview.JPEG)
    case res.Artifact != nil:
        if res.Compress != nil {
            w.Header().Set("X-Original-Size", res.Compress.OriginalSize)
            w.Header().Set("X-Reduction-Percent", strconv.Itoa(res.Compress.ReductionPercent))
        }
        writeArtifact(w, res.Artifact.Name, res.Artifact.ContentType, res.Artifact.Size, res.Artifact.Data, warningMessages(res.Artifact))
    default:
        w.WriteHeader(http.StatusNoContent)
    }
}

// readRequest parses the multipart body: files from "file" and repeated
// "files", every other field as a parameter.
func (o *Orchestrator) readRequest(w http.ResponseWriter, r *http.Request, op string) (dispatcher.Request, bool, error) {
    req := dispatcher.Request{Op: op, Params: map[string]string{}}
    r.Body = http.MaxBytesReader(w, r.Body, o.deps.MaxUploadBytes)
    if err := r.ParseMultipartForm(32 << 20); err != nil {
        var tooBig *http.MaxBytesError
        if errors.As(err, &tooBig) { return req, false, err }
        return req, false, &dispatcher.ValidationError{Field: "body", Message: "invalid multipart form"}
    }
    defer r.MultipartForm.RemoveAll()

    for _, field := range []string{"file", "files"} {
        for _, hdr := range r.MultipartForm.File[field] {
            f, err := readPart(hdr)
            if err != nil { return req, false, err }
            req.Files = append(req.Files, f)
        }
    }
    async := false
    for k, v := range r.MultipartForm.Value {
        if len(v) == 0 { continue }
        if k == "async" { async = parseBool(v[0]); continue }
        req.Params[k] = v[0]
    }
    return req, async, nil
}

func readPart(hdr *multipart.FileHeader) (dispatcher.File, error) {
    f, err := hdr.Open()
    if err != nil { return dispatcher.File{}, fmt.Errorf("open upload %s: %w", hdr.Filename, err) }
    defer f.Close()
    data, err := io.ReadAll(f)
    if err != nil { return dispatcher.File{}, fmt.Errorf("read upload %s: %w", hdr.Filename, err) }
    name := hdr.Filename
    if name == "" { name = "upload" }
    return dispatcher.File{Name: name, Data: data}, nil
}

// enqueue stores the uploads and queues a job for the dispatcher workers.
func (o *Orchestrator) enqueue(w http.ResponseWriter, r *http.Request, req dispatcher.Request) {
    if o.deps.Queue == nil || o.deps.Objects == nil || o.deps.Status == nil {
        writeJSON(w, http.StatusServiceUnavailable, errorResp{Error: "unavailable", Message: "Background jobs are not enabled."})
        return
    }
    if req.Op == dispatcher.OpInfo || req.Op == dispatcher.OpPreview {
        writeError(w, &dispatcher.ValidationError{Field: "async", Message: req.Op + " has no downloadable result"})
        return
    }
    if err := o.deps.Runner.Validate(req); err != nil { writeError(w, err); return }

    ctx := r.Context()
    jobID := uuid.NewString()
    job := &queue.Job{ID: jobID, Op: req.Op, Params: req.Params, Enqueued: time.Now().UTC()}
    for _, f := range req.Files {
        obj := &storage.Object{
            Key:         storage.NewKey(storage.KindUpload),
            Name:        f.Name,
            ContentType: filetype.Detect(f.Name, f.Data).MIMEType,
            Data:        f.Data,
            Meta:        map[string]string{"job_id": jobID},
        }
        if err := o.deps.Objects.Put(ctx, obj); err != nil {
            log.Error().Err(err).Str("job_id", jobID).Msg("storing upload failed")
            o.discard(job)
            writeJSON(w, http.StatusServiceUnavailable, errorResp{Error: "storage", Message: "Could not store the upload."})
            return
        }
        job.Inputs = append(job.Inputs, queue.Input{Key: obj.Key, Name: f.Name})
    }

    _ = o.deps.Status.Set(ctx, jobID, store.Status{Status: store.StatusQueued, Op: req.Op, Message: "queued"})
    if err := o.deps.Queue.Enqueue(ctx, job); err != nil {
        log.Error().Err(err).Str("job_id", jobID).Msg("enqueue failed")
        o.discard(job)
        now := time.Now().UTC()
        _ = o.deps.Status.Set(ctx, jobID, store.Status{Status: store.StatusFailed, Op: req.Op,
            ErrorKind: "unavailable", Message: "queue unavailable", End: &now})
        writeJSON(w, http.StatusServiceUnavailable, errorResp{Error: "unavailable", Message: "queue unavailable"})
        return
    }
    log.Info().Str("job_id", jobID).Str("op", req.Op).Int("files", len(req.Files)).Msg("job queued")
    writeJSON(w, http.StatusAccepted, jobResp{Status: "ok", JobID: jobID, Message: "Job queued"})
}

func (o *Orchestrator) discard(job *queue.Job) {
    for _, in := range job.Inputs {
        _ = o.deps.Objects.Delete(context.Background(), in.Key)
    }
}

func (o *Orchestrator) jobStatus(w http.ResponseWriter, r *http.Request) (store.Status, bool) {
    if o.deps.Status == nil { http.NotFound(w, r); return store.Status{}, false }
    st, err := o.deps.Status.Get(r.Context(), r.PathValue("id"))
    if errors.Is(err, store.ErrNotFound) { http.Error(w, "not found", http.StatusNotFound); return st, false }
    if err != nil { http.Error(w, "error", http.StatusInternalServerError); return st, false }
    return st, true
}

func (o *Orchestrator) handleJob(w http.ResponseWriter, r *http.Request) {
    st, ok := o.jobStatus(w, r)
    if !ok { return }
    writeJSON(w, http.StatusOK, struct {
        JobID string `json:"job_id"`
        store.Status
    }{JobID: r.PathValue("id"), Status: st})
}

// handleArtifact serves the stored result of a finished job.
func (o *Orchestrator) handleArtifact(w http.ResponseWriter, r *http.Request) {
    st, ok := o.jobStatus(w, r)
    if !ok { return }
    switch st.Status {
    case store.StatusSuccess:
    case store.StatusFailed:
        writeJSON(w, http.StatusConflict, errorResp{Error: st.ErrorKind, Message: st.Message})
        return
    default:
        writeJSON(w, http.StatusAccepted, jobResp{Status: st.Status, JobID: r.PathValue("id"), Message: "not ready"})
        return
    }
    obj, err := o.deps.Objects.Get(r.Context(), st.ArtifactKey)
    if errors.Is(err, storage.ErrNotFound) { http.Error(w, "artifact expired", http.StatusGone); return }
    if err != nil {
        log.Error().Err(err).Str("key", st.ArtifactKey).Msg("artifact read failed")
        http.Error(w, "failed to read", http.StatusInternalServerError)
        return
    }
    name := st.ArtifactName
    if name == "" { name = obj.Name }
    writeArtifact(w, name, obj.ContentType, st.Size, obj.Data, st.Warnings)
}

func writeArtifact(w http.ResponseWriter, name, contentType, size string, data []byte, warnings []string) {
    if contentType == "" { contentType = "application/octet-stream" }
    w.Header().Set("Content-Type", contentType)
    // FormatMediaType switches to filename*=utf-8'' for non-ASCII names.
    w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
    w.Header().Set("Content-Length", strconv.Itoa(len(data)))
    if size != "" { w.Header().Set("X-Artifact-Size", size) }
    for _, warn := range warnings {
        w.Header().Add("X-Warning", warn)
    }
    _, _ = w.Write(data)
}

func warningMessages(art *assembler.Artifact) []string {
    out := make([]string, 0, len(art.Warnings))
    for _, warn := range art.Warnings {
        out = append(out, warn.UserMessage())
    }
    return out
}

// statusCode maps an operation error onto an HTTP status.
func statusCode(err error) int {
    var v *dispatcher.ValidationError
    switch {
    case errors.As(err, &v):
        return http.StatusBadRequest
    case errors.Is(err, guard.ErrBusy):
        return http.StatusConflict
    case errors.Is(err, preview.ErrDisabled):
        return http.StatusServiceUnavailable
    case errors.Is(err, context.DeadlineExceeded):
        return http.StatusGatewayTimeout
    }
    switch assembler.KindOf(err) {
    case assembler.InvalidRange, assembler.UnsupportedInput:
        return http.StatusBadRequest
    case assembler.LoadFailed:
        return http.StatusUnprocessableEntity
    }
    return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
    writeJSON(w, statusCode(err), errorResp{Error: dispatcher.ErrorKind(err), Message: dispatcher.UserMessage(err)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}

func parseBool(s string) bool {
    v := strings.ToLower(strings.TrimSpace(s))
    return v == "1" || v == "true" || v == "yes" || v == "on"
}
