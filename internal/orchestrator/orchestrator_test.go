package orchestrator

import (
    "bytes"
    "context"
    "encoding/json"
    "image"
    "image/png"
    "io"
    "mime"
    "mime/multipart"
    "net/http"
    "net/http/httptest"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/local/pdfdesk/internal/assembler"
    "github.com/local/pdfdesk/internal/converter"
    "github.com/local/pdfdesk/internal/dispatcher"
    "github.com/local/pdfdesk/internal/document"
    "github.com/local/pdfdesk/internal/guard"
    "github.com/local/pdfdesk/internal/queue"
    "github.com/local/pdfdesk/internal/statuscheck"
    "github.com/local/pdfdesk/internal/storage"
    "github.com/local/pdfdesk/internal/store"
)

type harness struct {
    lib     document.Library
    guard   *guard.Guard
    queue   *queue.Memory
    status  *store.MemoryStatus
    objects *storage.Local
    worker  *dispatcher.Worker
    server  *httptest.Server
}

func newHarness(t *testing.T) *harness {
    t.Helper()
    lib := document.NewPDFCPU(document.PDFCPUOptions{})
    g := guard.New(nil, time.Minute)
    runner := dispatcher.NewRunner(assembler.New(lib, nil), nil, g, assembler.Recommended)
    objects, err := storage.NewLocal(t.TempDir(), nil)
    require.NoError(t, err)
    h := &harness{lib: lib, guard: g, queue: queue.NewMemory(8), status: store.NewMemoryStatus(), objects: objects}
    h.worker = dispatcher.New(dispatcher.Config{Concurrency: 1}, h.queue, h.status, objects, runner)

    mux := http.NewServeMux()
    New(Dependencies{
        Runner:  runner,
        Queue:   h.queue,
        Status:  h.status,
        Objects: objects,
        Checker: statuscheck.New(statuscheck.Options{Queue: h.queue, QueueBackend: "memory", Storage: objects, StorageBackend: "local"}),
    }).RegisterRoutes(mux)
    h.server = httptest.NewServer(mux)
    t.Cleanup(h.server.Close)
    return h
}

func (h *harness) pdf(t *testing.T, pages int) []byte {
    t.Helper()
    readers := make([]io.Reader, pages)
    for i := range readers {
        img := image.NewRGBA(image.Rect(0, 0, 20+i, 30))
        var buf bytes.Buffer
        require.NoError(t, png.Encode(&buf, img))
        readers[i] = &buf
    }
    data, err := h.lib.ImportImages(readers, document.Layout{})
    require.NoError(t, err)
    return data
}

type upload struct {
    name string
    data []byte
}

func (h *harness) post(t *testing.T, op string, files []upload, params map[string]string) *http.Response {
    t.Helper()
    var body bytes.Buffer
    mw := multipart.NewWriter(&body)
    field := "file"
    if len(files) > 1 {
        field = "files"
    }
    for _, f := range files {
        w, err := mw.CreateFormFile(field, f.name)
        require.NoError(t, err)
        _, err = w.Write(f.data)
        require.NoError(t, err)
    }
    for k, v := range params {
        require.NoError(t, mw.WriteField(k, v))
    }
    require.NoError(t, mw.Close())
    resp, err := http.Post(h.server.URL+"/api/"+op, mw.FormDataContentType(), &body)
    require.NoError(t, err)
    t.Cleanup(func() { resp.Body.Close() })
    return resp
}

func (h *harness) get(t *testing.T, path string) *http.Response {
    t.Helper()
    resp, err := http.Get(h.server.URL + path)
    require.NoError(t, err)
    t.Cleanup(func() { resp.Body.Close() })
    return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
    t.Helper()
    var v T
    require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
    return v
}

func readAll(t *testing.T, resp *http.Response) []byte {
    t.Helper()
    b, err := io.ReadAll(resp.Body)
    require.NoError(t, err)
    return b
}

func TestHealthAndStatus(t *testing.T) {
    h := newHarness(t)
    resp := h.get(t, "/health")
    assert.Equal(t, http.StatusOK, resp.StatusCode)

    resp = h.get(t, "/status")
    require.Equal(t, http.StatusOK, resp.StatusCode)
    s := decode[statuscheck.Summary](t, resp)
    assert.True(t, s.OK)
    assert.Equal(t, "Connected (local)", s.Storage.Message)
}

func TestInfo(t *testing.T) {
    h := newHarness(t)
    resp := h.post(t, "info", []upload{{"report.pdf", h.pdf(t, 3)}}, nil)
    require.Equal(t, http.StatusOK, resp.StatusCode)
    info := decode[assembler.Info](t, resp)
    assert.Equal(t, "report.pdf", info.Name)
    assert.Equal(t, 3, info.PageCount)
    assert.NotEmpty(t, info.Size)
}

func TestSplitReturnsArtifact(t *testing.T) {
    h := newHarness(t)
    resp := h.post(t, "split", []upload{{"report.pdf", h.pdf(t, 4)}}, map[string]string{"ranges": "3, 1"})
    require.Equal(t, http.StatusOK, resp.StatusCode)
    assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
    assert.Equal(t, `attachment; filename=report-extracted.pdf`, resp.Header.Get("Content-Disposition"))
    assert.NotEmpty(t, resp.Header.Get("X-Artifact-Size"))

    doc, err := h.lib.Load(readAll(t, resp))
    require.NoError(t, err)
    assert.Equal(t, 2, doc.PageCount())
}

func TestCompressHeaders(t *testing.T) {
    h := newHarness(t)
    resp := h.post(t, "compress", []upload{{"report.pdf", h.pdf(t, 2)}}, map[string]string{"level": "extreme"})
    require.Equal(t, http.StatusOK, resp.StatusCode)
    assert.NotEmpty(t, resp.Header.Get("X-Original-Size"))
    assert.NotEmpty(t, resp.Header.Get("X-Reduction-Percent"))
}

func TestPasswordWarningHeader(t *testing.T) {
    h := newHarness(t)
    resp := h.post(t, "rotate", []upload{{"report.pdf", h.pdf(t, 2)}}, map[string]string{"rotations": `{"0":90}`, "password": "secret"})
    require.Equal(t, http.StatusOK, resp.StatusCode)
    assert.Contains(t, resp.Header.Get("X-Warning"), "Password protection is not supported")
}

func TestOperationErrors(t *testing.T) {
    h := newHarness(t)
    pdf := h.pdf(t, 2)

    cases := []struct {
        name   string
        op     string
        files  []upload
        params map[string]string
        code   int
        kind   string
    }{
        {"invalid range", "split", []upload{{"a.pdf", pdf}}, map[string]string{"ranges": "7-9"}, http.StatusBadRequest, "invalid_range"},
        {"unsupported input", "split", []upload{{"a.txt", []byte("just text")}}, nil, http.StatusBadRequest, "unsupported_input"},
        {"corrupt pdf", "info", []upload{{"a.pdf", []byte("%PDF-1.7\ngarbage")}}, nil, http.StatusUnprocessableEntity, "load_failed"},
        {"no file", "split", nil, map[string]string{"ranges": "1"}, http.StatusBadRequest, "validation"},
        {"bad level", "compress", []upload{{"a.pdf", pdf}}, map[string]string{"level": "ultra"}, http.StatusBadRequest, "validation"},
        {"preview disabled", "preview", []upload{{"a.pdf", pdf}}, nil, http.StatusServiceUnavailable, "disabled"},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            resp := h.post(t, tc.op, tc.files, tc.params)
            assert.Equal(t, tc.code, resp.StatusCode)
            e := decode[errorResp](t, resp)
            assert.Equal(t, tc.kind, e.Error)
            assert.NotEmpty(t, e.Message)
        })
    }
}

func TestUnknownOperation(t *testing.T) {
    h := newHarness(t)
    resp := h.post(t, "shred", []upload{{"a.pdf", h.pdf(t, 1)}}, nil)
    assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBusySourceConflict(t *testing.T) {
    h := newHarness(t)
    pdf := h.pdf(t, 2)
    release, err := h.guard.Acquire(context.Background(), assembler.Digest(pdf))
    require.NoError(t, err)
    defer release()

    resp := h.post(t, "split", []upload{{"a.pdf", pdf}}, map[string]string{"ranges": "1"})
    assert.Equal(t, http.StatusConflict, resp.StatusCode)
    assert.Equal(t, "busy", decode[errorResp](t, resp).Error)
}

func TestAsyncJobLifecycle(t *testing.T) {
    h := newHarness(t)
    a, b := h.pdf(t, 1), h.pdf(t, 2)

    resp := h.post(t, "merge", []upload{{"a.pdf", a}, {"b.pdf", b}}, map[string]string{"async": "true"})
    require.Equal(t, http.StatusAccepted, resp.StatusCode)
    jr := decode[jobResp](t, resp)
    require.NotEmpty(t, jr.JobID)

    st := decode[store.Status](t, h.get(t, "/api/jobs/"+jr.JobID))
    assert.Equal(t, store.StatusQueued, st.Status)
    assert.Equal(t, http.StatusAccepted, h.get(t, "/api/artifacts/"+jr.JobID).StatusCode)

    _, job, err := h.queue.Dequeue(context.Background(), "test", time.Second)
    require.NoError(t, err)
    require.NotNil(t, job)
    assert.Len(t, job.Inputs, 2)
    assert.Equal(t, "a.pdf", job.Inputs[0].Name)
    assert.NotContains(t, job.Params, "async")
    h.worker.Process(job)

    st = decode[store.Status](t, h.get(t, "/api/jobs/"+jr.JobID))
    require.Equal(t, store.StatusSuccess, st.Status)
    assert.Equal(t, 3, st.Pages)

    art := h.get(t, "/api/artifacts/"+jr.JobID)
    require.Equal(t, http.StatusOK, art.StatusCode)
    assert.Equal(t, `attachment; filename=merged.pdf`, art.Header.Get("Content-Disposition"))
    doc, err := h.lib.Load(readAll(t, art))
    require.NoError(t, err)
    assert.Equal(t, 3, doc.PageCount())
}

func TestAsyncRejectsBeforeQueueing(t *testing.T) {
    h := newHarness(t)
    resp := h.post(t, "info", []upload{{"a.pdf", h.pdf(t, 1)}}, map[string]string{"async": "1"})
    assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

    resp = h.post(t, "merge", []upload{{"a.txt", []byte("text")}}, map[string]string{"async": "1"})
    assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

    stream, _, err := h.queue.Depths(context.Background())
    require.NoError(t, err)
    assert.Zero(t, stream)
}

func TestAsyncFailedJobArtifact(t *testing.T) {
    h := newHarness(t)
    resp := h.post(t, "split", []upload{{"a.pdf", h.pdf(t, 2)}}, map[string]string{"async": "true", "ranges": "9"})
    require.Equal(t, http.StatusAccepted, resp.StatusCode)
    jr := decode[jobResp](t, resp)

    _, job, err := h.queue.Dequeue(context.Background(), "test", time.Second)
    require.NoError(t, err)
    h.worker.Process(job)

    art := h.get(t, "/api/artifacts/"+jr.JobID)
    assert.Equal(t, http.StatusConflict, art.StatusCode)
    assert.Equal(t, "invalid_range", decode[errorResp](t, art).Error)
}

func TestUnknownJob(t *testing.T) {
    h := newHarness(t)
    assert.Equal(t, http.StatusNotFound, h.get(t, "/api/jobs/nope").StatusCode)
    assert.Equal(t, http.StatusNotFound, h.get(t, "/api/artifacts/nope").StatusCode)
}

func TestStatusCode(t *testing.T) {
    assert.Equal(t, http.StatusInternalServerError, statusCode(&assembler.Error{Kind: assembler.ArchiveError}))
    assert.Equal(t, http.StatusInternalServerError, statusCode(&assembler.Error{Kind: assembler.WriteFailed}))
    assert.Equal(t, http.StatusGatewayTimeout, statusCode(context.DeadlineExceeded))
    assert.Equal(t, http.StatusConflict, statusCode(guard.ErrBusy))
}

func TestCleanupTemps(t *testing.T) {
    dir := t.TempDir()
    stale := filepath.Join(dir, converter.WorkDirPrefix+"old")
    fresh := filepath.Join(dir, converter.WorkDirPrefix+"new")
    other := filepath.Join(dir, "unrelated")
    for _, p := range []string{stale, fresh, other} {
        require.NoError(t, os.MkdirAll(p, 0o755))
    }
    old := time.Now().Add(-2 * time.Hour)
    require.NoError(t, os.Chtimes(stale, old, old))
    require.NoError(t, os.Chtimes(other, old, old))

    assert.Equal(t, 1, CleanupTemps(dir, time.Hour))
    assert.NoDirExists(t, stale)
    assert.DirExists(t, fresh)
    assert.DirExists(t, other)
}

func TestContentDispositionNames(t *testing.T) {
    for _, name := range []string{"plain.pdf", `quote"d.pdf`, "rapport-été.pdf", "отчёт.pdf"} {
        rec := httptest.NewRecorder()
        writeArtifact(rec, name, "application/pdf", "", []byte("%PDF-"), nil)
        cd := rec.Header().Get("Content-Disposition")
        disp, params, err := mime.ParseMediaType(cd)
        require.NoError(t, err, cd)
        assert.Equal(t, "attachment", disp)
        assert.Equal(t, name, params["filename"], cd)
    }
}
