package orchestrator

import (
    "net/http"
    "time"

    "github.com/local/pdfdesk/internal/logger"
)

type statusRecorder struct {
    http.ResponseWriter
    code  int
    bytes int
}

func (s *statusRecorder) WriteHeader(code int) {
    s.code = code
    s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
    if s.code == 0 { s.code = http.StatusOK }
    n, err := s.ResponseWriter.Write(b)
    s.bytes += n
    return n, err
}

// logged writes one access log line per request.
func logged(next http.HandlerFunc) http.HandlerFunc {
    return func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rec := &statusRecorder{ResponseWriter: w}
        next(rec, r)
        l := logger.Component("http")
        ev := l.Info()
        if rec.code >= 500 { ev = l.Error() } else if rec.code >= 400 { ev = l.Warn() }
        ev.Str("method", r.Method).
            Str("path", r.URL.Path).
            Int("code", rec.code).
            Int("bytes", rec.bytes).
            Dur("duration", time.Since(start)).
            Msg("request")
    }
}
