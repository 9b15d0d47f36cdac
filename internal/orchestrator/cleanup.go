package orchestrator

import (
    "context"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/rs/zerolog/log"

    "github.com/local/pdfdesk/internal/converter"
)

// CleanupTemps removes conversion scratch directories under dir older than
// maxAge. They are normally removed by the converter; a killed process can
// leave them behind. Returns the number removed.
func CleanupTemps(dir string, maxAge time.Duration) int {
    entries, err := os.ReadDir(dir)
    if err != nil { return 0 }
    now := time.Now()
    removed := 0
    for _, e := range entries {
        if !strings.HasPrefix(e.Name(), converter.WorkDirPrefix) { continue }
        info, err := e.Info()
        if err != nil { continue }
        if now.Sub(info.ModTime()) < maxAge { continue }
        if err := os.RemoveAll(filepath.Join(dir, e.Name())); err == nil { removed++ }
    }
    return removed
}

// RunJanitor calls CleanupTemps every interval until ctx is done.
func RunJanitor(ctx context.Context, dir string, every, maxAge time.Duration) {
    if every <= 0 { return }
    ticker := time.NewTicker(every)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-ticker.C:
            if n := CleanupTemps(dir, maxAge); n > 0 {
                log.Info().Int("removed", n).Str("dir", dir).Msg("removed stale conversion directories")
            }
        }
    }
}
