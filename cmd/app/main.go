package main

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "os"
    "os/signal"
    "syscall"

    redis "github.com/redis/go-redis/v9"
    "github.com/rs/zerolog/log"

    "github.com/local/pdfdesk/internal/assembler"
    cfgpkg "github.com/local/pdfdesk/internal/config"
    "github.com/local/pdfdesk/internal/converter"
    "github.com/local/pdfdesk/internal/dispatcher"
    "github.com/local/pdfdesk/internal/document"
    "github.com/local/pdfdesk/internal/guard"
    logpkg "github.com/local/pdfdesk/internal/logger"
    "github.com/local/pdfdesk/internal/metrics"
    "github.com/local/pdfdesk/internal/orchestrator"
    "github.com/local/pdfdesk/internal/preview"
    "github.com/local/pdfdesk/internal/queue"
    "github.com/local/pdfdesk/internal/statuscheck"
    "github.com/local/pdfdesk/internal/storage"
    "github.com/local/pdfdesk/internal/store"
)

func main() {
    cfg := cfgpkg.Load()

    if err := logpkg.Init(logpkg.OptionsFrom(cfg)); err != nil {
        fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
    }
    defer logpkg.Close()
    metrics.Init()

    ctx, stopBackground := context.WithCancel(context.Background())
    defer stopBackground()

    // Document engine
    lib := document.NewPDFCPU(document.PDFCPUOptions{StrictValidation: cfg.Assembly.StrictValidation})
    var conv assembler.Converter
    converterVersion := ""
    tempDir := os.TempDir()
    if cfg.Converter.Enabled {
        lo, err := converter.NewLibreOffice(converter.Options{
            Binary:     cfg.Converter.Binary,
            MaxWorkers: cfg.Converter.Workers,
            Timeout:    cfg.Converter.Timeout,
            TempDir:    tempDir,
        })
        if err != nil {
            log.Warn().Err(err).Msg("office conversion disabled")
        } else {
            conv, converterVersion = lo, lo.Version()
            go orchestrator.RunJanitor(ctx, tempDir, cfg.Storage.SweepEvery, cfg.Converter.Timeout*2)
        }
    }
    asm := assembler.New(lib, conv)

    var render *preview.Service
    if cfg.Render.Enabled {
        r, err := preview.New(preview.Options{DPI: cfg.Render.DPI, JPEGQuality: cfg.Render.JPEGQuality})
        if err != nil {
            log.Warn().Err(err).Msg("page previews disabled")
        } else {
            render = r
        }
    }

    level, err := assembler.ParseCompressionLevel(cfg.Assembly.CompressionLevel)
    if err != nil {
        log.Warn().Err(err).Msg("unknown default compression level, using recommended")
        level = assembler.Recommended
    }

    // Storage
    objects, err := storage.New(ctx, cfg.Storage)
    if err != nil {
        log.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("failed to init storage")
    }
    if local, ok := objects.(*storage.Local); ok {
        go local.RunSweeper(ctx, cfg.Storage.SweepEvery, cfg.Storage.ArtifactTTL)
    }

    // Queue, status store and guard: Redis when enabled, in-process otherwise
    var (
        q      queue.Queue
        status store.StatusStore
        rdb    *redis.Client
    )
    queueBackend := "memory"
    if cfg.Queue.Enabled {
        rdb, err = queue.Connect(ctx, cfg.Queue.RedisURL)
        if err != nil {
            log.Fatal().Err(err).Msg("failed to connect to redis")
        }
        defer rdb.Close()
        rq, err := queue.NewRedisQueue(ctx, rdb, cfg.Queue.Stream, cfg.Queue.Group)
        if err != nil {
            log.Fatal().Err(err).Msg("failed to init redis queue")
        }
        q, status, queueBackend = rq, store.NewRedisStatus(rdb, cfg.Queue.StatusTTL), "redis"
    } else {
        q, status = queue.NewMemory(256), store.NewMemoryStatus()
    }
    defer q.Close()
    g := guard.New(rdb, cfg.Assembly.GuardTTL)

    runner := dispatcher.NewRunner(asm, render, g, level)
    var renderer statuscheck.PageCounter
    if render != nil { renderer = render }

    // Dispatcher workers
    host, _ := os.Hostname()
    disp := dispatcher.New(dispatcher.Config{
        Concurrency:  cfg.Worker.Concurrency,
        JobTimeout:   cfg.Worker.JobTimeout,
        PollInterval: cfg.Queue.PollInterval,
        Consumer:     host,
    }, q, status, objects, runner)
    disp.Start()

    // HTTP server
    orch := orchestrator.New(orchestrator.Dependencies{
        Runner:  runner,
        Queue:   q,
        Status:  status,
        Objects: objects,
        Checker: statuscheck.New(statuscheck.Options{
            Queue:            q,
            QueueBackend:     queueBackend,
            Storage:          objects,
            StorageBackend:   objects.Backend(),
            ConverterVersion: converterVersion,
            Renderer:         renderer,
        }),
        MaxUploadBytes: cfg.Server.MaxUploadBytes,
        RequestTimeout: cfg.Worker.JobTimeout,
    })
    mux := http.NewServeMux()
    orch.RegisterRoutes(mux)

    srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux}
    go func() {
        log.Info().Str("port", cfg.Server.Port).Str("queue", queueBackend).Str("storage", objects.Backend()).Msg("HTTP server listening")
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.Fatal().Err(err).Msg("http server error")
        }
    }()

    // Graceful shutdown
    stop := make(chan os.Signal, 1)
    signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
    <-stop
    log.Info().Msg("shutting down")
    shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
    defer cancel()
    if err := srv.Shutdown(shutdownCtx); err != nil {
        log.Warn().Err(err).Msg("http shutdown")
    }
    if err := disp.Stop(shutdownCtx); err != nil {
        log.Warn().Err(err).Msg("workers did not stop in time")
    }
    stopBackground()
    log.Info().Msg("shutdown complete")
}
