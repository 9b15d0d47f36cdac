package metrics

import (
    "net/http"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    operations = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "pdfdesk",
            Name:      "operations_total",
            Help:      "Total document operations by operation and result kind",
        },
        []string{"op", "result"},
    )

    operationLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Namespace: "pdfdesk",
            Name:      "operation_duration_seconds",
            Help:      "Duration of document operations by operation",
            Buckets:   prometheus.DefBuckets,
        },
        []string{"op"},
    )

    pagesProcessed = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "pdfdesk",
            Name:      "pages_processed_total",
            Help:      "Pages written into outputs by operation",
        },
        []string{"op"},
    )

    outputBytes = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Namespace: "pdfdesk",
            Name:      "output_bytes",
            Help:      "Size of produced artifacts by operation",
            Buckets:   prometheus.ExponentialBuckets(16<<10, 4, 8),
        },
        []string{"op"},
    )

    compressionDelta = prometheus.NewHistogram(
        prometheus.HistogramOpts{
            Namespace: "pdfdesk",
            Name:      "compression_delta_percent",
            Help:      "Size reduction achieved by compress; negative when output grew",
            Buckets:   []float64{-50, -10, 0, 5, 10, 25, 50, 75},
        },
    )

    jobs = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "pdfdesk",
            Name:      "jobs_total",
            Help:      "Queued jobs by final status (success, failed, skipped)",
        },
        []string{"status"},
    )

    queueDepth = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{
            Namespace: "pdfdesk",
            Name:      "queue_depth",
            Help:      "Queue depth gauges for stream and pending entries",
        },
        []string{"type"},
    )

    busyRejections = prometheus.NewCounter(
        prometheus.CounterOpts{
            Namespace: "pdfdesk",
            Name:      "busy_rejections_total",
            Help:      "Requests rejected because the same document was already in flight",
        },
    )
)

// Init registers collectors.
func Init() {
    prometheus.MustRegister(operations, operationLatency, pagesProcessed, outputBytes, compressionDelta, jobs, queueDepth, busyRejections)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveOperation(op, result string, dur time.Duration) {
    operations.WithLabelValues(op, result).Inc()
    operationLatency.WithLabelValues(op).Observe(dur.Seconds())
}

func AddPages(op string, n int) {
    if n > 0 { pagesProcessed.WithLabelValues(op).Add(float64(n)) }
}

func ObserveOutput(op string, size int64) { outputBytes.WithLabelValues(op).Observe(float64(size)) }

func ObserveCompression(percent int) { compressionDelta.Observe(float64(percent)) }

func IncJob(status string) { jobs.WithLabelValues(status).Inc() }

func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }

func IncBusy() { busyRejections.Inc() }
