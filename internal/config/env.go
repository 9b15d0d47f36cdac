package config

import (
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
    Level        string
    Pretty       bool
    File         string
    MaxSizeMB    int
    MaxBackups   int
    MaxAgeDays   int
    Compress     bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
    Send          bool
    APIKey        string
    OrgID         string
    Dataset       string
    FlushInterval time.Duration
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
    Port            string
    MaxUploadBytes  int64
    ShutdownTimeout time.Duration
}

// StorageConfig selects where uploads and artifacts are kept.
type StorageConfig struct {
    Backend     string // "local"|"s3"
    LocalDir    string
    Bucket      string
    Prefix      string
    Region      string
    Endpoint    string
    AccessKey   string
    SecretKey   string
    // EncryptionKey, when set, seals stored objects at rest.
    EncryptionKey string
    ArtifactTTL time.Duration
    SweepEvery  time.Duration
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
    Enabled      bool
    RedisURL     string
    Stream       string
    Group        string
    PollInterval time.Duration
    StatusTTL    time.Duration
}

// WorkerConfig defines background worker behavior and limits.
type WorkerConfig struct {
    Concurrency int
    JobTimeout  time.Duration
}

// RenderConfig controls page previews.
type RenderConfig struct {
    Enabled     bool
    DPI         float64
    JPEGQuality int
}

// ConverterConfig controls office-to-PDF conversion.
type ConverterConfig struct {
    Enabled bool
    Binary  string
    Workers int
    Timeout time.Duration
}

// AssemblyConfig holds defaults for document operations.
type AssemblyConfig struct {
    CompressionLevel string
    StrictValidation bool
    GuardTTL         time.Duration
}

// Config is the top-level configuration.
type Config struct {
    Logging   LoggingConfig
    Axiom     AxiomConfig
    Server    ServerConfig
    Storage   StorageConfig
    Queue     QueueConfig
    Worker    WorkerConfig
    Render    RenderConfig
    Converter ConverterConfig
    Assembly  AssemblyConfig
}

// Load reads ENV_FILE (default .env) when present, then the environment.
// Variables already set in the environment win over the file.
func Load() Config {
    _ = godotenv.Load(getEnv("ENV_FILE", ".env"))
    return FromEnv()
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
    cfg := Config{}

    // Logging defaults
    cfg.Logging = LoggingConfig{
        Level:      getEnv("LOG_LEVEL", "info"),
        Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
        File:       getEnv("LOG_FILE", "logs/pdfdesk.log"),
        MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
        MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
        MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
        Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
    }

    baseDataset := getEnv("AXIOM_DATASET", "dev")
    cfg.Axiom = AxiomConfig{
        Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
        APIKey:        getEnv("AXIOM_API_KEY", ""),
        OrgID:         getEnv("AXIOM_ORG_ID", ""),
        Dataset:       baseDataset + "_pdfdesk",
        FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
    }

    cfg.Server = ServerConfig{
        Port:            getEnv("PORT", "8080"),
        MaxUploadBytes:  int64(parseInt(getEnv("MAX_UPLOAD_MB", "100"), 100)) << 20,
        ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "15s"), 15*time.Second),
    }

    cfg.Storage = StorageConfig{
        Backend:     strings.ToLower(getEnv("STORAGE_BACKEND", "local")),
        LocalDir:    getEnv("STORAGE_DIR", "data/artifacts"),
        Bucket:      getEnv("S3_BUCKET", ""),
        Prefix:      getEnv("S3_PREFIX", "pdfdesk"),
        Region:      getEnv("AWS_REGION", "us-east-1"),
        Endpoint:    getEnv("S3_ENDPOINT", ""),
        AccessKey:   getEnv("AWS_ACCESS_KEY_ID", ""),
        SecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
        EncryptionKey: getEnv("STORAGE_ENCRYPTION_KEY", ""),
        ArtifactTTL: parseDuration(getEnv("ARTIFACT_TTL", "1h"), time.Hour),
        SweepEvery:  parseDuration(getEnv("ARTIFACT_SWEEP_INTERVAL", "5m"), 5*time.Minute),
    }

    cfg.Queue = QueueConfig{
        Enabled:      parseBool(getEnv("QUEUE_ENABLED", "false")),
        RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
        Stream:       getEnv("QUEUE_STREAM", "jobs:pdfdesk"),
        Group:        getEnv("QUEUE_GROUP", "workers:pdfdesk"),
        PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "2s"), 2*time.Second),
        StatusTTL:    parseDuration(getEnv("JOB_STATUS_TTL", "24h"), 24*time.Hour),
    }

    cfg.Worker = WorkerConfig{
        Concurrency: parseInt(getEnv("WORKER_CONCURRENCY", "4"), 4),
        JobTimeout:  parseDuration(getEnv("JOB_TIMEOUT", "5m"), 5*time.Minute),
    }
    if cfg.Worker.Concurrency < 1 { cfg.Worker.Concurrency = 1 }

    cfg.Render = RenderConfig{
        Enabled:     parseBool(getEnv("RENDER_ENABLED", "true")),
        DPI:         parseFloat(getEnv("RENDER_DPI", "72"), 72),
        JPEGQuality: parseInt(getEnv("RENDER_JPEG_QUALITY", "80"), 80),
    }

    cfg.Converter = ConverterConfig{
        Enabled: parseBool(getEnv("CONVERTER_ENABLED", "true")),
        Binary:  getEnv("LIBREOFFICE_BIN", ""),
        Workers: parseInt(getEnv("CONVERTER_WORKERS", "2"), 2),
        Timeout: parseDuration(getEnv("CONVERTER_TIMEOUT", "120s"), 120*time.Second),
    }

    cfg.Assembly = AssemblyConfig{
        CompressionLevel: getEnv("DEFAULT_COMPRESSION_LEVEL", "recommended"),
        StrictValidation: parseBool(getEnv("PDF_STRICT_VALIDATION", "false")),
        GuardTTL:         parseDuration(getEnv("GUARD_TTL", "10m"), 10*time.Minute),
    }

    return cfg
}

// Helpers
func getEnv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

func parseInt(s string, def int) int {
    if s == "" { return def }
    if n, err := strconv.Atoi(s); err == nil { return n }
    return def
}

func parseFloat(s string, def float64) float64 {
    if s == "" { return def }
    if f, err := strconv.ParseFloat(s, 64); err == nil { return f }
    return def
}

func parseBool(s string) bool {
    v := strings.ToLower(strings.TrimSpace(s))
    return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
    if s == "" { return def }
    if d, err := time.ParseDuration(s); err == nil { return d }
    return def
}

func devDefaultPretty() string {
    env := strings.ToLower(os.Getenv("ENVIRONMENT"))
    if env == "dev" || env == "development" || env == "local" { return "true" }
    return "false"
}
