// Package storage keeps uploaded inputs and finished artifacts for queued
// jobs, on local disk or in S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/local/pdfdesk/internal/config"
)

// ErrNotFound is returned when a key does not exist (or has expired).
var ErrNotFound = errors.New("object not found")

// Object is one stored blob and its descriptive metadata.
type Object struct {
	Key         string
	Name        string
	ContentType string
	Data        []byte
	Meta        map[string]string
	Created     time.Time
}

// Store persists objects by key.
type Store interface {
	Put(ctx context.Context, obj *Object) error
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
	Backend() string
}

// Key kinds.
const (
	KindUpload   = "uploads"
	KindArtifact = "artifacts"
)

// NewKey returns a fresh key such as "artifacts/<uuid>".
func NewKey(kind string) string {
	return kind + "/" + uuid.NewString()
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	var sealer *Sealer
	if cfg.EncryptionKey != "" {
		sealer = NewSealer(cfg.EncryptionKey)
	}
	switch cfg.Backend {
	case "", "local":
		return NewLocal(cfg.LocalDir, sealer)
	case "s3":
		return NewS3(ctx, S3Options{
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		}, sealer)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
