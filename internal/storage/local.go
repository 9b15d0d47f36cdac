package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Local stores objects as files under a directory: <key>.bin holds the
// (optionally sealed) payload and <key>.json the metadata.
type Local struct {
	dir    string
	sealer *Sealer
	now    func() time.Time
}

type localMeta struct {
	Name        string            `json:"name"`
	ContentType string            `json:"content_type"`
	Meta        map[string]string `json:"meta,omitempty"`
	Created     time.Time         `json:"created"`
	Sealed      bool              `json:"sealed"`
}

func NewLocal(dir string, sealer *Sealer) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("local storage: empty directory")
	}
	for _, kind := range []string{KindUpload, KindArtifact} {
		if err := os.MkdirAll(filepath.Join(dir, kind), 0o755); err != nil {
			return nil, fmt.Errorf("local storage: %w", err)
		}
	}
	return &Local{dir: dir, sealer: sealer, now: time.Now}, nil
}

func (l *Local) Backend() string { return "local" }

// path maps a key to its file stem, rejecting anything NewKey could not produce.
func (l *Local) path(key string) (string, error) {
	kind, id, ok := strings.Cut(key, "/")
	if !ok || (kind != KindUpload && kind != KindArtifact) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return filepath.Join(l.dir, kind, id), nil
}

func (l *Local) Put(ctx context.Context, obj *Object) error {
	p, err := l.path(obj.Key)
	if err != nil {
		return err
	}
	if obj.Created.IsZero() {
		obj.Created = l.now()
	}
	payload, err := l.sealer.seal(obj.Data)
	if err != nil {
		return fmt.Errorf("seal %s: %w", obj.Key, err)
	}
	meta, err := json.Marshal(localMeta{
		Name:        obj.Name,
		ContentType: obj.ContentType,
		Meta:        obj.Meta,
		Created:     obj.Created,
		Sealed:      l.sealer != nil,
	})
	if err != nil {
		return err
	}
	if err := writeAtomic(p+".bin", payload); err != nil {
		return err
	}
	if err := writeAtomic(p+".json", meta); err != nil {
		_ = os.Remove(p + ".bin")
		return err
	}
	log.Debug().Str("key", obj.Key).Int("bytes", len(obj.Data)).Msg("stored object locally")
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp, path)
}

func (l *Local) Get(ctx context.Context, key string) (*Object, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	rawMeta, err := os.ReadFile(p + ".json")
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	var m localMeta
	if err := json.Unmarshal(rawMeta, &m); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", key, err)
	}
	payload, err := os.ReadFile(p + ".bin")
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	if m.Sealed {
		if l.sealer == nil {
			return nil, fmt.Errorf("object %s is sealed but no encryption key is configured", key)
		}
		if payload, err = l.sealer.Open(payload); err != nil {
			return nil, err
		}
	}
	return &Object{Key: key, Name: m.Name, ContentType: m.ContentType, Data: payload, Meta: m.Meta, Created: m.Created}, nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	for _, ext := range []string{".json", ".bin"} {
		if err := os.Remove(p + ext); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (l *Local) Ping(ctx context.Context) error {
	_, err := os.Stat(l.dir)
	return err
}

// Sweep removes objects whose files are older than maxAge and returns how
// many were removed.
func (l *Local) Sweep(maxAge time.Duration) int {
	now := l.now()
	removed := 0
	_ = filepath.Walk(l.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		name := info.Name()
		if !strings.HasSuffix(name, ".bin") && !strings.HasSuffix(name, ".tmp") {
			return nil
		}
		if now.Sub(info.ModTime()) < maxAge {
			return nil
		}
		_ = os.Remove(path)
		if strings.HasSuffix(name, ".bin") {
			_ = os.Remove(strings.TrimSuffix(path, ".bin") + ".json")
			removed++
		}
		return nil
	})
	if removed > 0 {
		log.Info().Int("removed", removed).Dur("max_age", maxAge).Msg("swept expired objects")
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (l *Local) RunSweeper(ctx context.Context, every, maxAge time.Duration) {
	if every <= 0 || maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(maxAge)
		}
	}
}
