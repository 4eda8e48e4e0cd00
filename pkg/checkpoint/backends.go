package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/logflow/dfgflow/pkg/config"
	dfgerr "github.com/logflow/dfgflow/pkg/errors"
)

// Backend defines the interface for snapshot storage backends.
// Implementations can store snapshots in various locations (local, S3, Redis).
type Backend interface {
	// Save persists a snapshot under its key.
	Save(ctx context.Context, s *Snapshot) error

	// Load retrieves a snapshot by key. Missing or expired snapshots
	// return ErrNotFound.
	Load(ctx context.Context, key string) (*Snapshot, error)

	// Delete removes a snapshot.
	Delete(ctx context.Context, key string) error

	// List returns the stored keys.
	List(ctx context.Context) ([]string, error)

	// Name returns the backend name for logging/debugging.
	Name() string
}

// Open builds the backend selected by cfg. The "none" backend returns nil
// with no error.
func Open(ctx context.Context, cfg config.CacheConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "local":
		return NewLocalBackend(cfg.Dir, cfg.TTL)
	case "redis":
		rc := DefaultRedisConfig(cfg.Redis.Address)
		rc.Password = cfg.Redis.Password
		rc.Database = cfg.Redis.DB
		if cfg.Redis.Prefix != "" {
			rc.Prefix = cfg.Redis.Prefix
		}
		rc.TTL = cfg.TTL
		return NewRedisBackend(ctx, rc)
	case "s3":
		sc := DefaultS3Config(cfg.S3.Bucket)
		if cfg.S3.Prefix != "" {
			sc.Prefix = cfg.S3.Prefix
		}
		sc.Region = cfg.S3.Region
		sc.Endpoint = cfg.S3.Endpoint
		sc.AccessKeyID = cfg.S3.AccessKey
		sc.SecretAccessKey = cfg.S3.SecretKey
		sc.TTL = cfg.TTL
		return NewS3Backend(ctx, sc)
	default:
		return nil, dfgerr.InvalidConfig("cache.backend", cfg.Backend, "unknown cache backend")
	}
}

// LocalBackend stores one JSON file per snapshot in a directory.
type LocalBackend struct {
	dir string
	ttl time.Duration
}

const snapshotExt = ".snapshot"

// NewLocalBackend creates a backend rooted at dir.
func NewLocalBackend(dir string, ttl time.Duration) (*LocalBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, dfgerr.Wrap(err, dfgerr.CodeCache, "create snapshot directory").WithContext("dir", dir)
	}
	return &LocalBackend{dir: dir, ttl: ttl}, nil
}

func (b *LocalBackend) path(key string) string {
	return filepath.Join(b.dir, key+snapshotExt)
}

// Save persists a snapshot to disk.
func (b *LocalBackend) Save(ctx context.Context, s *Snapshot) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}

	// Write to temp file first, then rename (atomic)
	path := b.path(s.Key)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return dfgerr.Wrap(err, dfgerr.CodeCache, "write snapshot").WithContext("path", path)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return dfgerr.Wrap(err, dfgerr.CodeCache, "write snapshot").WithContext("path", path)
	}
	return nil
}

// Load reads a snapshot from disk.
func (b *LocalBackend) Load(ctx context.Context, key string) (*Snapshot, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, dfgerr.Wrap(err, dfgerr.CodeCache, "read snapshot").WithContext("key", key)
	}
	s, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if s.Expired(b.ttl, time.Now()) {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete removes a snapshot file.
func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	err := os.Remove(b.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return dfgerr.Wrap(err, dfgerr.CodeCache, "delete snapshot").WithContext("key", key)
	}
	return nil
}

// List returns the keys of all snapshot files.
func (b *LocalBackend) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, dfgerr.Wrap(err, dfgerr.CodeCache, "list snapshots").WithContext("dir", b.dir)
	}
	var keys []string
	for _, e := range entries {
		if name := e.Name(); strings.HasSuffix(name, snapshotExt) {
			keys = append(keys, strings.TrimSuffix(name, snapshotExt))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Cleanup removes snapshots older than maxAge.
func (b *LocalBackend) Cleanup(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return 0, dfgerr.Wrap(err, dfgerr.CodeCache, "list snapshots").WithContext("dir", b.dir)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), snapshotExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(b.dir, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// Name returns "local".
func (b *LocalBackend) Name() string {
	return "local"
}
