package checkpoint

import (
	"context"
	"sort"
	"strings"
	"time"

	dfgerr "github.com/logflow/dfgflow/pkg/errors"
	"github.com/logflow/dfgflow/pkg/storage"
)

// S3Config configures the S3 snapshot backend.
type S3Config struct {
	// Bucket is the S3 bucket for storing snapshots
	Bucket string

	// Prefix is prepended to all snapshot keys (e.g., "snapshots/")
	Prefix string

	// Region is the AWS region
	Region string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string

	// TTL is checked against the snapshot creation time on Load.
	TTL time.Duration

	// Timeout for S3 operations
	Timeout time.Duration
}

// DefaultS3Config returns sensible defaults.
func DefaultS3Config(bucket string) S3Config {
	return S3Config{
		Bucket:  bucket,
		Prefix:  "snapshots/",
		Timeout: 30 * time.Second,
	}
}

// S3Backend stores one JSON object per snapshot.
type S3Backend struct {
	cfg   S3Config
	store *storage.S3Storage
}

// NewS3Backend creates a new S3 snapshot backend.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	store, err := storage.NewS3Storage(ctx, storage.S3Config{
		Region:           cfg.Region,
		Bucket:           cfg.Bucket,
		Endpoint:         cfg.Endpoint,
		AccessKeyID:      cfg.AccessKeyID,
		SecretAccessKey:  cfg.SecretAccessKey,
		OperationTimeout: cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return &S3Backend{cfg: cfg, store: store}, nil
}

func (b *S3Backend) key(id string) string {
	return b.cfg.Prefix + id + ".json"
}

// Save uploads a snapshot.
func (b *S3Backend) Save(ctx context.Context, s *Snapshot) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	return b.store.Put(ctx, b.key(s.Key), data, "application/json")
}

// Load downloads a snapshot.
func (b *S3Backend) Load(ctx context.Context, key string) (*Snapshot, error) {
	data, err := b.store.Get(ctx, b.key(key))
	if err != nil {
		if dfgerr.IsCode(err, dfgerr.CodeFileNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if s.Expired(b.cfg.TTL, time.Now()) {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete removes a snapshot object.
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	return b.store.Delete(ctx, b.key(key))
}

// List returns the keys of all snapshot objects under the prefix.
func (b *S3Backend) List(ctx context.Context) ([]string, error) {
	objects, err := b.store.List(ctx, b.cfg.Prefix)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, obj := range objects {
		id := strings.TrimPrefix(obj, b.cfg.Prefix)
		if strings.HasSuffix(id, ".json") {
			keys = append(keys, strings.TrimSuffix(id, ".json"))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Name returns "s3".
func (b *S3Backend) Name() string {
	return "s3"
}
