// Package storage provides unified access to local files and S3 objects for
// event log inputs and rendered outputs.
// Supports: local paths, file:// and s3:// URLs.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	dfgerr "github.com/logflow/dfgflow/pkg/errors"
)

// Storage provides a unified interface for reading/writing data.
type Storage interface {
	// Reader returns a reader for the given path.
	Reader(ctx context.Context, path string) (io.ReadCloser, int64, error)

	// Writer returns a writer for the given path. Data is committed on Close.
	Writer(ctx context.Context, path string) (io.WriteCloser, error)

	// Stat returns file info.
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// Scheme returns the storage scheme (file, s3).
	Scheme() string
}

// FileInfo holds file metadata.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime int64
}

// IsRemote reports whether location names an object store rather than a
// local path.
func IsRemote(location string) bool {
	scheme, _, _ := ParsePath(location)
	return scheme == "s3"
}

// ParsePath extracts scheme, bucket and key from a location. Local paths
// report scheme "file" with the path as key.
func ParsePath(location string) (scheme, bucket, key string) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Local file (or Windows drive letter)
		return "file", "", location
	}
	if u.Scheme == "file" {
		return "file", "", u.Path
	}
	return u.Scheme, u.Host, strings.TrimPrefix(u.Path, "/")
}

// Open returns the storage for a location and the path to use with it.
func Open(ctx context.Context, location string, s3cfg S3Config) (Storage, string, error) {
	scheme, bucket, key := ParsePath(location)
	switch scheme {
	case "file":
		return &LocalStorage{}, key, nil
	case "s3":
		if bucket == "" {
			return nil, "", dfgerr.InvalidConfig("location", location, "s3 URL has no bucket")
		}
		s3cfg.Bucket = bucket
		st, err := NewS3Storage(ctx, s3cfg)
		if err != nil {
			return nil, "", err
		}
		return st, key, nil
	default:
		return nil, "", dfgerr.InvalidConfig("location", location, fmt.Sprintf("unsupported storage scheme %q", scheme))
	}
}

// Fetch makes location available as a local file. Local paths are returned
// as is; remote objects are downloaded into a temporary file that keeps
// the object's extension. The cleanup function removes any temporary file
// and is never nil.
func Fetch(ctx context.Context, location string, s3cfg S3Config) (string, func(), error) {
	noop := func() {}
	if !IsRemote(location) {
		_, _, path := ParsePath(location)
		return path, noop, nil
	}

	st, key, err := Open(ctx, location, s3cfg)
	if err != nil {
		return "", noop, err
	}
	r, _, err := st.Reader(ctx, key)
	if err != nil {
		return "", noop, err
	}
	defer r.Close()

	tmp, err := os.CreateTemp("", "dfgflow-*"+filepath.Ext(key))
	if err != nil {
		return "", noop, dfgerr.Wrap(err, dfgerr.CodeStorage, "create download file")
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		cleanup()
		return "", noop, dfgerr.Wrap(err, dfgerr.CodeStorage, "download object").WithContext("location", location)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", noop, dfgerr.Wrap(err, dfgerr.CodeStorage, "download object").WithContext("location", location)
	}
	return tmp.Name(), cleanup, nil
}

// Upload copies the local file at src to location.
func Upload(ctx context.Context, src, location string, s3cfg S3Config) error {
	st, key, err := Open(ctx, location, s3cfg)
	if err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		return dfgerr.Wrap(err, dfgerr.CodeStorage, "open upload source").WithContext("path", src)
	}
	defer f.Close()

	w, err := st.Writer(ctx, key)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return dfgerr.Wrap(err, dfgerr.CodeStorage, "upload").WithContext("location", location)
	}
	if err := w.Close(); err != nil {
		return dfgerr.Wrap(err, dfgerr.CodeStorage, "upload").WithContext("location", location)
	}
	return nil
}

// --- Local Storage ---

// LocalStorage handles local file operations.
type LocalStorage struct{}

func (s *LocalStorage) Scheme() string { return "file" }

func (s *LocalStorage) Reader(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, dfgerr.FileNotFound(path)
		}
		return nil, 0, dfgerr.Wrap(err, dfgerr.CodeStorage, "open file").WithContext("path", path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, dfgerr.Wrap(err, dfgerr.CodeStorage, "stat file").WithContext("path", path)
	}

	return f, info.Size(), nil
}

func (s *LocalStorage) Writer(ctx context.Context, path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, dfgerr.Wrap(err, dfgerr.CodeStorage, "create directory").WithContext("path", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, dfgerr.Wrap(err, dfgerr.CodeStorage, "create file").WithContext("path", path)
	}
	return f, nil
}

func (s *LocalStorage) Stat(ctx context.Context, path string) (*FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dfgerr.FileNotFound(path)
		}
		return nil, dfgerr.Wrap(err, dfgerr.CodeStorage, "stat file").WithContext("path", path)
	}
	return &FileInfo{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime().Unix(),
	}, nil
}
