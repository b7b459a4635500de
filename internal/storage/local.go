package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pixyard/pixyard/internal/uid"
)

// LocalStore implements the ObjectStore interface using the local filesystem.
// Objects are stored as files within a configurable root directory, organized
// by bucket and key path.
type LocalStore struct {
	// RootDir is the base directory under which all bucket and object data
	// is stored.
	RootDir string
}

// NewLocalStore creates a new LocalStore rooted at the given directory.
// It creates the root directory and the temp directory if they do not exist.
func NewLocalStore(rootDir string) (*LocalStore, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root directory %q: %w", rootDir, err)
	}
	// Create the .tmp directory for atomic writes.
	tmpDir := filepath.Join(rootDir, ".tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory %q: %w", tmpDir, err)
	}
	return &LocalStore{RootDir: rootDir}, nil
}

// CleanTempFiles removes all files in the .tmp directory. This is called on
// startup; any temp files left behind indicate incomplete writes from a
// previous crash.
func (s *LocalStore) CleanTempFiles() error {
	tmpDir := filepath.Join(s.RootDir, ".tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading temp directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(tmpDir, entry.Name()))
		}
	}
	return nil
}

// objectPath returns the full filesystem path for an object.
func (s *LocalStore) objectPath(bucket, key string) string {
	return filepath.Join(s.RootDir, bucket, filepath.FromSlash(key))
}

// tempPath returns a unique temporary file path in the .tmp directory.
func (s *LocalStore) tempPath() string {
	return filepath.Join(s.RootDir, ".tmp", "tmp-"+uid.New())
}

// PutObject writes object data using the atomic write pattern: write to a
// temp file, fsync, rename.
func (s *LocalStore) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64) error {
	objPath := s.objectPath(bucket, key)

	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		return fmt.Errorf("creating parent directories for %q/%q: %w", bucket, key, err)
	}

	tmpPath := s.tempPath()
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	if _, err := io.Copy(f, reader); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing object data: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing object data: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, objPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file into place: %w", err)
	}
	return nil
}

// GetObject opens the object file for reading.
func (s *LocalStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	objPath := s.objectPath(bucket, key)

	f, err := os.Open(objPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("opening object %q/%q: %w", bucket, key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("statting object %q/%q: %w", bucket, key, err)
	}
	return f, info.Size(), nil
}

// DeleteObject removes the object file. Missing files are not an error.
func (s *LocalStore) DeleteObject(ctx context.Context, bucket, key string) error {
	objPath := s.objectPath(bucket, key)
	if err := os.Remove(objPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting object %q/%q: %w", bucket, key, err)
	}
	// Best effort: remove the owner directory if it is now empty.
	os.Remove(filepath.Dir(objPath))
	return nil
}

func (s *LocalStore) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := os.Stat(s.objectPath(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("statting object %q/%q: %w", bucket, key, err)
	}
	return true, nil
}

// ListObjects walks the bucket directory and returns keys under the prefix
// in lexicographic order. The cursor is the last key of the previous page.
func (s *LocalStore) ListObjects(ctx context.Context, bucket, prefix string, opts ListOptions) (*ListResult, error) {
	bucketDir := filepath.Join(s.RootDir, bucket)

	var keys []string
	err := filepath.WalkDir(bucketDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(bucketDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && key > opts.Cursor {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking bucket %q: %w", bucket, err)
	}
	sort.Strings(keys)

	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}
	result := &ListResult{}
	if len(keys) > limit {
		result.Keys = keys[:limit]
		result.NextCursor = keys[limit-1]
	} else {
		result.Keys = keys
	}
	return result, nil
}

// HealthCheck verifies the root directory is accessible.
func (s *LocalStore) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(s.RootDir); err != nil {
		return fmt.Errorf("storage root inaccessible: %w", err)
	}
	return nil
}
