// Package gcs reads and writes blobs addressed either by a local path or by a
// Google Cloud Storage URI ("gs://bucket/object").
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const scheme = "gs://"

var (
	// ErrNotFound is returned when the object or file does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidURI is returned for a gs:// URI without bucket or object.
	ErrInvalidURI = errors.New("invalid GCS URI")
)

// IsURI reports whether location is a gs:// URI.
func IsURI(location string) bool {
	return strings.HasPrefix(location, scheme)
}

// ParseURI splits "gs://bucket/path/to/object" into bucket and object.
// The object may be empty only when allowEmptyObject is set (for prefixes).
func ParseURI(uri string, allowEmptyObject bool) (bucket, object string, err error) {
	if !IsURI(uri) {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURI, uri)
	}
	trimmed := strings.TrimPrefix(uri, scheme)
	parts := strings.SplitN(trimmed, "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		object = parts[1]
	}
	if bucket == "" || (object == "" && !allowEmptyObject) {
		return "", "", fmt.Errorf("%w (no object path): %s", ErrInvalidURI, uri)
	}
	return bucket, object, nil
}

// FileName returns the last path element of a location.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func FileName(location string) string {
	if IsURI(location) {
		trimmed := strings.TrimPrefix(location, scheme)
		parts := strings.SplitN(trimmed, "/", 2)
		if len(parts) < 2 {
			return trimmed
		}
		return path.Base(parts[1])
	}
	return filepath.Base(location)
}

// Join appends path elements to a local directory or gs:// prefix.
func Join(base string, elem ...string) string {
	if IsURI(base) {
		return strings.TrimSuffix(base, "/") + "/" + path.Join(elem...)
	}
	return filepath.Join(append([]string{base}, elem...)...)
}

// Store resolves locations to blobs. The storage client is created on first
// use of a gs:// location, so purely local use needs no credentials.
type Store struct {
	opts []option.ClientOption

	mu     sync.Mutex
	client *storage.Client
}

// NewStore returns a Store; opts are passed to storage.NewClient.
func NewStore(opts ...option.ClientOption) *Store {
	return &Store{opts: opts}
}

// NewStoreWithClient uses an existing client.
func NewStoreWithClient(client *storage.Client) *Store {
	return &Store{client: client}
}

func (s *Store) storageClient(ctx context.Context) (*storage.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	client, err := storage.NewClient(ctx, s.opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	s.client = client
	return client, nil
}

// Close releases the storage client, if one was created.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// Fetch returns the bytes at location.
func (s *Store) Fetch(ctx context.Context, location string) ([]byte, error) {
	if !IsURI(location) {
		data, err := os.ReadFile(location)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("Fetch %s: %w", location, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("Fetch %s: %w", location, err)
		}
		return data, nil
	}

	bucket, object, err := ParseURI(location, false)
	if err != nil {
		return nil, err
	}
	client, err := s.storageClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}

	rc, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("Fetch %s: %w", location, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading bytes: %w", err)
	}
	return data, nil
}

// Put writes data to location, replacing any existing content. Local writes
// go through a temp file and rename so readers never see a partial file.
func (s *Store) Put(ctx context.Context, location string, data []byte, contentType string) error {
	if !IsURI(location) {
		return writeFileAtomic(location, data)
	}

	bucket, object, err := ParseURI(location, false)
	if err != nil {
		return err
	}
	client, err := s.storageClient(ctx)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}

	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("Put: write %s: %w", location, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("Put: finalize upload %s: %w", location, err)
	}
	return nil
}

// List returns the locations of objects under prefix, sorted. For a local
// prefix naming a directory, the regular files directly inside it are listed.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if !IsURI(prefix) {
		return listLocal(prefix)
	}

	bucket, objPrefix, err := ParseURI(prefix, true)
	if err != nil {
		return nil, err
	}
	client, err := s.storageClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}

	var out []string
	it := client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: objPrefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("List %s: %w", prefix, err)
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		out = append(out, scheme+bucket+"/"+attrs.Name)
	}
	sort.Strings(out)
	return out, nil
}

func listLocal(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("List %s: %w", dir, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("List %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func writeFileAtomic(name string, data []byte) error {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("Put: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(name)+".*")
	if err != nil {
		return fmt.Errorf("Put: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("Put: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("Put: close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf("Put: rename %s: %w", name, err)
	}
	return nil
}
