package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"callpipe/internal/services"
)

// Store persists artifacts.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Object describes a stored artifact.
type Object struct {
	URI    string
	Size   int64
	SHA256 string
}

// FileStore keeps objects under a root directory.
type FileStore struct {
	root string
}

// NewFileStore creates root if needed and returns a store rooted there.
func NewFileStore(root string) (*FileStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("object store root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve object store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create object store root: %w", err)
	}
	return &FileStore{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *FileStore) Root() string {
	return s.root
}

// Put writes r to key and returns the object's file:// URI.
func (s *FileStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	obj, err := s.PutObject(ctx, key, r)
	if err != nil {
		return "", err
	}
	return obj.URI, nil
}

// PutObject writes r to key atomically and reports its size and checksum.
// An existing object at key is replaced.
func (s *FileStore) PutObject(ctx context.Context, key string, r io.Reader) (Object, error) {
	target, err := s.resolve(key)
	if err != nil {
		return Object{}, err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Object{}, fmt.Errorf("create object directory: %w", err)
	}

	tmpPath := filepath.Join(dir, ".upload-"+uuid.NewString())
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Object{}, fmt.Errorf("create temp object: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), contextReader{ctx: ctx, r: r})
	if err != nil {
		return Object{}, fmt.Errorf("write object %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		return Object{}, fmt.Errorf("sync object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return Object{}, fmt.Errorf("close object %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return Object{}, fmt.Errorf("commit object %s: %w", key, err)
	}
	committed = true

	return Object{
		URI:    fileURI(target),
		Size:   written,
		SHA256: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open returns a reader for an object previously returned by Put. A missing
// object is reported as services.ErrNotFound.
func (s *FileStore) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	path, err := s.pathFromURI(uri)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open object %s: %w", uri, services.ErrNotFound)
		}
		return nil, fmt.Errorf("open object %s: %w", uri, err)
	}
	return file, nil
}

func (s *FileStore) resolve(key string) (string, error) {
	key = strings.TrimSpace(filepath.ToSlash(key))
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", errors.New("object key is required")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("object key %q escapes the store root", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FileStore) pathFromURI(uri string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return "", fmt.Errorf("parse object uri: %w", err)
	}
	if parsed.Scheme != "file" {
		return "", fmt.Errorf("%w: unsupported object uri scheme %q", services.ErrValidation, parsed.Scheme)
	}
	path := filepath.Clean(filepath.FromSlash(parsed.Path))
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: object uri %q is outside the store root", services.ErrValidation, uri)
	}
	return path, nil
}

func fileURI(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
