package cache

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// BlobDir stores downloaded payloads as files named after their cache key.
type BlobDir struct {
	dir string
}

func NewBlobDir(dir string) (*BlobDir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &BlobDir{dir: dir}, nil
}

// Dir returns the directory backing the store.
func (d *BlobDir) Dir() string {
	return d.dir
}

// Write copies r into a new blob for key. Each write gets its own file so an
// older blob stays readable until the cache releases it.
func (d *BlobDir) Write(key string, r io.Reader) (*Blob, error) {
	tmp, err := os.CreateTemp(d.dir, d.fileName(key)+"-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp blob: %w", err)
	}

	size, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to write blob: %w", err)
	}

	final := tmp.Name()[:len(tmp.Name())-len(".tmp")] + ".blob"
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to finalize blob: %w", err)
	}
	return &Blob{Key: key, Path: final, Size: size}, nil
}

func (d *BlobDir) fileName(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Blob is a payload file on disk. Closing it removes the file.
type Blob struct {
	Key  string
	Path string
	Size int64
}

// Open opens the blob for reading.
func (b *Blob) Open() (*os.File, error) {
	return os.Open(b.Path)
}

func (b *Blob) Close() error {
	if b == nil || b.Path == "" {
		return nil
	}
	if err := os.Remove(b.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
