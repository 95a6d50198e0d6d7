// Package storage is the peer's local persistence: chunk files on disk,
// assembled downloads, and a bolt-backed catalog of the descriptors this
// peer can seed (survives restarts so shared files are re-announced).
package storage

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/CodeWithSiya/PyTorrent/pkg/chunk"

	"github.com/boltdb/bolt"
)

var descriptorBucket = []byte("descriptors")

// ErrNotFound is returned when a chunk or descriptor does not exist.
var ErrNotFound = errors.New("not found")

// Store is rooted at one data directory. Chunk reads are safe from many
// goroutines at once; only one download scheduler writes a given file.
type Store struct {
	root string
	db   *bolt.DB
}

// Open creates the data directory if needed and opens the catalog.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "chunks"), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := bolt.Open(filepath.Join(root, "catalog.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(descriptorBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &Store{root: root, db: db}, nil
}

// Close releases the catalog.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) chunkDir(fileDigest string) string {
	return filepath.Join(s.root, "chunks", fileDigest)
}

func (s *Store) chunkPath(fileDigest string, index uint32) string {
	return filepath.Join(s.chunkDir(fileDigest), fmt.Sprintf("chunk_%d.chunk", index))
}

// WriteChunk stores one chunk of a file under its index.
func (s *Store) WriteChunk(fileDigest string, index uint32, b []byte) error {
	if err := os.MkdirAll(s.chunkDir(fileDigest), 0755); err != nil {
		return fmt.Errorf("create chunk dir: %w", err)
	}
	return os.WriteFile(s.chunkPath(fileDigest, index), b, 0644)
}

// ReadChunk loads one chunk of a file.
func (s *Store) ReadChunk(fileDigest string, index uint32) ([]byte, error) {
	b, err := os.ReadFile(s.chunkPath(fileDigest, index))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: chunk %d of %s", ErrNotFound, index, fileDigest)
	}
	return b, err
}

// HasChunk reports whether the chunk exists on disk.
func (s *Store) HasChunk(fileDigest string, index uint32) bool {
	_, err := os.Stat(s.chunkPath(fileDigest, index))
	return err == nil
}

// FileExists reports whether path exists.
func (s *Store) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteFile writes an assembled download into dir and returns its path.
func (s *Store) WriteFile(dir, name string, b []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, b, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// ImportFile splits a local file, stores its chunks, and catalogs the
// descriptor. This is what makes a file seedable.
func (s *Store) ImportFile(path string, chunkSize uint32) (*chunk.FileDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	fd, chunks, err := chunk.Split(f, filepath.Base(path), chunkSize)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", path, err)
	}
	for i, c := range chunks {
		if err := s.WriteChunk(fd.Digest, uint32(i), c); err != nil {
			return nil, fmt.Errorf("store chunk %d: %w", i, err)
		}
	}
	if err := s.SaveDescriptor(fd); err != nil {
		return nil, err
	}
	return fd, nil
}

// SaveDescriptor persists fd in the catalog, keyed by its digest.
func (s *Store) SaveDescriptor(fd *chunk.FileDescriptor) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(fd); err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(descriptorBucket).Put([]byte(fd.Digest), buf.Bytes())
	})
}

// LoadDescriptor fetches one descriptor by file digest.
func (s *Store) LoadDescriptor(digest string) (*chunk.FileDescriptor, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(descriptorBucket).Get([]byte(digest))
		if v == nil {
			return fmt.Errorf("%w: descriptor %s", ErrNotFound, digest)
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	var fd chunk.FileDescriptor
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&fd); err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}
	return &fd, nil
}

// ListDescriptors returns every cataloged descriptor.
func (s *Store) ListDescriptors() ([]*chunk.FileDescriptor, error) {
	var out []*chunk.FileDescriptor
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(descriptorBucket).ForEach(func(k, v []byte) error {
			var fd chunk.FileDescriptor
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&fd); err != nil {
				return fmt.Errorf("decode descriptor %s: %w", k, err)
			}
			out = append(out, &fd)
			return nil
		})
	})
	return out, err
}
