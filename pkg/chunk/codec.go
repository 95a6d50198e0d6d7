// Package chunk splits files into fixed-size, content-addressed chunks
// and verifies them on the way back together. Digests are sha256 hex; a
// mismatch anywhere is corruption, never silently accepted.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/CodeWithSiya/PyTorrent/pkg/config"
)

// ErrMissingChunk is returned by Assemble when a chunk slot is empty.
var ErrMissingChunk = errors.New("missing chunk")

// FileDescriptor describes one shared file. It is immutable once built;
// components share it by reference and never mutate it.
type FileDescriptor struct {
	Name         string
	Size         uint64
	Digest       string // sha256 of the whole file
	ChunkSize    uint32
	ChunkDigests []string // index i covers bytes [i*ChunkSize, min((i+1)*ChunkSize, Size))
}

// NumChunks returns the number of chunks in the file.
func (fd *FileDescriptor) NumChunks() int {
	return len(fd.ChunkDigests)
}

// ChunkLen returns the byte length of chunk i. The last chunk may be
// shorter than ChunkSize.
func (fd *FileDescriptor) ChunkLen(i int) uint32 {
	if i < 0 || i >= len(fd.ChunkDigests) {
		return 0
	}
	start := uint64(i) * uint64(fd.ChunkSize)
	remaining := fd.Size - start
	if remaining < uint64(fd.ChunkSize) {
		return uint32(remaining)
	}
	return fd.ChunkSize
}

// Split reads r to EOF and produces the file's descriptor plus the chunk
// byte slices in index order. Deterministic: the same input always yields
// the same digests. A zero chunkSize falls back to the network default.
func Split(r io.Reader, name string, chunkSize uint32) (*FileDescriptor, [][]byte, error) {
	if chunkSize == 0 {
		chunkSize = config.DefaultChunkSize
	}

	whole := sha256.New()
	var chunks [][]byte
	var digests []string
	var size uint64

	for {
		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			buf = buf[:n]
			size += uint64(n)
			whole.Write(buf)
			digests = append(digests, Digest(buf))
			chunks = append(chunks, buf)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read chunk %d: %w", len(chunks), err)
		}
	}

	fd := &FileDescriptor{
		Name:         name,
		Size:         size,
		Digest:       hex.EncodeToString(whole.Sum(nil)),
		ChunkSize:    chunkSize,
		ChunkDigests: digests,
	}
	return fd, chunks, nil
}

// Digest returns the sha256 hex digest of b.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// VerifyChunk recomputes the digest of b and compares it to expected.
func VerifyChunk(b []byte, expected string) bool {
	return Digest(b) == expected
}

// VerifyWhole checks the assembled file bytes against the whole-file
// digest. This runs once at assembly time, independent of the per-chunk
// checks, so chunking/offset bugs are caught and not just wire corruption.
func VerifyWhole(assembled []byte, expected string) bool {
	return Digest(assembled) == expected
}

// Assemble concatenates chunks in index order. Any nil entry means the
// download never produced that chunk and assembly fails.
func Assemble(chunks [][]byte) ([]byte, error) {
	var total int
	for i, c := range chunks {
		if c == nil {
			return nil, fmt.Errorf("%w: index %d", ErrMissingChunk, i)
		}
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out, nil
}
