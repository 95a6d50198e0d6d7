package storage

import (
	"bytes"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/CodeWithSiya/PyTorrent/pkg/chunk"
)

func TestChunkReadWrite(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	data := []byte("chunk payload")
	if err := s.WriteChunk("digest1", 3, data); err != nil {
		t.Fatal(err)
	}
	if !s.HasChunk("digest1", 3) {
		t.Fatal("chunk not found after write")
	}

	readBack, err := s.ReadChunk("digest1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(readBack, data) {
		t.Fatalf("data mismatch: got %q, want %q", readBack, data)
	}

	if _, err := s.ReadChunk("digest1", 4); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestImportFileProducesServableChunks(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	data := make([]byte, 3000)
	rand.Read(data)
	src := filepath.Join(dir, "src.bin")
	if err := os.WriteFile(src, data, 0644); err != nil {
		t.Fatal(err)
	}

	fd, err := s.ImportFile(src, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if fd.NumChunks() != 3 {
		t.Fatalf("expected 3 chunks, got %d", fd.NumChunks())
	}

	// every chunk is on disk and verifies against the descriptor
	chunks := make([][]byte, fd.NumChunks())
	for i := 0; i < fd.NumChunks(); i++ {
		b, err := s.ReadChunk(fd.Digest, uint32(i))
		if err != nil {
			t.Fatal(err)
		}
		if !chunk.VerifyChunk(b, fd.ChunkDigests[i]) {
			t.Fatalf("chunk %d does not verify", i)
		}
		chunks[i] = b
	}

	assembled, err := chunk.Assemble(chunks)
	if err != nil {
		t.Fatal(err)
	}
	if !chunk.VerifyWhole(assembled, fd.Digest) {
		t.Fatal("assembled file does not verify")
	}
}

func TestCatalogSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	fd := &chunk.FileDescriptor{
		Name:         "notes.txt",
		Size:         42,
		Digest:       "abc123",
		ChunkSize:    1024,
		ChunkDigests: []string{"c0"},
	}
	if err := s.SaveDescriptor(fd); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	loaded, err := s.LoadDescriptor("abc123")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Name != fd.Name || loaded.Size != fd.Size || len(loaded.ChunkDigests) != 1 {
		t.Fatalf("descriptor did not survive reopen: %+v", loaded)
	}

	all, err := s.ListDescriptors()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(all))
	}
}
