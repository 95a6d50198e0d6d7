package chunk

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestSplitSmallFile(t *testing.T) {
	// smaller than one chunk — should produce exactly 1 chunk
	data := []byte("hello, chunker!")
	fd, chunks, err := Split(bytes.NewReader(data), "hello.txt", 1024)
	if err != nil {
		t.Fatal(err)
	}

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if fd.NumChunks() != 1 {
		t.Fatalf("descriptor disagrees: %d chunks", fd.NumChunks())
	}
	if fd.Size != uint64(len(data)) {
		t.Fatalf("size mismatch: got %d, want %d", fd.Size, len(data))
	}
	if !VerifyChunk(chunks[0], fd.ChunkDigests[0]) {
		t.Fatal("chunk digest does not verify against its own bytes")
	}
}

func TestSplitAssembleRoundTrip(t *testing.T) {
	chunkSize := uint32(1024)
	totalSize := 5000 // 4 full chunks + 1 short one

	data := make([]byte, totalSize)
	rand.Read(data)

	fd, chunks, err := Split(bytes.NewReader(data), "blob.bin", chunkSize)
	if err != nil {
		t.Fatal(err)
	}

	if len(chunks) != 5 {
		t.Fatalf("expected 5 chunks, got %d", len(chunks))
	}
	if got := fd.ChunkLen(4); got != 5000-4*1024 {
		t.Fatalf("last chunk length: got %d, want %d", got, 5000-4*1024)
	}
	if got := fd.ChunkLen(0); got != chunkSize {
		t.Fatalf("first chunk length: got %d, want %d", got, chunkSize)
	}

	assembled, err := Assemble(chunks)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(assembled, data) {
		t.Fatal("assemble(split(F)) != F")
	}
	if !VerifyWhole(assembled, fd.Digest) {
		t.Fatal("whole-file digest does not verify after round trip")
	}
}

func TestSplitDeterministic(t *testing.T) {
	data := make([]byte, 3000)
	rand.Read(data)

	fd1, _, err := Split(bytes.NewReader(data), "a", 1024)
	if err != nil {
		t.Fatal(err)
	}
	fd2, _, err := Split(bytes.NewReader(data), "a", 1024)
	if err != nil {
		t.Fatal(err)
	}

	if fd1.Digest != fd2.Digest {
		t.Fatal("whole-file digests differ between runs")
	}
	for i := range fd1.ChunkDigests {
		if fd1.ChunkDigests[i] != fd2.ChunkDigests[i] {
			t.Fatalf("chunk %d digest differs between runs", i)
		}
	}
}

func TestVerifyChunkDetectsSingleByteFlip(t *testing.T) {
	data := make([]byte, 2048)
	rand.Read(data)

	fd, chunks, err := Split(bytes.NewReader(data), "b", 1024)
	if err != nil {
		t.Fatal(err)
	}

	for i, c := range chunks {
		tampered := append([]byte(nil), c...)
		tampered[len(tampered)/2] ^= 0x01
		if VerifyChunk(tampered, fd.ChunkDigests[i]) {
			t.Fatalf("chunk %d: altered byte not detected", i)
		}
	}
}

func TestAssembleMissingChunk(t *testing.T) {
	data := make([]byte, 4096)
	rand.Read(data)

	_, chunks, err := Split(bytes.NewReader(data), "c", 1024)
	if err != nil {
		t.Fatal(err)
	}

	chunks[2] = nil
	if _, err := Assemble(chunks); err == nil {
		t.Fatal("expected assembly error for missing chunk")
	}
}

func TestSplitEmptyFile(t *testing.T) {
	fd, chunks, err := Split(bytes.NewReader(nil), "empty", 1024)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 || fd.Size != 0 {
		t.Fatalf("empty file: got %d chunks, size %d", len(chunks), fd.Size)
	}

	assembled, err := Assemble(chunks)
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyWhole(assembled, fd.Digest) {
		t.Fatal("empty file digest does not verify")
	}
}
