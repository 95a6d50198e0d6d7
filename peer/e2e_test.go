package peer

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CodeWithSiya/PyTorrent/pkg/config"
	"github.com/CodeWithSiya/PyTorrent/pkg/storage"
	"github.com/CodeWithSiya/PyTorrent/tracker"
)

func startE2ETracker(t *testing.T) string {
	t.Helper()
	registry := tracker.NewRegistry(30*time.Second, 0)
	srv := tracker.NewServer("127.0.0.1:0", registry, false)
	go func() {
		if err := srv.Start(); err != nil {
			t.Errorf("tracker: %v", err)
		}
	}()
	t.Cleanup(srv.Stop)

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "127.0.0.1:0" {
		if time.Now().After(deadline) {
			t.Fatal("tracker did not bind")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return srv.Addr()
}

func startE2EPeer(t *testing.T, username, trackerAddr string) *Peer {
	t.Helper()
	settings := config.Default()
	settings.TrackerAddr = trackerAddr
	settings.ChunkSize = 1024
	settings.Concurrency = 3
	settings.FetchTimeout = 5 * time.Second
	settings.TrackerTimeout = 2 * time.Second
	settings.DownloadDir = t.TempDir()

	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	server := NewTransferServer("127.0.0.1:0", store)
	p := New(username, settings, store, server)
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Stop() })
	return p
}

func TestShareDownloadReseed(t *testing.T) {
	trackerAddr := startE2ETracker(t)

	seeder := startE2EPeer(t, "alice", trackerAddr)
	leecher := startE2EPeer(t, "bob", trackerAddr)

	// alice shares a file
	data := make([]byte, 5*1024+137)
	rand.Read(data)
	src := filepath.Join(t.TempDir(), "report.pdf")
	if err := os.WriteFile(src, data, 0644); err != nil {
		t.Fatal(err)
	}
	fd, err := seeder.ShareFile(src)
	if err != nil {
		t.Fatal(err)
	}

	// bob finds it through the tracker and downloads it
	files, err := leecher.Tracker().ListFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Digest != fd.Digest {
		t.Fatalf("tracker listing: %+v", files)
	}

	path, err := leecher.Download(context.Background(), fd.Digest)
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("downloaded bytes differ from the original")
	}

	// bob was promoted to seeder for the file
	seeders, err := leecher.Tracker().Query(fd.Digest)
	if err != nil {
		t.Fatal(err)
	}
	if len(seeders) != 2 {
		t.Fatalf("expected 2 seeders after re-seed, got %d", len(seeders))
	}
}

func TestPromoteIsIdempotent(t *testing.T) {
	trackerAddr := startE2ETracker(t)
	p := startE2EPeer(t, "carol", trackerAddr)

	data := make([]byte, 2048)
	rand.Read(data)
	src := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(src, data, 0644); err != nil {
		t.Fatal(err)
	}
	fd, err := p.ShareFile(src)
	if err != nil {
		t.Fatal(err)
	}

	// promoting an already-seeded file twice is a no-op, not an error
	if err := p.Promote(fd, src); err != nil {
		t.Fatal(err)
	}
	if err := p.Promote(fd, src); err != nil {
		t.Fatal(err)
	}

	seeders, err := p.Tracker().Query(fd.Digest)
	if err != nil {
		t.Fatal(err)
	}
	if len(seeders) != 1 {
		t.Fatalf("expected exactly one availability membership, got %d", len(seeders))
	}
}

func TestDeregisterDropsSeederFromQueries(t *testing.T) {
	trackerAddr := startE2ETracker(t)

	seeder := startE2EPeer(t, "dave", trackerAddr)

	data := make([]byte, 1024)
	rand.Read(data)
	src := filepath.Join(t.TempDir(), "a.bin")
	if err := os.WriteFile(src, data, 0644); err != nil {
		t.Fatal(err)
	}
	fd, err := seeder.ShareFile(src)
	if err != nil {
		t.Fatal(err)
	}

	client := NewTrackerClient(trackerAddr, 2*time.Second)
	if peers, _ := client.Query(fd.Digest); len(peers) != 1 {
		t.Fatalf("expected 1 seeder before stop, got %d", len(peers))
	}

	if err := seeder.Stop(); err != nil {
		t.Fatal(err)
	}

	if peers, _ := client.Query(fd.Digest); len(peers) != 0 {
		t.Fatalf("seeder still listed after deregister: %d", len(peers))
	}
}
