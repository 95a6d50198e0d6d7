package tracker

import (
	"errors"
	"testing"
	"time"
)

func newTestRegistry(window time.Duration, maxPeers int) (*Registry, *time.Time) {
	r := NewRegistry(window, maxPeers)
	now := time.Now()
	r.now = func() time.Time { return now }
	return r, &now
}

func TestRegisterIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(30*time.Second, 0)

	if _, err := r.Register("p1", "127.0.0.1:9001", "alice"); err != nil {
		t.Fatal(err)
	}
	rec, err := r.Register("p1", "127.0.0.1:9002", "alice")
	if err != nil {
		t.Fatalf("re-register should refresh, got %v", err)
	}
	if rec.Addr != "127.0.0.1:9002" {
		t.Fatalf("address not refreshed: %s", rec.Addr)
	}
	if len(r.ListPeers()) != 1 {
		t.Fatal("re-register duplicated the peer")
	}
}

func TestDuplicateAddressRejected(t *testing.T) {
	r, _ := newTestRegistry(30*time.Second, 0)

	if _, err := r.Register("p1", "127.0.0.1:9001", "alice"); err != nil {
		t.Fatal(err)
	}
	_, err := r.Register("p2", "127.0.0.1:9001", "bob")
	if !errors.Is(err, ErrDuplicateAddress) {
		t.Fatalf("expected ErrDuplicateAddress, got %v", err)
	}
}

func TestExpiredPeerFreesItsAddress(t *testing.T) {
	r, now := newTestRegistry(30*time.Second, 0)

	if _, err := r.Register("p1", "127.0.0.1:9001", "alice"); err != nil {
		t.Fatal(err)
	}
	*now = now.Add(31 * time.Second)
	if _, err := r.Register("p2", "127.0.0.1:9001", "bob"); err != nil {
		t.Fatalf("expired peer should not hold its address: %v", err)
	}
}

func TestRegistryFull(t *testing.T) {
	r, _ := newTestRegistry(30*time.Second, 2)

	r.Register("p1", "a:1", "u1")
	r.Register("p2", "a:2", "u2")
	if _, err := r.Register("p3", "a:3", "u3"); !errors.Is(err, ErrRegistryFull) {
		t.Fatalf("expected ErrRegistryFull, got %v", err)
	}
	// existing peer can still refresh
	if _, err := r.Register("p1", "a:1", "u1"); err != nil {
		t.Fatalf("refresh should bypass the limit: %v", err)
	}
}

func TestAnnounceRequiresRegistration(t *testing.T) {
	r, _ := newTestRegistry(30*time.Second, 0)
	if err := r.AnnounceFile("ghost", "digest1", "f.txt"); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}
}

func TestQueryNeverReturnsExpiredPeers(t *testing.T) {
	r, now := newTestRegistry(30*time.Second, 0)

	r.Register("p1", "a:1", "u1")
	r.Register("p2", "a:2", "u2")
	if err := r.AnnounceFile("p1", "d1", "f"); err != nil {
		t.Fatal(err)
	}
	if err := r.AnnounceFile("p2", "d1", "f"); err != nil {
		t.Fatal(err)
	}

	// keep p2 alive; let p1 expire
	*now = now.Add(20 * time.Second)
	if err := r.Heartbeat("p2"); err != nil {
		t.Fatal(err)
	}
	*now = now.Add(15 * time.Second)

	peers := r.QueryPeers("d1")
	if len(peers) != 1 || peers[0].PeerID != "p2" {
		t.Fatalf("expected only p2, got %+v", peers)
	}
	// lazy eviction removed p1 from the peer table too
	if err := r.Heartbeat("p1"); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("p1 should be gone, got %v", err)
	}
}

func TestDeregisterRemovesAllMemberships(t *testing.T) {
	r, _ := newTestRegistry(30*time.Second, 0)

	r.Register("p1", "a:1", "u1")
	for _, d := range []string{"d1", "d2", "d3"} {
		if err := r.AnnounceFile("p1", d, "f"); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Deregister("p1"); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{"d1", "d2", "d3"} {
		if peers := r.QueryPeers(d); len(peers) != 0 {
			t.Fatalf("digest %s still has seeders after deregister: %+v", d, peers)
		}
	}
}

func TestAnnounceTwiceKeepsOneMembership(t *testing.T) {
	r, _ := newTestRegistry(30*time.Second, 0)

	r.Register("p1", "a:1", "u1")
	r.AnnounceFile("p1", "d1", "f")
	r.AnnounceFile("p1", "d1", "f")

	if peers := r.QueryPeers("d1"); len(peers) != 1 {
		t.Fatalf("expected exactly one membership, got %d", len(peers))
	}
	files := r.ListFiles()
	if len(files) != 1 || files[0].Seeders != 1 {
		t.Fatalf("file summary wrong: %+v", files)
	}
}

func TestSweepEvictsExpired(t *testing.T) {
	r, now := newTestRegistry(30*time.Second, 0)

	r.Register("p1", "a:1", "u1")
	r.Register("p2", "a:2", "u2")
	*now = now.Add(31 * time.Second)

	if evicted := r.Sweep(); evicted != 2 {
		t.Fatalf("expected 2 evictions, got %d", evicted)
	}
	if len(r.ListPeers()) != 0 {
		t.Fatal("peers survived the sweep")
	}
}
