// Package tracker implements the central directory: a live registry of
// peers and file availability, and the UDP protocol handler that exposes
// it to the network.
package tracker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CodeWithSiya/PyTorrent/pkg/protocol"
)

var (
	// ErrUnknownPeer means the peer id is not registered or has expired.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrDuplicateAddress means a different live peer already claims the
	// transfer address. Policy is reject: re-registering the same id
	// refreshes it, but an address cannot be hijacked by a new id.
	ErrDuplicateAddress = errors.New("address claimed by another peer")
	// ErrRegistryFull means the tracker's peer limit is reached.
	ErrRegistryFull = errors.New("peer limit reached")
)

// PeerRecord is one registered peer. Owned exclusively by the Registry;
// callers get copies, never pointers into the table.
type PeerRecord struct {
	PeerID   string
	Username string
	Addr     string // host:port of the peer's transfer server
	LastSeen time.Time
	Files    map[string]bool // file digests this peer can seed
}

type fileEntry struct {
	names   map[string]bool
	seeders map[string]bool // peer ids
}

// Registry is the tracker's single logical view of the network. All
// mutation is serialized under one mutex so the peer table and the
// availability index never disagree. Created at tracker start and passed
// explicitly to every handler.
type Registry struct {
	mu             sync.Mutex
	peers          map[string]*PeerRecord // peer id -> record
	byAddr         map[string]string      // transfer addr -> peer id
	files          map[string]*fileEntry  // file digest -> availability
	livenessWindow time.Duration
	maxPeers       int // 0 means unlimited
	now            func() time.Time
}

// NewRegistry builds an empty registry with the given liveness window.
// maxPeers of 0 disables the registration limit.
func NewRegistry(livenessWindow time.Duration, maxPeers int) *Registry {
	return &Registry{
		peers:          make(map[string]*PeerRecord),
		byAddr:         make(map[string]string),
		files:          make(map[string]*fileEntry),
		livenessWindow: livenessWindow,
		maxPeers:       maxPeers,
		now:            time.Now,
	}
}

// Register adds a peer or refreshes an existing registration. Idempotent
// per peer id: a re-register updates address, username and heartbeat.
// A different live peer holding the same address is a conflict.
func (r *Registry) Register(peerID, addr, username string) (PeerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpiredLocked()

	if ownerID, ok := r.byAddr[addr]; ok && ownerID != peerID {
		return PeerRecord{}, fmt.Errorf("%w: %s held by %s", ErrDuplicateAddress, addr, ownerID)
	}

	rec, exists := r.peers[peerID]
	if !exists {
		if r.maxPeers > 0 && len(r.peers) >= r.maxPeers {
			return PeerRecord{}, ErrRegistryFull
		}
		rec = &PeerRecord{PeerID: peerID, Files: make(map[string]bool)}
		r.peers[peerID] = rec
	}

	if rec.Addr != addr {
		delete(r.byAddr, rec.Addr)
	}
	rec.Addr = addr
	rec.Username = username
	rec.LastSeen = r.now()
	r.byAddr[addr] = peerID

	return copyRecord(rec), nil
}

// Heartbeat refreshes the peer's last-seen timestamp and nothing else.
func (r *Registry) Heartbeat(peerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.peers[peerID]
	if !ok || r.expiredLocked(rec) {
		return ErrUnknownPeer
	}
	rec.LastSeen = r.now()
	return nil
}

// AnnounceFile records that peerID can seed fileDigest. Set semantics:
// announcing an already-announced file is a no-op.
func (r *Registry) AnnounceFile(peerID, fileDigest, fileName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.peers[peerID]
	if !ok || r.expiredLocked(rec) {
		return ErrUnknownPeer
	}
	rec.LastSeen = r.now()
	rec.Files[fileDigest] = true

	entry, ok := r.files[fileDigest]
	if !ok {
		entry = &fileEntry{names: make(map[string]bool), seeders: make(map[string]bool)}
		r.files[fileDigest] = entry
	}
	if fileName != "" {
		entry.names[fileName] = true
	}
	entry.seeders[peerID] = true
	return nil
}

// QueryPeers returns the live seeders of fileDigest. Expired peers are
// lazily evicted from both tables before answering, so a returned peer
// always has a heartbeat inside the liveness window.
func (r *Registry) QueryPeers(fileDigest string) []PeerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpiredLocked()

	entry, ok := r.files[fileDigest]
	if !ok {
		return nil
	}
	out := make([]PeerRecord, 0, len(entry.seeders))
	for id := range entry.seeders {
		if rec, ok := r.peers[id]; ok {
			out = append(out, copyRecord(rec))
		}
	}
	return out
}

// Deregister removes the peer and every availability membership it held.
func (r *Registry) Deregister(peerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.peers[peerID]
	if !ok {
		return ErrUnknownPeer
	}
	r.removeLocked(rec)
	return nil
}

// ListPeers returns a snapshot of all live peers.
func (r *Registry) ListPeers() []PeerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpiredLocked()

	out := make([]PeerRecord, 0, len(r.peers))
	for _, rec := range r.peers {
		out = append(out, copyRecord(rec))
	}
	return out
}

// ListFiles summarises every file with at least one live seeder.
func (r *Registry) ListFiles() []protocol.FileSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpiredLocked()

	out := make([]protocol.FileSummary, 0, len(r.files))
	for digest, entry := range r.files {
		summary := protocol.FileSummary{Digest: digest, Seeders: len(entry.seeders)}
		for name := range entry.names {
			summary.Names = append(summary.Names, name)
		}
		out = append(out, summary)
	}
	return out
}

// Sweep eagerly evicts expired peers. The server runs this on a ticker;
// queries evict lazily on their own.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictExpiredLocked()
}

func (r *Registry) expiredLocked(rec *PeerRecord) bool {
	return r.now().Sub(rec.LastSeen) > r.livenessWindow
}

func (r *Registry) evictExpiredLocked() int {
	evicted := 0
	for _, rec := range r.peers {
		if r.expiredLocked(rec) {
			r.removeLocked(rec)
			evicted++
		}
	}
	return evicted
}

// removeLocked drops the record and all its index memberships together,
// keeping the two tables referentially consistent.
func (r *Registry) removeLocked(rec *PeerRecord) {
	for digest := range rec.Files {
		if entry, ok := r.files[digest]; ok {
			delete(entry.seeders, rec.PeerID)
			if len(entry.seeders) == 0 {
				delete(r.files, digest)
			}
		}
	}
	if r.byAddr[rec.Addr] == rec.PeerID {
		delete(r.byAddr, rec.Addr)
	}
	delete(r.peers, rec.PeerID)
}

func copyRecord(rec *PeerRecord) PeerRecord {
	out := *rec
	out.Files = make(map[string]bool, len(rec.Files))
	for k, v := range rec.Files {
		out.Files[k] = v
	}
	return out
}
