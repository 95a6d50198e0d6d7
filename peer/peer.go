// Package peer implements the node that sits on both sides of the
// transfer protocol: it seeds its shared files and downloads new ones,
// on one identity, coordinating with the tracker throughout.
package peer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/CodeWithSiya/PyTorrent/pkg/chunk"
	"github.com/CodeWithSiya/PyTorrent/pkg/config"
	"github.com/CodeWithSiya/PyTorrent/pkg/logger"
	"github.com/CodeWithSiya/PyTorrent/pkg/protocol"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// Seeder is the capability of offering complete files for upload.
type Seeder interface {
	ShareFile(path string) (*chunk.FileDescriptor, error)
	SharedFiles() ([]*chunk.FileDescriptor, error)
}

// Leecher is the capability of downloading a file from the network.
type Leecher interface {
	Download(ctx context.Context, fileDigest string) (string, error)
}

// Peer composes both capabilities on one identity. A process is always
// potentially both: it seeds what it has while it fetches what it wants.
type Peer struct {
	ID       string
	Username string

	settings config.Settings
	store    Store
	server   *TransferServer
	tracker  *TrackerClient
	fetcher  ChunkFetcher

	mu       sync.Mutex
	books    map[string]*progressBook // active downloads by file digest
	quitCh   chan struct{}
	quitOnce sync.Once
}

// Store is the slice of the storage collaborator the peer needs.
type Store interface {
	ImportFile(path string, chunkSize uint32) (*chunk.FileDescriptor, error)
	ListDescriptors() ([]*chunk.FileDescriptor, error)
	SaveDescriptor(fd *chunk.FileDescriptor) error
	LoadDescriptor(digest string) (*chunk.FileDescriptor, error)
	WriteFile(dir, name string, b []byte) (string, error)
	FileExists(path string) bool
	Close() error
}

// New builds a peer. The transfer server is wired to the same store the
// seeder capability imports into.
func New(username string, settings config.Settings, store Store, server *TransferServer) *Peer {
	return &Peer{
		ID:       uuid.New().String(),
		Username: username,
		settings: settings,
		store:    store,
		server:   server,
		tracker:  NewTrackerClient(settings.TrackerAddr, settings.TrackerTimeout),
		fetcher:  NewTCPFetcher(settings.FetchTimeout),
		books:    make(map[string]*progressBook),
		quitCh:   make(chan struct{}),
	}
}

// Start brings up the transfer server, registers with the tracker,
// re-announces everything in the catalog, and starts the heartbeat loop.
func (p *Peer) Start() error {
	if err := p.server.Start(); err != nil {
		return fmt.Errorf("start transfer server: %w", err)
	}

	if err := p.tracker.Register(p.ID, p.server.Addr(), p.Username); err != nil {
		return fmt.Errorf("register with tracker: %w", err)
	}
	logger.Sugar.Infof("[Peer] %s (%s) registered, serving on %s", p.Username, p.ID, p.server.Addr())

	// shared files survive restarts in the catalog; put them back on
	// the directory
	if fds, err := p.store.ListDescriptors(); err == nil {
		for _, fd := range fds {
			if err := p.tracker.Announce(p.ID, fd.Digest, fd.Name); err != nil {
				logger.Sugar.Warnf("[Peer] re-announce %s failed: %v", fd.Name, err)
			}
		}
	}

	go p.heartbeatLoop()
	return nil
}

// Stop deregisters and tears everything down, reporting every close
// failure rather than just the first.
func (p *Peer) Stop() error {
	p.quitOnce.Do(func() { close(p.quitCh) })

	var err error
	if derr := p.tracker.Deregister(p.ID); derr != nil {
		err = multierr.Append(err, fmt.Errorf("deregister: %w", derr))
	}
	err = multierr.Append(err, p.server.Stop())
	err = multierr.Append(err, p.store.Close())
	return err
}

func (p *Peer) heartbeatLoop() {
	ticker := time.NewTicker(p.settings.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.quitCh:
			return
		case <-ticker.C:
			if err := p.tracker.Heartbeat(p.ID); err != nil {
				logger.Sugar.Warnf("[Peer] heartbeat failed: %v", err)
			}
		}
	}
}

// ShareFile splits a local file into the store and announces it.
func (p *Peer) ShareFile(path string) (*chunk.FileDescriptor, error) {
	fd, err := p.store.ImportFile(path, p.settings.ChunkSize)
	if err != nil {
		return nil, err
	}
	if err := p.tracker.Announce(p.ID, fd.Digest, fd.Name); err != nil {
		return nil, fmt.Errorf("announce %s: %w", fd.Name, err)
	}
	logger.Sugar.Infof("[Peer] sharing %s (%s, %d chunks)", fd.Name, fd.Digest, fd.NumChunks())
	return fd, nil
}

// SharedFiles lists everything this peer can currently seed.
func (p *Peer) SharedFiles() ([]*chunk.FileDescriptor, error) {
	return p.store.ListDescriptors()
}

// Download fetches a file by digest: query the tracker for seeders, pull
// the descriptor from one of them, run the scheduler, verify, write the
// output, and promote this peer to seeder for it. Returns the output
// path.
func (p *Peer) Download(ctx context.Context, fileDigest string) (string, error) {
	seeders, err := p.tracker.Query(fileDigest)
	if err != nil {
		return "", fmt.Errorf("query seeders: %w", err)
	}
	if len(seeders) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoSeeders, fileDigest)
	}

	fd, err := p.fetchDescriptor(ctx, fileDigest, seeders)
	if err != nil {
		return "", err
	}

	book := newProgressBook(fd.Digest, fd.Name, fd.NumChunks(), fd.Size)
	p.mu.Lock()
	p.books[fd.Digest] = book
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.books, fd.Digest)
		p.mu.Unlock()
	}()

	sched := NewDownloader(p.fetcher, p.settings.Concurrency, p.settings.RetryMax)
	data, err := sched.Run(ctx, fd, seeders, book)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", fd.Name, err)
	}

	path, err := p.store.WriteFile(p.settings.DownloadDir, fd.Name, data)
	if err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}

	if err := p.Promote(fd, path); err != nil {
		// the file is complete and on disk; failing to re-seed is worth
		// a warning, not a failed download
		logger.Sugar.Warnf("[Peer] re-seed of %s failed: %v", fd.Name, err)
	}
	return path, nil
}

// Promote registers this peer as a seeder for a completed download:
// the chunks go into the store and the file is announced. Idempotent —
// promoting an already-seeded file changes nothing.
func (p *Peer) Promote(fd *chunk.FileDescriptor, localPath string) error {
	if _, err := p.store.LoadDescriptor(fd.Digest); err != nil {
		if _, err := p.store.ImportFile(localPath, fd.ChunkSize); err != nil {
			return fmt.Errorf("import for re-seed: %w", err)
		}
	}
	if err := p.tracker.Announce(p.ID, fd.Digest, fd.Name); err != nil {
		return fmt.Errorf("announce for re-seed: %w", err)
	}
	logger.Sugar.Infof("[Peer] now seeding %s (%s)", fd.Name, fd.Digest)
	return nil
}

// DownloadEvents exposes the progress event stream of an active
// download, or nil when none is running for that digest.
func (p *Peer) DownloadEvents(fileDigest string) <-chan ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if book, ok := p.books[fileDigest]; ok {
		return book.Events()
	}
	return nil
}

// DownloadProgress snapshots an active download.
func (p *Peer) DownloadProgress(fileDigest string) (Progress, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if book, ok := p.books[fileDigest]; ok {
		return book.Snapshot(), true
	}
	return Progress{}, false
}

// Tracker exposes the tracker client for listing peers and files.
func (p *Peer) Tracker() *TrackerClient {
	return p.tracker
}

// GetStatus renders a human-readable node summary for the shell.
func (p *Peer) GetStatus() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Peer %s (%s)\n", p.Username, p.ID)
	fmt.Fprintf(&b, "Serving chunks on: %s\n", p.server.Addr())
	fmt.Fprintf(&b, "Tracker: %s\n", p.settings.TrackerAddr)

	bytes, chunks, failed := p.server.Stats()
	fmt.Fprintf(&b, "Served: %d chunks, %d bytes (%d failed requests)\n", chunks, bytes, failed)

	if fds, err := p.store.ListDescriptors(); err == nil {
		fmt.Fprintf(&b, "Shared files: %d\n", len(fds))
		for _, fd := range fds {
			fmt.Fprintf(&b, " - %s (ID: %s) Size: %d bytes\n", fd.Name, fd.Digest, fd.Size)
		}
	}
	return b.String()
}

// fetchDescriptor asks seeders for the file's descriptor until one of
// them has it cataloged.
func (p *Peer) fetchDescriptor(ctx context.Context, fileDigest string, seeders []protocol.PeerInfo) (*chunk.FileDescriptor, error) {
	var lastErr error
	for _, s := range seeders {
		fd, err := RequestDescriptor(ctx, s.Addr, fileDigest, p.settings.FetchTimeout)
		if err != nil {
			lastErr = err
			logger.Sugar.Warnf("[Peer] descriptor from %s failed: %v", s.Addr, err)
			continue
		}
		if fd.Digest != fileDigest {
			lastErr = fmt.Errorf("%w: seeder %s returned descriptor for %s", ErrIntegrity, s.Addr, fd.Digest)
			continue
		}
		return fd, nil
	}
	return nil, fmt.Errorf("no seeder supplied a descriptor for %s: %w", fileDigest, lastErr)
}
