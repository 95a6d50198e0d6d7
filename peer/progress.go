package peer

import (
	"sync"
)

// ProgressEventKind labels one progress event.
type ProgressEventKind int

const (
	EventChunkVerified ProgressEventKind = iota
	EventChunkRetrying
	EventDownloadComplete
	EventDownloadFailed
)

// ProgressEvent is emitted by the scheduler for UI consumption. The core
// sends without blocking; a slow or absent consumer loses events, never
// stalls a download.
type ProgressEvent struct {
	Kind       ProgressEventKind
	FileDigest string
	ChunkIndex uint32
	PeerAddr   string
	Err        error
}

// Progress is a point-in-time snapshot of one download.
type Progress struct {
	FileDigest  string
	FileName    string
	TotalChunks int
	Verified    int
	InFlight    int
	Failed      int
	BytesDone   uint64
	BytesTotal  uint64
}

// progressBook tracks download state for snapshot queries.
type progressBook struct {
	mu   sync.Mutex
	cur  Progress
	evCh chan ProgressEvent
}

func newProgressBook(fileDigest, fileName string, totalChunks int, bytesTotal uint64) *progressBook {
	return &progressBook{
		cur: Progress{
			FileDigest:  fileDigest,
			FileName:    fileName,
			TotalChunks: totalChunks,
			BytesTotal:  bytesTotal,
		},
		evCh: make(chan ProgressEvent, 256),
	}
}

// Events returns the event stream for this download.
func (pb *progressBook) Events() <-chan ProgressEvent {
	return pb.evCh
}

// Snapshot returns the current progress.
func (pb *progressBook) Snapshot() Progress {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.cur
}

func (pb *progressBook) chunkVerified(index uint32, peerAddr string, n int) {
	pb.mu.Lock()
	pb.cur.Verified++
	pb.cur.BytesDone += uint64(n)
	pb.mu.Unlock()
	pb.emit(ProgressEvent{Kind: EventChunkVerified, FileDigest: pb.cur.FileDigest, ChunkIndex: index, PeerAddr: peerAddr})
}

func (pb *progressBook) chunkRetrying(index uint32, peerAddr string, err error) {
	pb.emit(ProgressEvent{Kind: EventChunkRetrying, FileDigest: pb.cur.FileDigest, ChunkIndex: index, PeerAddr: peerAddr, Err: err})
}

func (pb *progressBook) done(err error) {
	if err != nil {
		pb.mu.Lock()
		pb.cur.Failed++
		pb.mu.Unlock()
		pb.emit(ProgressEvent{Kind: EventDownloadFailed, FileDigest: pb.cur.FileDigest, Err: err})
	} else {
		pb.emit(ProgressEvent{Kind: EventDownloadComplete, FileDigest: pb.cur.FileDigest})
	}
	close(pb.evCh)
}

func (pb *progressBook) setInFlight(n int) {
	pb.mu.Lock()
	pb.cur.InFlight = n
	pb.mu.Unlock()
}

func (pb *progressBook) emit(ev ProgressEvent) {
	select {
	case pb.evCh <- ev:
	default:
	}
}
