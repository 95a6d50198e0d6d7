package peer

import (
	"context"
	"fmt"
	"sort"

	"github.com/CodeWithSiya/PyTorrent/pkg/chunk"
	"github.com/CodeWithSiya/PyTorrent/pkg/logger"
	"github.com/CodeWithSiya/PyTorrent/pkg/protocol"
)

// chunkStatus is the per-chunk state machine. Pending → InFlight →
// Verified | Failed, with bounded retries looping back to Pending.
// Bounded retries make termination provable: every attempt either
// verifies a chunk or burns budget, so the scheduler always reaches a
// terminal state.
type chunkStatus int

const (
	chunkPending chunkStatus = iota
	chunkInFlight
	chunkVerified
	chunkFailed
)

type chunkState struct {
	index   uint32
	digest  string
	status  chunkStatus
	peer    string          // the one peer this chunk is in flight to
	retries int             // failed attempts so far
	tried   map[string]bool // seeders excluded for this chunk
}

type fetchResult struct {
	index uint32
	peer  string
	data  []byte
	err   error
}

// Downloader runs parallel chunk acquisition for one file at a time.
// Construction binds the policy knobs; Run owns one session.
type Downloader struct {
	fetcher     ChunkFetcher
	concurrency int
	retryMax    int // attempts per chunk before it is marked Failed
}

// NewDownloader builds a scheduler. retryMax is the total number of
// fetch attempts allowed per chunk.
func NewDownloader(fetcher ChunkFetcher, concurrency, retryMax int) *Downloader {
	if concurrency < 1 {
		concurrency = 1
	}
	if retryMax < 1 {
		retryMax = 1
	}
	return &Downloader{fetcher: fetcher, concurrency: concurrency, retryMax: retryMax}
}

// Run fetches every chunk of fd from the candidate seeders, verifies
// each chunk and then the assembled whole, and returns the file bytes.
// Any chunk exhausting its budget fails the whole download; no partial
// output is ever returned. Cancelling ctx stops new fetches and
// abandons the session.
func (d *Downloader) Run(ctx context.Context, fd *chunk.FileDescriptor, seeders []protocol.PeerInfo, book *progressBook) ([]byte, error) {
	if len(seeders) == 0 {
		return nil, fmt.Errorf("%w: no seeders for %s", ErrNoSeeders, fd.Digest)
	}

	n := fd.NumChunks()
	states := make([]*chunkState, n)
	for i := 0; i < n; i++ {
		states[i] = &chunkState{
			index:  uint32(i),
			digest: fd.ChunkDigests[i],
			tried:  make(map[string]bool),
		}
	}

	chunks := make([][]byte, n)
	load := make(map[string]int, len(seeders)) // in-flight fetches per seeder
	results := make(chan fetchResult)
	inFlight := 0
	var terminalErr error

	for {
		// fill the pool while there is capacity and nothing is fatal
		for terminalErr == nil && ctx.Err() == nil && inFlight < d.concurrency {
			st, addr, ok := d.pickNext(states, seeders, load)
			if !ok {
				break
			}
			st.status = chunkInFlight
			st.peer = addr
			load[addr]++
			inFlight++
			book.setInFlight(inFlight)

			go func(index uint32, addr string) {
				data, err := d.fetcher.Fetch(ctx, addr, fd.Digest, index)
				results <- fetchResult{index: index, peer: addr, data: data, err: err}
			}(st.index, addr)
		}

		if inFlight == 0 {
			break // join barrier: every chunk is terminal (or we failed)
		}

		res := <-results
		inFlight--
		load[res.peer]--
		book.setInFlight(inFlight)
		st := states[res.index]

		err := res.err
		if err == nil && !chunk.VerifyChunk(res.data, st.digest) {
			// never trust unverified bytes: a mismatch is a fetch
			// failure, not data
			err = fmt.Errorf("%w: chunk %d from %s", ErrIntegrity, res.index, res.peer)
		}

		if err == nil {
			st.status = chunkVerified
			chunks[res.index] = res.data
			book.chunkVerified(res.index, res.peer, len(res.data))
			continue
		}

		st.retries++
		st.tried[res.peer] = true
		book.chunkRetrying(res.index, res.peer, err)
		logger.Sugar.Warnf("[Downloader] chunk %d attempt %d/%d failed (peer=%s): %v",
			res.index, st.retries, d.retryMax, res.peer, err)

		if st.retries >= d.retryMax {
			st.status = chunkFailed
			if terminalErr == nil {
				terminalErr = fmt.Errorf("%w: chunk %d after %d attempts: %v",
					ErrRetriesExhausted, res.index, st.retries, err)
			}
		} else {
			st.status = chunkPending
		}
	}

	if ctx.Err() != nil {
		book.done(ctx.Err())
		return nil, ctx.Err()
	}
	if terminalErr == nil {
		if st := firstUnverified(states); st != nil {
			// pending chunks with no seeder left to try
			terminalErr = fmt.Errorf("%w: chunk %d", ErrNoSeeders, st.index)
		}
	}
	if terminalErr != nil {
		book.done(terminalErr)
		return nil, terminalErr
	}

	assembled, err := chunk.Assemble(chunks)
	if err != nil {
		book.done(err)
		return nil, err
	}
	if !chunk.VerifyWhole(assembled, fd.Digest) {
		// every chunk verified but the assembly did not: a chunking or
		// offset bug, reported and discarded
		book.done(ErrWholeFileIntegrity)
		return nil, fmt.Errorf("%w: %s", ErrWholeFileIntegrity, fd.Digest)
	}

	book.done(nil)
	return assembled, nil
}

// pickNext chooses the next Pending chunk and a seeder for it. Chunk
// order: fewest retries first, then lowest index, so early chunks flow
// out first but a flapping chunk cannot starve the rest of the file.
// Seeder order: untried seeders for that chunk, least-loaded first; when
// every seeder has already failed the chunk but budget remains, any
// least-loaded seeder may be retried.
func (d *Downloader) pickNext(states []*chunkState, seeders []protocol.PeerInfo, load map[string]int) (*chunkState, string, bool) {
	pending := make([]*chunkState, 0, len(states))
	for _, st := range states {
		if st.status == chunkPending {
			pending = append(pending, st)
		}
	}
	if len(pending) == 0 {
		return nil, "", false
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].retries != pending[j].retries {
			return pending[i].retries < pending[j].retries
		}
		return pending[i].index < pending[j].index
	})

	st := pending[0]
	if addr, ok := leastLoaded(seeders, load, st.tried); ok {
		return st, addr, true
	}
	if addr, ok := leastLoaded(seeders, load, nil); ok {
		return st, addr, true
	}
	return nil, "", false
}

func leastLoaded(seeders []protocol.PeerInfo, load map[string]int, exclude map[string]bool) (string, bool) {
	best := ""
	for _, s := range seeders {
		if exclude[s.Addr] {
			continue
		}
		if best == "" || load[s.Addr] < load[best] {
			best = s.Addr
		}
	}
	return best, best != ""
}

func firstUnverified(states []*chunkState) *chunkState {
	for _, st := range states {
		if st.status != chunkVerified {
			return st
		}
	}
	return nil
}
