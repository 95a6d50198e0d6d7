package peer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/CodeWithSiya/PyTorrent/pkg/chunk"
	"github.com/CodeWithSiya/PyTorrent/pkg/protocol"
)

// ChunkFetcher is the leecher's view of the transfer protocol: one call,
// one chunk from one seeder. The scheduler depends on this capability,
// not on the TCP client, so failure handling can be tested offline.
type ChunkFetcher interface {
	Fetch(ctx context.Context, peerAddr, fileDigest string, index uint32) ([]byte, error)
}

// tcpFetcher dials a fresh connection per fetch. Keeping connections
// one-shot matches the transfer protocol's one-request-per-connection
// contract and makes seeder isolation trivial.
type tcpFetcher struct {
	timeout time.Duration
}

// NewTCPFetcher returns the production fetcher with the given per-fetch
// timeout.
func NewTCPFetcher(timeout time.Duration) ChunkFetcher {
	return &tcpFetcher{timeout: timeout}
}

func (f *tcpFetcher) Fetch(ctx context.Context, peerAddr, fileDigest string, index uint32) ([]byte, error) {
	dialer := net.Dialer{Timeout: f.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", peerAddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", peerAddr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(f.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	req := protocol.ChunkRequest{FileDigest: fileDigest, ChunkIndex: index}
	if err := protocol.WriteMessage(conn, req); err != nil {
		return nil, fmt.Errorf("send chunk request: %w", err)
	}

	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("read chunk response: %w", err)
	}
	resp, ok := msg.(protocol.ChunkResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", msg)
	}
	if resp.Status != protocol.ChunkOK {
		return nil, fmt.Errorf("%w: %s index %d", ErrChunkNotAvailable, peerAddr, index)
	}

	data, err := protocol.ReadStream(conn)
	if err != nil {
		return nil, fmt.Errorf("read chunk stream: %w", err)
	}
	if uint32(len(data)) != resp.Size {
		return nil, fmt.Errorf("short chunk stream: got %d, want %d", len(data), resp.Size)
	}
	return data, nil
}

// RequestDescriptor asks one seeder for a file's descriptor.
func RequestDescriptor(ctx context.Context, peerAddr, fileDigest string, timeout time.Duration) (*chunk.FileDescriptor, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", peerAddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", peerAddr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	if err := protocol.WriteMessage(conn, protocol.DescriptorRequest{FileDigest: fileDigest}); err != nil {
		return nil, fmt.Errorf("send descriptor request: %w", err)
	}
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("read descriptor response: %w", err)
	}
	resp, ok := msg.(protocol.DescriptorResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", msg)
	}
	if resp.Status != protocol.ChunkOK {
		return nil, fmt.Errorf("%w: descriptor for %s", ErrChunkNotAvailable, fileDigest)
	}
	fd := resp.Descriptor
	return &fd, nil
}

// PingSeeder probes a seeder's transfer port for availability.
func PingSeeder(ctx context.Context, peerAddr string, timeout time.Duration) error {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", peerAddr)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	if err := protocol.WriteMessage(conn, protocol.PingRequest{}); err != nil {
		return err
	}
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		return err
	}
	if _, ok := msg.(protocol.PongResponse); !ok {
		return fmt.Errorf("unexpected ping reply %T", msg)
	}
	return nil
}
