package peer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodeWithSiya/PyTorrent/pkg/logger"
	"github.com/CodeWithSiya/PyTorrent/pkg/protocol"
	"github.com/CodeWithSiya/PyTorrent/pkg/storage"
)

// connDeadline bounds one request/response exchange so a stalled
// downloader cannot pin a connection goroutine forever.
const connDeadline = 60 * time.Second

// TransferServer answers chunk requests out of the local store. Each
// accepted connection is served by its own goroutine with its own
// deadline; no lock is held across a transfer, so one slow peer cannot
// starve the rest.
type TransferServer struct {
	listenAddr string
	store      *storage.Store
	listener   net.Listener
	quitCh     chan struct{}
	quitOnce   sync.Once

	// transfer metrics, read by Stats
	bytesServed    int64
	chunksServed   int64
	requestsFailed int64
}

// NewTransferServer wires a seeder-side server to its chunk store.
func NewTransferServer(addr string, store *storage.Store) *TransferServer {
	return &TransferServer{
		listenAddr: addr,
		store:      store,
		quitCh:     make(chan struct{}),
	}
}

// Start binds the listener and accepts in the background.
func (t *TransferServer) Start() error {
	var err error
	t.listener, err = net.Listen("tcp", t.listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", t.listenAddr, err)
	}
	logger.Sugar.Infof("[Seeder] serving chunks on %s", t.listener.Addr())

	go t.acceptLoop()
	return nil
}

// Addr returns the bound address.
func (t *TransferServer) Addr() string {
	if t.listener == nil {
		return t.listenAddr
	}
	return t.listener.Addr().String()
}

// Stop closes the listener. In-flight transfers finish on their own.
// Safe to call more than once.
func (t *TransferServer) Stop() error {
	var err error
	t.quitOnce.Do(func() {
		close(t.quitCh)
		if t.listener != nil {
			err = t.listener.Close()
		}
	})
	return err
}

// Stats returns bytes served, chunks served, and failed requests.
func (t *TransferServer) Stats() (int64, int64, int64) {
	return atomic.LoadInt64(&t.bytesServed), atomic.LoadInt64(&t.chunksServed), atomic.LoadInt64(&t.requestsFailed)
}

func (t *TransferServer) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.quitCh:
				return
			default:
				logger.Sugar.Errorf("[Seeder] accept error: %v", err)
				continue
			}
		}
		go t.handleConn(conn)
	}
}

// handleConn serves exactly one request on the connection.
func (t *TransferServer) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connDeadline))

	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			logger.Sugar.Warnf("[Seeder] bad request from %s: %v", conn.RemoteAddr(), err)
		}
		return
	}

	switch req := msg.(type) {
	case protocol.PingRequest:
		if err := protocol.WriteMessage(conn, protocol.PongResponse{}); err != nil {
			logger.Sugar.Warnf("[Seeder] pong to %s failed: %v", conn.RemoteAddr(), err)
		}

	case protocol.DescriptorRequest:
		resp := protocol.DescriptorResponse{Status: protocol.ChunkNotAvailable}
		if fd, err := t.store.LoadDescriptor(req.FileDigest); err == nil {
			resp.Status = protocol.ChunkOK
			resp.Descriptor = *fd
		}
		if err := protocol.WriteMessage(conn, resp); err != nil {
			logger.Sugar.Warnf("[Seeder] descriptor to %s failed: %v", conn.RemoteAddr(), err)
		}

	case protocol.ChunkRequest:
		if err := t.serveChunk(conn, req); err != nil {
			atomic.AddInt64(&t.requestsFailed, 1)
			logger.Sugar.Warnf("[Seeder] chunk %d of %s to %s failed: %v",
				req.ChunkIndex, req.FileDigest, conn.RemoteAddr(), err)
		}

	default:
		logger.Sugar.Warnf("[Seeder] unexpected message type from %s: %T", conn.RemoteAddr(), msg)
	}
}

func (t *TransferServer) serveChunk(conn net.Conn, req protocol.ChunkRequest) error {
	fd, err := t.store.LoadDescriptor(req.FileDigest)
	if err != nil || int(req.ChunkIndex) >= fd.NumChunks() || !t.store.HasChunk(req.FileDigest, req.ChunkIndex) {
		return protocol.WriteMessage(conn, protocol.ChunkResponse{Status: protocol.ChunkNotAvailable})
	}

	data, err := t.store.ReadChunk(req.FileDigest, req.ChunkIndex)
	if err != nil {
		return protocol.WriteMessage(conn, protocol.ChunkResponse{Status: protocol.ChunkNotAvailable})
	}

	resp := protocol.ChunkResponse{
		Status:      protocol.ChunkOK,
		ChunkDigest: fd.ChunkDigests[req.ChunkIndex],
		Size:        uint32(len(data)),
	}
	if err := protocol.WriteMessage(conn, resp); err != nil {
		return fmt.Errorf("write response header: %w", err)
	}
	if err := protocol.WriteStream(conn, bytes.NewReader(data), uint32(len(data))); err != nil {
		return fmt.Errorf("write chunk stream: %w", err)
	}

	atomic.AddInt64(&t.bytesServed, int64(len(data)))
	atomic.AddInt64(&t.chunksServed, 1)
	logger.Sugar.Debugf("[Seeder] sent chunk %d of %s to %s (%d bytes)",
		req.ChunkIndex, req.FileDigest, conn.RemoteAddr(), len(data))
	return nil
}
