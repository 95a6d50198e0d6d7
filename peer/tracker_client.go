package peer

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/CodeWithSiya/PyTorrent/pkg/logger"
	"github.com/CodeWithSiya/PyTorrent/pkg/protocol"
)

// trackerRetries bounds how often a lost datagram is re-sent. The
// tracker never replays, so retrying an idempotent request is always
// safe.
const trackerRetries = 3

// TrackerClient speaks the connectionless tracker protocol: one gob
// datagram out, one back, with a timeout and bounded retries per call.
type TrackerClient struct {
	trackerAddr string
	timeout     time.Duration
}

// NewTrackerClient builds a client for the tracker at addr.
func NewTrackerClient(addr string, timeout time.Duration) *TrackerClient {
	return &TrackerClient{trackerAddr: addr, timeout: timeout}
}

// roundTrip sends one request and waits for its response. A timeout is
// a network failure, never success.
func (c *TrackerClient) roundTrip(req protocol.TrackerRequest) (protocol.TrackerResponse, error) {
	payload, err := protocol.Encode(req)
	if err != nil {
		return protocol.TrackerResponse{}, fmt.Errorf("encode %s: %w", req.Op, err)
	}

	var lastErr error
	for attempt := 1; attempt <= trackerRetries; attempt++ {
		resp, err := c.exchange(payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		logger.Sugar.Warnf("[TrackerClient] %s attempt %d/%d failed: %v", req.Op, attempt, trackerRetries, err)
	}
	return protocol.TrackerResponse{}, fmt.Errorf("tracker %s failed after %d attempts: %w", req.Op, trackerRetries, lastErr)
}

func (c *TrackerClient) exchange(payload []byte) (protocol.TrackerResponse, error) {
	conn, err := net.Dial("udp", c.trackerAddr)
	if err != nil {
		return protocol.TrackerResponse{}, fmt.Errorf("dial tracker %s: %w", c.trackerAddr, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))
	if _, err := conn.Write(payload); err != nil {
		return protocol.TrackerResponse{}, fmt.Errorf("send: %w", err)
	}

	buf := make([]byte, 64*1024)
	n, err := conn.Read(buf)
	if err != nil {
		return protocol.TrackerResponse{}, fmt.Errorf("receive: %w", err)
	}
	msg, err := protocol.Decode(buf[:n])
	if err != nil {
		return protocol.TrackerResponse{}, fmt.Errorf("decode: %w", err)
	}
	resp, ok := msg.(protocol.TrackerResponse)
	if !ok {
		return protocol.TrackerResponse{}, fmt.Errorf("unexpected response type %T", msg)
	}
	return resp, nil
}

// statusErr maps a non-OK tracker status to an error; registry errors
// are surfaced to the caller and never retried here.
func statusErr(resp protocol.TrackerResponse) error {
	if resp.Status == protocol.StatusOK {
		return nil
	}
	return fmt.Errorf("%w: %s (%s)", ErrTrackerRefused, resp.Status, resp.Message)
}

// ErrTrackerRefused wraps non-OK tracker statuses for callers that need
// to distinguish refusal from network failure.
var ErrTrackerRefused = errors.New("tracker refused")

// Register announces this peer's identity and transfer address.
func (c *TrackerClient) Register(peerID, addr, username string) error {
	resp, err := c.roundTrip(protocol.TrackerRequest{
		Op: protocol.OpRegister, PeerID: peerID, Addr: addr, Username: username,
	})
	if err != nil {
		return err
	}
	return statusErr(resp)
}

// Heartbeat refreshes this peer's liveness.
func (c *TrackerClient) Heartbeat(peerID string) error {
	resp, err := c.roundTrip(protocol.TrackerRequest{Op: protocol.OpHeartbeat, PeerID: peerID})
	if err != nil {
		return err
	}
	return statusErr(resp)
}

// Announce adds this peer to the availability index for a file.
func (c *TrackerClient) Announce(peerID, fileDigest, fileName string) error {
	resp, err := c.roundTrip(protocol.TrackerRequest{
		Op: protocol.OpAnnounce, PeerID: peerID, FileDigest: fileDigest, FileName: fileName,
	})
	if err != nil {
		return err
	}
	return statusErr(resp)
}

// Query returns the live seeders of a file.
func (c *TrackerClient) Query(fileDigest string) ([]protocol.PeerInfo, error) {
	resp, err := c.roundTrip(protocol.TrackerRequest{Op: protocol.OpQuery, FileDigest: fileDigest})
	if err != nil {
		return nil, err
	}
	if err := statusErr(resp); err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

// Deregister removes this peer from the directory.
func (c *TrackerClient) Deregister(peerID string) error {
	resp, err := c.roundTrip(protocol.TrackerRequest{Op: protocol.OpDeregister, PeerID: peerID})
	if err != nil {
		return err
	}
	return statusErr(resp)
}

// ListFiles returns the tracker's file listing.
func (c *TrackerClient) ListFiles() ([]protocol.FileSummary, error) {
	resp, err := c.roundTrip(protocol.TrackerRequest{Op: protocol.OpListFiles})
	if err != nil {
		return nil, err
	}
	if err := statusErr(resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// ListPeers returns the live peers known to the tracker.
func (c *TrackerClient) ListPeers() ([]protocol.PeerInfo, error) {
	resp, err := c.roundTrip(protocol.TrackerRequest{Op: protocol.OpListPeers})
	if err != nil {
		return nil, err
	}
	if err := statusErr(resp); err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

// Ping checks that the tracker answers at all.
func (c *TrackerClient) Ping() error {
	resp, err := c.roundTrip(protocol.TrackerRequest{Op: protocol.OpPing})
	if err != nil {
		return err
	}
	return statusErr(resp)
}
