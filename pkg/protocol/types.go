// Package protocol defines the wire messages for both the connectionless
// tracker exchange and the connection-oriented chunk transfer, plus the
// gob helpers used to move them.
package protocol

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/CodeWithSiya/PyTorrent/pkg/chunk"
)

func init() {
	// Register types for GOB encoding
	gob.Register(TrackerRequest{})
	gob.Register(TrackerResponse{})
	gob.Register(ChunkRequest{})
	gob.Register(ChunkResponse{})
	gob.Register(PingRequest{})
	gob.Register(PongResponse{})
	gob.Register(DescriptorRequest{})
	gob.Register(DescriptorResponse{})
}

// Tracker operation tags. Every request is self-contained; register,
// heartbeat and announce are idempotent so the handler never needs to
// deduplicate or replay.
type TrackerOp uint8

const (
	OpRegister TrackerOp = iota + 1
	OpHeartbeat
	OpAnnounce
	OpQuery
	OpDeregister
	OpListFiles
	OpListPeers
	OpPing
)

func (op TrackerOp) String() string {
	switch op {
	case OpRegister:
		return "register"
	case OpHeartbeat:
		return "heartbeat"
	case OpAnnounce:
		return "announce"
	case OpQuery:
		return "query"
	case OpDeregister:
		return "deregister"
	case OpListFiles:
		return "list-files"
	case OpListPeers:
		return "list-peers"
	case OpPing:
		return "ping"
	default:
		return "unknown"
	}
}

// Tracker response statuses.
type Status uint8

const (
	StatusOK Status = iota + 1
	StatusUnknownPeer
	StatusDuplicateAddress
	StatusRegistryFull
	StatusBadRequest
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnknownPeer:
		return "unknown peer"
	case StatusDuplicateAddress:
		return "duplicate address"
	case StatusRegistryFull:
		return "registry full"
	case StatusBadRequest:
		return "bad request"
	default:
		return "unknown status"
	}
}

// TrackerRequest is one UDP datagram from a peer to the tracker.
type TrackerRequest struct {
	Op         TrackerOp
	PeerID     string
	Username   string
	Addr       string // host:port of the peer's transfer server
	FileDigest string
	FileName   string
}

// PeerInfo is the registry's public view of a peer.
type PeerInfo struct {
	PeerID   string
	Username string
	Addr     string
}

// FileSummary is one entry of a tracker file listing.
type FileSummary struct {
	Digest  string
	Names   []string
	Seeders int
}

// TrackerResponse is the tracker's answer to one request.
type TrackerResponse struct {
	Status  Status
	Message string
	Peers   []PeerInfo
	Files   []FileSummary
}

// Transfer protocol statuses.
const (
	ChunkOK uint8 = iota + 1
	ChunkNotAvailable
)

// ChunkRequest asks a seeder for one chunk of one file. One request is
// served per connection.
type ChunkRequest struct {
	FileDigest string
	ChunkIndex uint32
}

// ChunkResponse precedes the chunk bytes on the wire. When Status is
// ChunkNotAvailable no stream frame follows.
type ChunkResponse struct {
	Status      uint8
	ChunkDigest string
	Size        uint32
}

// PingRequest probes a seeder for availability.
type PingRequest struct{}

// PongResponse answers a ping.
type PongResponse struct{}

// DescriptorRequest asks a seeder for the full descriptor of a file it
// advertises, so a leecher holding only the digest can learn the chunk
// layout before scheduling fetches.
type DescriptorRequest struct {
	FileDigest string
}

// DescriptorResponse carries the descriptor, or ChunkNotAvailable when
// the seeder does not actually catalog that file.
type DescriptorResponse struct {
	Status     uint8
	Descriptor chunk.FileDescriptor
}

// Encode gob-encodes msg into a byte slice, suitable for a UDP datagram
// or a control frame payload.
func Encode(msg any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode gob-decodes one message from b.
func Decode(b []byte) (any, error) {
	var msg any
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// WriteMessage writes msg to w as a control frame.
func WriteMessage(w io.Writer, msg any) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := writeFrameHeader(w, FrameTypeControl, uint32(len(payload))); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadMessage reads one control frame from r and decodes it.
func ReadMessage(r io.Reader) (any, error) {
	msgType, length, err := readFrameHeader(r)
	if err != nil {
		return nil, err
	}
	if msgType != FrameTypeControl {
		return nil, ErrUnexpectedFrame
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return Decode(payload)
}

// WriteStream writes length bytes from data to w as a stream frame.
func WriteStream(w io.Writer, data io.Reader, length uint32) error {
	if err := writeFrameHeader(w, FrameTypeStream, length); err != nil {
		return err
	}
	_, err := io.CopyN(w, data, int64(length))
	return err
}

// ReadStream reads one stream frame from r into memory.
func ReadStream(r io.Reader) ([]byte, error) {
	msgType, length, err := readFrameHeader(r)
	if err != nil {
		return nil, err
	}
	if msgType != FrameTypeStream {
		return nil, ErrUnexpectedFrame
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
