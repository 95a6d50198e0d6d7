package tracker

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/CodeWithSiya/PyTorrent/pkg/discovery"
	"github.com/CodeWithSiya/PyTorrent/pkg/logger"
	"github.com/CodeWithSiya/PyTorrent/pkg/protocol"
)

const sweepInterval = 10 * time.Second

// Server is the connectionless tracker protocol handler. Every datagram
// is a self-contained gob request answered by one gob response; lost
// datagrams are the caller's problem to retry. The server never buffers
// or replays, and a malformed request gets a BadRequest answer instead
// of taking the handler down.
type Server struct {
	registry   *Registry
	listenAddr string
	conn       *net.UDPConn
	quitCh     chan struct{}
	advertiser *discovery.Advertiser
	advertise  bool
}

// NewServer wires a handler to its registry. The registry is owned by
// the caller and passed in explicitly so its lifecycle is visible.
func NewServer(addr string, registry *Registry, advertise bool) *Server {
	return &Server{
		registry:   registry,
		listenAddr: addr,
		quitCh:     make(chan struct{}),
		advertiser: discovery.NewAdvertiser(),
		advertise:  advertise,
	}
}

// Start binds the UDP socket and serves until Stop. Blocking.
func (s *Server) Start() error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", s.listenAddr, err)
	}
	s.conn, err = net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.listenAddr, err)
	}

	logger.Sugar.Infof("[Tracker] listening on %s", s.conn.LocalAddr())

	if s.advertise {
		if _, portStr, err := net.SplitHostPort(s.conn.LocalAddr().String()); err == nil {
			if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
				meta := map[string]string{"version": "1.0.0", "type": "tracker"}
				if err := s.advertiser.Start("", port, meta); err != nil {
					logger.Sugar.Errorf("[Tracker] mDNS advertisement failed: %v", err)
				}
			}
		}
	}

	go s.sweepLoop()
	s.serve()
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.conn == nil {
		return s.listenAddr
	}
	return s.conn.LocalAddr().String()
}

// Stop shuts the server down and tears the socket.
func (s *Server) Stop() {
	close(s.quitCh)
	s.advertiser.Stop()
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Server) serve() {
	buf := make([]byte, 64*1024)
	for {
		n, peerAddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.quitCh:
				logger.Sugar.Info("[Tracker] stopped")
				return
			default:
				logger.Sugar.Errorf("[Tracker] read error: %v", err)
				continue
			}
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		go s.handleDatagram(datagram, peerAddr)
	}
}

func (s *Server) handleDatagram(datagram []byte, peerAddr *net.UDPAddr) {
	msg, err := protocol.Decode(datagram)
	if err != nil {
		logger.Sugar.Warnf("[Tracker] malformed datagram from %s: %v", peerAddr, err)
		s.respond(peerAddr, protocol.TrackerResponse{
			Status:  protocol.StatusBadRequest,
			Message: "malformed request",
		})
		return
	}

	req, ok := msg.(protocol.TrackerRequest)
	if !ok {
		logger.Sugar.Warnf("[Tracker] unexpected message type from %s: %T", peerAddr, msg)
		s.respond(peerAddr, protocol.TrackerResponse{
			Status:  protocol.StatusBadRequest,
			Message: fmt.Sprintf("unexpected message type %T", msg),
		})
		return
	}

	s.respond(peerAddr, s.handleRequest(req))
}

func (s *Server) handleRequest(req protocol.TrackerRequest) protocol.TrackerResponse {
	switch req.Op {
	case protocol.OpRegister:
		if req.PeerID == "" || req.Addr == "" {
			return badRequest("register needs a peer id and a transfer address")
		}
		rec, err := s.registry.Register(req.PeerID, req.Addr, req.Username)
		if err != nil {
			return errorResponse(err)
		}
		logger.Sugar.Infof("[Tracker] registered peer=%s addr=%s user=%s", rec.PeerID, rec.Addr, rec.Username)
		return okResponse(fmt.Sprintf("peer registered: %s", rec.PeerID))

	case protocol.OpHeartbeat:
		if err := s.registry.Heartbeat(req.PeerID); err != nil {
			return errorResponse(err)
		}
		return okResponse("last activity updated")

	case protocol.OpAnnounce:
		if req.FileDigest == "" {
			return badRequest("announce needs a file digest")
		}
		if err := s.registry.AnnounceFile(req.PeerID, req.FileDigest, req.FileName); err != nil {
			return errorResponse(err)
		}
		logger.Sugar.Infof("[Tracker] announce peer=%s file=%s", req.PeerID, req.FileDigest)
		return okResponse("file announced")

	case protocol.OpQuery:
		if req.FileDigest == "" {
			return badRequest("query needs a file digest")
		}
		records := s.registry.QueryPeers(req.FileDigest)
		resp := okResponse(fmt.Sprintf("%d seeders", len(records)))
		for _, rec := range records {
			resp.Peers = append(resp.Peers, protocol.PeerInfo{
				PeerID:   rec.PeerID,
				Username: rec.Username,
				Addr:     rec.Addr,
			})
		}
		return resp

	case protocol.OpDeregister:
		if err := s.registry.Deregister(req.PeerID); err != nil {
			return errorResponse(err)
		}
		logger.Sugar.Infof("[Tracker] deregistered peer=%s", req.PeerID)
		return okResponse("peer removed")

	case protocol.OpListFiles:
		resp := okResponse("")
		resp.Files = s.registry.ListFiles()
		return resp

	case protocol.OpListPeers:
		resp := okResponse("")
		for _, rec := range s.registry.ListPeers() {
			resp.Peers = append(resp.Peers, protocol.PeerInfo{
				PeerID:   rec.PeerID,
				Username: rec.Username,
				Addr:     rec.Addr,
			})
		}
		return resp

	case protocol.OpPing:
		return okResponse("PONG")

	default:
		return badRequest(fmt.Sprintf("unknown operation %d", req.Op))
	}
}

func (s *Server) respond(peerAddr *net.UDPAddr, resp protocol.TrackerResponse) {
	payload, err := protocol.Encode(resp)
	if err != nil {
		logger.Sugar.Errorf("[Tracker] encode response: %v", err)
		return
	}
	if _, err := s.conn.WriteToUDP(payload, peerAddr); err != nil {
		logger.Sugar.Errorf("[Tracker] write to %s: %v", peerAddr, err)
	}
}

func (s *Server) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quitCh:
			return
		case <-ticker.C:
			if evicted := s.registry.Sweep(); evicted > 0 {
				logger.Sugar.Warnf("[Tracker] evicted %d expired peers", evicted)
			}
		}
	}
}

func okResponse(msg string) protocol.TrackerResponse {
	return protocol.TrackerResponse{Status: protocol.StatusOK, Message: msg}
}

func badRequest(msg string) protocol.TrackerResponse {
	return protocol.TrackerResponse{Status: protocol.StatusBadRequest, Message: msg}
}

func errorResponse(err error) protocol.TrackerResponse {
	resp := protocol.TrackerResponse{Message: err.Error()}
	switch {
	case errors.Is(err, ErrUnknownPeer):
		resp.Status = protocol.StatusUnknownPeer
	case errors.Is(err, ErrDuplicateAddress):
		resp.Status = protocol.StatusDuplicateAddress
	case errors.Is(err, ErrRegistryFull):
		resp.Status = protocol.StatusRegistryFull
	default:
		resp.Status = protocol.StatusBadRequest
	}
	return resp
}
