package tracker

import (
	"net"
	"testing"
	"time"

	"github.com/CodeWithSiya/PyTorrent/pkg/protocol"
)

// startTestServer runs a tracker on a loopback port and returns a request
// helper bound to a fresh client socket.
func startTestServer(t *testing.T) (func(req protocol.TrackerRequest) protocol.TrackerResponse, func(raw []byte) protocol.TrackerResponse) {
	t.Helper()

	registry := NewRegistry(30*time.Second, 0)
	srv := NewServer("127.0.0.1:0", registry, false)
	go func() {
		if err := srv.Start(); err != nil {
			t.Errorf("tracker start: %v", err)
		}
	}()
	t.Cleanup(srv.Stop)

	// wait for the socket to come up
	deadline := time.Now().Add(2 * time.Second)
	for srv.conn == nil {
		if time.Now().After(deadline) {
			t.Fatal("tracker did not bind in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sendRaw := func(raw []byte) protocol.TrackerResponse {
		t.Helper()
		conn, err := net.Dial("udp", srv.Addr())
		if err != nil {
			t.Fatal(err)
		}
		defer conn.Close()

		if _, err := conn.Write(raw); err != nil {
			t.Fatal(err)
		}
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, 64*1024)
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("no response: %v", err)
		}
		msg, err := protocol.Decode(buf[:n])
		if err != nil {
			t.Fatalf("decode response: %v", err)
		}
		resp, ok := msg.(protocol.TrackerResponse)
		if !ok {
			t.Fatalf("unexpected response type %T", msg)
		}
		return resp
	}

	send := func(req protocol.TrackerRequest) protocol.TrackerResponse {
		t.Helper()
		raw, err := protocol.Encode(req)
		if err != nil {
			t.Fatal(err)
		}
		return sendRaw(raw)
	}

	return send, sendRaw
}

func TestServerRegisterAnnounceQuery(t *testing.T) {
	send, _ := startTestServer(t)

	resp := send(protocol.TrackerRequest{
		Op: protocol.OpRegister, PeerID: "p1", Username: "alice", Addr: "127.0.0.1:12000",
	})
	if resp.Status != protocol.StatusOK {
		t.Fatalf("register: %s (%s)", resp.Status, resp.Message)
	}

	resp = send(protocol.TrackerRequest{
		Op: protocol.OpAnnounce, PeerID: "p1", FileDigest: "d1", FileName: "notes.txt",
	})
	if resp.Status != protocol.StatusOK {
		t.Fatalf("announce: %s (%s)", resp.Status, resp.Message)
	}

	resp = send(protocol.TrackerRequest{Op: protocol.OpQuery, FileDigest: "d1"})
	if resp.Status != protocol.StatusOK {
		t.Fatalf("query: %s (%s)", resp.Status, resp.Message)
	}
	if len(resp.Peers) != 1 || resp.Peers[0].Addr != "127.0.0.1:12000" {
		t.Fatalf("query result: %+v", resp.Peers)
	}

	resp = send(protocol.TrackerRequest{Op: protocol.OpListFiles})
	if len(resp.Files) != 1 || resp.Files[0].Seeders != 1 {
		t.Fatalf("list files: %+v", resp.Files)
	}
}

func TestServerAnnounceUnknownPeer(t *testing.T) {
	send, _ := startTestServer(t)

	resp := send(protocol.TrackerRequest{Op: protocol.OpAnnounce, PeerID: "ghost", FileDigest: "d1"})
	if resp.Status != protocol.StatusUnknownPeer {
		t.Fatalf("expected unknown peer, got %s", resp.Status)
	}
}

func TestServerSurvivesGarbageDatagram(t *testing.T) {
	send, sendRaw := startTestServer(t)

	resp := sendRaw([]byte("REGISTER leecher mallory"))
	if resp.Status != protocol.StatusBadRequest {
		t.Fatalf("expected bad request, got %s", resp.Status)
	}

	// handler keeps serving after the malformed datagram
	resp = send(protocol.TrackerRequest{Op: protocol.OpPing})
	if resp.Status != protocol.StatusOK || resp.Message != "PONG" {
		t.Fatalf("ping after garbage: %+v", resp)
	}
}

func TestServerDuplicateAddressStatus(t *testing.T) {
	send, _ := startTestServer(t)

	send(protocol.TrackerRequest{Op: protocol.OpRegister, PeerID: "p1", Addr: "127.0.0.1:12000"})
	resp := send(protocol.TrackerRequest{Op: protocol.OpRegister, PeerID: "p2", Addr: "127.0.0.1:12000"})
	if resp.Status != protocol.StatusDuplicateAddress {
		t.Fatalf("expected duplicate address, got %s (%s)", resp.Status, resp.Message)
	}
}

func TestServerDeregister(t *testing.T) {
	send, _ := startTestServer(t)

	send(protocol.TrackerRequest{Op: protocol.OpRegister, PeerID: "p1", Addr: "127.0.0.1:12000"})
	send(protocol.TrackerRequest{Op: protocol.OpAnnounce, PeerID: "p1", FileDigest: "d1"})

	resp := send(protocol.TrackerRequest{Op: protocol.OpDeregister, PeerID: "p1"})
	if resp.Status != protocol.StatusOK {
		t.Fatalf("deregister: %s", resp.Status)
	}
	resp = send(protocol.TrackerRequest{Op: protocol.OpQuery, FileDigest: "d1"})
	if len(resp.Peers) != 0 {
		t.Fatalf("peer still listed after deregister: %+v", resp.Peers)
	}
}
