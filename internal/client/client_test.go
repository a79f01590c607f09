package client

import (
	"net"
	"testing"
	"time"

	"github.com/andersfylling/lockstep-arena/internal/server"
	"github.com/andersfylling/lockstep-arena/internal/transport"
)

// newTestServer starts a server.Server wired entirely to simulated
// transport, for exercising Client.connectRemote without touching the OS
// network stack. Returns the listener's Offer func, which a test feeds
// incoming connections to, and the server's UDP socket.
func newTestServer(t *testing.T, udpNet *transport.SimUDPNetwork) (offer func(conn transport.TCPStream), serverUDP transport.UDPSocket) {
	t.Helper()

	cfg := server.DefaultConfig()
	cfg.MaxPlayers = 1
	cfg.TickRate = 500
	cfg.SyncRate = 500
	cfg.GraceFrames = 2

	srv := server.New(cfg)
	listener := transport.NewSimTCPListener("server")

	sock, err := udpNet.Bind("server-udp")
	if err != nil {
		t.Fatalf("bind server udp: %v", err)
	}
	srv.SetTransport(listener, sock)

	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(srv.Stop)

	return listener.Offer, sock
}

func TestClient_ConnectRemoteCompletesHandshakeAndStartsManager(t *testing.T) {
	udpNet := transport.NewSimUDPNetwork(0, nil)
	offer, serverUDP := newTestServer(t, udpNet)

	clientConn, serverConn := transport.NewSimTCPPair("client", "server")
	offer(serverConn)

	clientUDPBound := false
	cfg := DefaultConfig()
	cfg.ServerAddr = "server:7777"
	cfg.PlayerName = "alice"
	c := New(cfg)
	c.dialTCP = func(addr string) (transport.TCPStream, error) {
		return clientConn, nil
	}
	c.listenUDP = func(addr string) (transport.UDPSocket, error) {
		sock, err := udpNet.Bind("client-udp")
		if err == nil {
			clientUDPBound = true
		}
		return sock, err
	}
	c.resolveServerUDP = func(serverAddr string) (net.Addr, error) {
		return serverUDP.LocalAddr(), nil
	}

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if !c.IsConnected() {
		t.Fatalf("expected client to report connected after a successful handshake")
	}
	if !clientUDPBound {
		t.Fatalf("expected the client to open its real-time socket during connect")
	}
	if c.PlayerID() != 1 {
		t.Fatalf("expected player ID 1 for the first session, got %d", c.PlayerID())
	}
	if c.World() == nil {
		t.Fatalf("expected a world to be constructed from the initial snapshot")
	}

	// Let a few ticks run so the client sends input and the server's
	// broadcasts reach back to update the Manager's state history.
	time.Sleep(50 * time.Millisecond)

	c.mu.RLock()
	mgr := c.mgr
	c.mu.RUnlock()
	if mgr == nil {
		t.Fatalf("expected a Manager to be running in remote mode")
	}
}
