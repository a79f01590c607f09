package transport

import (
	"errors"
	"math/rand/v2"
	"net"
	"sync"
)

// udpAddr is a synthetic net.Addr identifying a simulated UDP socket by
// name, so simulated sockets can address each other without binding real
// OS ports.
type udpAddr string

func (a udpAddr) Network() string { return "sim-udp" }
func (a udpAddr) String() string  { return string(a) }

// SimUDPNetwork is the shared registry simulated UDP sockets route
// datagrams through; it models an unordered, lossy network (spec §4.4
// real-time channel semantics) with a configurable, deterministic drop
// rate driven by an injected *rand.Rand so fuzz tests stay reproducible
// under a fixed seed.
type SimUDPNetwork struct {
	mu       sync.Mutex
	sockets  map[udpAddr]*simUDPSocket
	lossRate float64 // [0,1]: fraction of datagrams dropped in transit
	rng      *rand.Rand
}

// NewSimUDPNetwork creates a network with the given loss rate in [0,1]
// (1 drops every datagram). A nil rng falls back to a PCG source with the
// fixed seed (1, 1); pass a seeded *rand.Rand to pick a different
// reproducible drop sequence.
func NewSimUDPNetwork(lossRate float64, rng *rand.Rand) *SimUDPNetwork {
	if rng == nil {
		rng = rand.New(rand.NewPCG(1, 1))
	}
	return &SimUDPNetwork{
		sockets:  make(map[udpAddr]*simUDPSocket),
		lossRate: lossRate,
		rng:      rng,
	}
}

// Bind creates and registers a new simulated socket under name.
func (n *SimUDPNetwork) Bind(name string) (UDPSocket, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	addr := udpAddr(name)
	if _, exists := n.sockets[addr]; exists {
		return nil, errors.New("transport: simulated address already bound: " + name)
	}
	sock := &simUDPSocket{network: n, addr: addr, inbox: make(chan datagram, 256)}
	n.sockets[addr] = sock
	return sock, nil
}

func (n *SimUDPNetwork) unbind(addr udpAddr) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.sockets, addr)
}

func (n *SimUDPNetwork) deliver(to udpAddr, dg datagram) {
	n.mu.Lock()
	drop := n.lossRate > 0 && n.rng.Float64() < n.lossRate
	target := n.sockets[to]
	n.mu.Unlock()

	if drop || target == nil {
		return
	}
	select {
	case target.inbox <- dg:
	default:
		// Inbox full: drop, matching real UDP's no-backpressure delivery.
	}
}

type datagram struct {
	payload []byte
	from    net.Addr
}

type simUDPSocket struct {
	network *SimUDPNetwork
	addr    udpAddr
	inbox   chan datagram
	closed  bool
	mu      sync.Mutex
}

func (s *simUDPSocket) WriteTo(payload []byte, addr net.Addr) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("transport: write on closed simulated socket")
	}
	to, ok := addr.(udpAddr)
	if !ok {
		return errors.New("transport: simulated socket cannot address " + addr.String())
	}
	cp := append([]byte(nil), payload...)
	s.network.deliver(to, datagram{payload: cp, from: s.addr})
	return nil
}

func (s *simUDPSocket) TryReadFrom(maxSize int) ([]byte, net.Addr, bool, error) {
	select {
	case dg := <-s.inbox:
		if len(dg.payload) > maxSize {
			dg.payload = dg.payload[:maxSize]
		}
		return dg.payload, dg.from, true, nil
	default:
		return nil, nil, false, nil
	}
}

func (s *simUDPSocket) LocalAddr() net.Addr { return s.addr }

func (s *simUDPSocket) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.network.unbind(s.addr)
	return nil
}
