package transport

import (
	"net"
	"sync"
)

// pipeAddr is a synthetic net.Addr for net.Pipe-backed simulated streams,
// which otherwise report net.Addr values that panic or return "pipe".
type pipeAddr string

func (a pipeAddr) Network() string { return "sim-tcp" }
func (a pipeAddr) String() string  { return string(a) }

// simTCPStream wraps one half of a net.Pipe pair, tagged with a synthetic
// remote address for logging/matching purposes in tests.
type simTCPStream struct {
	realTCPStream
	remote net.Addr
}

// NewSimTCPPair returns two connected TCPStreams (client, server side)
// backed by net.Pipe, for deterministic in-process tests of the control
// channel without touching the OS network stack.
func NewSimTCPPair(clientAddr, serverAddr string) (client TCPStream, server TCPStream) {
	a, b := net.Pipe()
	clientStream := &simTCPStream{realTCPStream: realTCPStream{conn: a, reader: NewResetableReader(a)}, remote: pipeAddr(serverAddr)}
	serverStream := &simTCPStream{realTCPStream: realTCPStream{conn: b, reader: NewResetableReader(b)}, remote: pipeAddr(clientAddr)}
	return clientStream, serverStream
}

func (s *simTCPStream) RemoteAddr() net.Addr { return s.remote }

// simTCPListener is fed connections by a test harness (net.Pipe has no
// notion of listening/accepting) via Offer, and satisfies TCPListener by
// polling a mutex-guarded pending queue the way the real adapter polls the
// OS.
type simTCPListener struct {
	addr    net.Addr
	mu      sync.Mutex
	pending []TCPStream
	closed  bool
}

// NewSimTCPListener creates a TCPListener for tests; call Offer to hand it
// a server-side stream as if a client had just connected.
func NewSimTCPListener(addr string) *simTCPListener {
	return &simTCPListener{addr: pipeAddr(addr)}
}

// Offer enqueues conn to be returned by the next TryAccept call.
func (l *simTCPListener) Offer(conn TCPStream) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, conn)
}

func (l *simTCPListener) TryAccept() (TCPStream, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return nil, false, nil
	}
	conn := l.pending[0]
	l.pending = l.pending[1:]
	return conn, true, nil
}

func (l *simTCPListener) Addr() net.Addr { return l.addr }

func (l *simTCPListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
