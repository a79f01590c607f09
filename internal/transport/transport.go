package transport

import (
	"net"
	"time"
)

// pollTimeout bounds how long a real adapter's Read blocks before returning
// a timeout error, so callers on an eventloop.EventHandler thread can poll
// via TryForNextEvent without blocking that thread indefinitely.
const pollTimeout = 20 * time.Millisecond

// TCPStream is the control-channel connection interface shared by the real
// (net.Conn-backed) and simulated (net.Pipe-backed) adapters.
type TCPStream interface {
	// WriteRecord frames and writes one record.
	WriteRecord(payload []byte) error
	// TryReadRecord attempts to read one complete record without blocking
	// past pollTimeout; ok=false, err=nil means "nothing complete yet".
	TryReadRecord(maxPayload uint32) (payload []byte, ok bool, err error)
	RemoteAddr() net.Addr
	Close() error
}

// TCPListener accepts incoming TCPStreams.
type TCPListener interface {
	// TryAccept returns ok=false, err=nil if no connection arrived within
	// pollTimeout.
	TryAccept() (conn TCPStream, ok bool, err error)
	Addr() net.Addr
	Close() error
}

// UDPSocket is the real-time channel interface: unordered, unreliable,
// datagram-oriented, shared by the real (net.UDPConn-backed) and simulated
// (in-process registry) adapters.
type UDPSocket interface {
	// WriteTo sends one datagram to addr.
	WriteTo(payload []byte, addr net.Addr) error
	// TryReadFrom reads one datagram if one is queued; ok=false, err=nil
	// means none arrived within pollTimeout.
	TryReadFrom(maxSize int) (payload []byte, from net.Addr, ok bool, err error)
	LocalAddr() net.Addr
	Close() error
}
