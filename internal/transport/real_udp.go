package transport

import (
	"net"
	"time"
)

// realUDPSocket adapts a net.UDPConn to UDPSocket.
type realUDPSocket struct {
	conn *net.UDPConn
}

// ListenUDP opens a real UDP socket bound to addr ("" picks an ephemeral
// port, used by clients that only ever send-then-receive from one peer).
func ListenUDP(addr string) (UDPSocket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &realUDPSocket{conn: conn}, nil
}

func (s *realUDPSocket) WriteTo(payload []byte, addr net.Addr) error {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp", addr.String())
		if err != nil {
			return err
		}
		udpAddr = resolved
	}
	_, err := s.conn.WriteToUDP(payload, udpAddr)
	return err
}

func (s *realUDPSocket) TryReadFrom(maxSize int) ([]byte, net.Addr, bool, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(pollTimeout))
	buf := make([]byte, maxSize)
	n, from, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		if isRetryable(err) {
			return nil, nil, false, nil
		}
		return nil, nil, false, err
	}
	return buf[:n], from, true, nil
}

func (s *realUDPSocket) LocalAddr() net.Addr { return s.conn.LocalAddr() }
func (s *realUDPSocket) Close() error        { return s.conn.Close() }
