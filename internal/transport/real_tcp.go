package transport

import (
	"net"
	"time"
)

// realTCPStream adapts a net.Conn (or anything satisfying it, e.g.
// net.Pipe's halves) to TCPStream.
type realTCPStream struct {
	conn   net.Conn
	reader *ResetableReader
}

// newRealTCPStream wraps an already-connected net.Conn.
func newRealTCPStream(conn net.Conn) *realTCPStream {
	return &realTCPStream{conn: conn, reader: NewResetableReader(conn)}
}

// DialTCP connects to addr over real TCP.
func DialTCP(addr string) (TCPStream, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return newRealTCPStream(conn), nil
}

func (s *realTCPStream) WriteRecord(payload []byte) error {
	framed, err := EncodeRecord(payload)
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Time{})
	_, err = s.conn.Write(framed)
	return err
}

func (s *realTCPStream) TryReadRecord(maxPayload uint32) ([]byte, bool, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(pollTimeout))
	return s.reader.TryReadRecord(maxPayload)
}

func (s *realTCPStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }
func (s *realTCPStream) Close() error         { return s.conn.Close() }

// realTCPListener adapts a net.Listener to TCPListener.
type realTCPListener struct {
	ln net.Listener
}

// ListenTCP starts listening on addr over real TCP.
func ListenTCP(addr string) (TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &realTCPListener{ln: ln}, nil
}

func (l *realTCPListener) TryAccept() (TCPStream, bool, error) {
	type deadlineSetter interface {
		SetDeadline(time.Time) error
	}
	if ds, ok := l.ln.(deadlineSetter); ok {
		_ = ds.SetDeadline(time.Now().Add(pollTimeout))
	}

	conn, err := l.ln.Accept()
	if err != nil {
		if isRetryable(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return newRealTCPStream(conn), true, nil
}

func (l *realTCPListener) Addr() net.Addr { return l.ln.Addr() }
func (l *realTCPListener) Close() error   { return l.ln.Close() }
