// Package transport implements the TCP control channel and UDP real-time
// channel (spec §4.4), each with a real (net-backed) and simulated
// (in-process) adapter sharing one interface, plus the length-prefixed
// record framing used over TCP.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

// ErrRecordTooLarge is returned when a length prefix exceeds the configured
// maximum, guarding against a corrupt or hostile stream exhausting memory.
var ErrRecordTooLarge = errors.New("transport: record exceeds maximum size")

const headerSize = 4 // uint32 big-endian payload length, excluding the header itself

// ResetableReader buffers bytes read from an underlying io.Reader so a
// consumer can attempt to parse a complete record, discover there isn't
// enough data yet, and retry later without losing or re-requesting bytes
// already read off the wire. Grounded on
// rust_game/commons/src/net/resetablereader.rs.
type ResetableReader struct {
	inner   io.Reader
	buf     []byte
	fillLen int
	readLen int
}

// NewResetableReader wraps inner.
func NewResetableReader(inner io.Reader) *ResetableReader {
	return &ResetableReader{inner: inner}
}

// ResetCursor rewinds the read cursor to the start of the buffered prefix
// without discarding it, so the next Read (or TryReadRecord attempt) replays
// the same bytes. Callers use this after a partial-record read to retry
// once more data has arrived.
func (r *ResetableReader) ResetCursor() {
	r.readLen = 0
}

// DropReadBytes discards everything already consumed via Read, compacting
// the buffer. Call this once a full record has been successfully parsed.
func (r *ResetableReader) DropReadBytes() {
	copy(r.buf, r.buf[r.readLen:r.fillLen])
	r.fillLen -= r.readLen
	r.buf = r.buf[:r.fillLen]
	r.readLen = 0
}

// Read implements io.Reader. It first tops up the internal buffer from the
// underlying reader if the caller is asking for more bytes than are
// already buffered-but-unread, then copies from the buffer. A short read
// from the underlying reader (including hitting EOF/a would-block error)
// simply yields a short Read here, per the normal io.Reader contract;
// no bytes are ever lost, since they remain in buf for the next call.
func (r *ResetableReader) Read(p []byte) (int, error) {
	unreadBuffered := r.fillLen - r.readLen
	needed := len(p) - unreadBuffered

	var readErr error
	if needed > 0 {
		if cap(r.buf)-r.fillLen < needed {
			grown := make([]byte, r.fillLen+needed)
			copy(grown, r.buf[:r.fillLen])
			r.buf = grown
		} else {
			r.buf = r.buf[:cap(r.buf)]
		}

		n, err := r.inner.Read(r.buf[r.fillLen : r.fillLen+needed])
		r.fillLen += n
		if err != nil {
			readErr = err
		}
	}

	available := r.fillLen - r.readLen
	n := len(p)
	if available < n {
		n = available
	}
	copy(p[:n], r.buf[r.readLen:r.readLen+n])
	r.readLen += n

	if n == 0 && readErr != nil {
		return 0, readErr
	}
	return n, nil
}

// TryReadRecord attempts to read one length-prefixed record: a 4-byte
// big-endian payload length followed by that many payload bytes. If the
// underlying reader doesn't yet have enough buffered to complete the
// record (a timeout/would-block error, or a clean short read), the cursor
// is reset (not the buffer) and TryReadRecord returns ok=false, err=nil so
// the caller can poll again later without having discarded any bytes
// already read off the wire. A maxPayload of 0 disables the size guard.
func (r *ResetableReader) TryReadRecord(maxPayload uint32) (payload []byte, ok bool, err error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if isRetryable(err) {
			r.ResetCursor()
			return nil, false, nil
		}
		return nil, false, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if maxPayload > 0 && length > maxPayload {
		return nil, false, ErrRecordTooLarge
	}

	payload = make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if isRetryable(err) {
				r.ResetCursor()
				return nil, false, nil
			}
			return nil, false, err
		}
	}

	r.DropReadBytes()
	return payload, true, nil
}

// isRetryable reports whether err represents "not enough data yet" rather
// than a genuine stream failure: io.EOF/io.ErrUnexpectedEOF from a short
// underlying read, or a net.Error reporting Timeout() (the real TCP
// adapter sets short read deadlines to poll without blocking the handler
// thread forever).
func isRetryable(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// EncodeRecord prepends payload with its big-endian uint32 length prefix.
func EncodeRecord(payload []byte) ([]byte, error) {
	if len(payload) > int(^uint32(0)) {
		return nil, fmt.Errorf("transport: payload of %d bytes exceeds uint32 length prefix", len(payload))
	}
	out := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(out[:headerSize], uint32(len(payload)))
	copy(out[headerSize:], payload)
	return out, nil
}
