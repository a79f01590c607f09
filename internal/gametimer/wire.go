package gametimer

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/andersfylling/lockstep-arena/internal/timeval"
)

// ErrShortBuffer is returned by a Decode function when buf is too small.
var ErrShortBuffer = errors.New("gametimer: short buffer")

// EncodePingRequest serializes req for the UDP real-time channel.
func EncodePingRequest(req PingRequest) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], req.PlayerIndex)
	binary.BigEndian.PutUint64(buf[4:12], uint64(req.ClientSendTime.StdTime().UnixNano()))
	return buf
}

// DecodePingRequest parses buf produced by EncodePingRequest.
func DecodePingRequest(buf []byte) (PingRequest, error) {
	if len(buf) < 12 {
		return PingRequest{}, ErrShortBuffer
	}
	return PingRequest{
		PlayerIndex:    binary.BigEndian.Uint32(buf[0:4]),
		ClientSendTime: timeval.FromTime(time.Unix(0, int64(binary.BigEndian.Uint64(buf[4:12])))),
	}, nil
}

// EncodePingResponse serializes resp.
func EncodePingResponse(resp PingResponse) []byte {
	buf := make([]byte, 12+8+8)
	copy(buf[0:12], EncodePingRequest(resp.Request))
	binary.BigEndian.PutUint64(buf[12:20], uint64(resp.ServerRecvTime.StdTime().UnixNano()))
	binary.BigEndian.PutUint64(buf[20:28], uint64(resp.ServerSendTime.StdTime().UnixNano()))
	return buf
}

// DecodePingResponse parses buf produced by EncodePingResponse.
func DecodePingResponse(buf []byte) (PingResponse, error) {
	if len(buf) < 28 {
		return PingResponse{}, ErrShortBuffer
	}
	req, err := DecodePingRequest(buf[0:12])
	if err != nil {
		return PingResponse{}, err
	}
	return PingResponse{
		Request:        req,
		ServerRecvTime: timeval.FromTime(time.Unix(0, int64(binary.BigEndian.Uint64(buf[12:20])))),
		ServerSendTime: timeval.FromTime(time.Unix(0, int64(binary.BigEndian.Uint64(buf[20:28])))),
	}, nil
}
