package protocol

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned by a Decode function when buf does not hold a
// complete value of the expected shape.
var ErrShortBuffer = errors.New("protocol: short buffer")

// EncodeEnvelope prefixes payload with its MsgType, ready to hand to
// transport.TCPStream.WriteRecord (which supplies the outer length
// framing) or to a UDP datagram write.
func EncodeEnvelope(msgType MsgType, payload []byte) []byte {
	buf := make([]byte, 1+len(payload))
	buf[0] = byte(msgType)
	copy(buf[1:], payload)
	return buf
}

// DecodeEnvelope splits a received record back into its MsgType and payload.
func DecodeEnvelope(buf []byte) (MsgType, []byte, error) {
	if len(buf) < 1 {
		return 0, nil, ErrShortBuffer
	}
	return MsgType(buf[0]), buf[1:], nil
}

// Hand-rolled fixed-field binary encoding is used throughout this file
// rather than a third-party codec: these are the spec's own wire messages,
// not a data shape a serialization library could derive from reflection
// without a schema this module would have to maintain twice.

func putString(buf []byte, s string) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

func getString(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", nil, ErrShortBuffer
	}
	n := int(binary.BigEndian.Uint16(buf))
	buf = buf[2:]
	if len(buf) < n {
		return "", nil, ErrShortBuffer
	}
	return string(buf[:n]), buf[n:], nil
}

func putBytes(buf []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, b...)
}

func getBytes(buf []byte) ([]byte, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, ErrShortBuffer
	}
	n := int(binary.BigEndian.Uint32(buf))
	buf = buf[4:]
	if len(buf) < n {
		return nil, nil, ErrShortBuffer
	}
	return buf[:n], buf[n:], nil
}

// EncodeHandshake serializes h.
func EncodeHandshake(h Handshake) []byte {
	buf := make([]byte, 0, 4+2+len(h.PlayerName))
	var verBuf [4]byte
	binary.BigEndian.PutUint32(verBuf[:], uint32(h.Version))
	buf = append(buf, verBuf[:]...)
	buf = putString(buf, h.PlayerName)
	return buf
}

// DecodeHandshake parses buf produced by EncodeHandshake.
func DecodeHandshake(buf []byte) (Handshake, error) {
	if len(buf) < 4 {
		return Handshake{}, ErrShortBuffer
	}
	version := int(binary.BigEndian.Uint32(buf))
	name, _, err := getString(buf[4:])
	if err != nil {
		return Handshake{}, err
	}
	return Handshake{Version: version, PlayerName: name}, nil
}

// EncodeInitialInformation serializes m.
func EncodeInitialInformation(m InitialInformation) []byte {
	buf := make([]byte, 0, 4+4+8+8+4+len(m.InitialState))
	var tmp [8]byte
	binary.BigEndian.PutUint32(tmp[:4], m.PlayerIndex)
	buf = append(buf, tmp[:4]...)
	binary.BigEndian.PutUint32(tmp[:4], uint32(m.PlayerCount))
	buf = append(buf, tmp[:4]...)
	binary.BigEndian.PutUint64(tmp[:], uint64(m.StartTimeUnixNano))
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint64(tmp[:], uint64(m.FrameDurationNano))
	buf = append(buf, tmp[:]...)
	buf = putBytes(buf, m.InitialState)
	return buf
}

// DecodeInitialInformation parses buf produced by EncodeInitialInformation.
func DecodeInitialInformation(buf []byte) (InitialInformation, error) {
	if len(buf) < 24 {
		return InitialInformation{}, ErrShortBuffer
	}
	playerIndex := binary.BigEndian.Uint32(buf[0:4])
	playerCount := int(binary.BigEndian.Uint32(buf[4:8]))
	startTime := int64(binary.BigEndian.Uint64(buf[8:16]))
	frameDuration := int64(binary.BigEndian.Uint64(buf[16:24]))
	state, _, err := getBytes(buf[24:])
	if err != nil {
		return InitialInformation{}, err
	}
	return InitialInformation{
		PlayerIndex:       playerIndex,
		PlayerCount:       playerCount,
		StartTimeUnixNano: startTime,
		FrameDurationNano: frameDuration,
		InitialState:      state,
	}, nil
}

// EncodeInputFrame serializes f.
func EncodeInputFrame(f InputFrame) []byte {
	buf := make([]byte, 9)
	binary.BigEndian.PutUint64(buf[0:8], f.Tick)
	buf[8] = byte(f.Intents)
	return buf
}

// DecodeInputFrame parses buf produced by EncodeInputFrame.
func DecodeInputFrame(buf []byte) (InputFrame, error) {
	if len(buf) < 9 {
		return InputFrame{}, ErrShortBuffer
	}
	return InputFrame{
		Tick:    binary.BigEndian.Uint64(buf[0:8]),
		Intents: Intent(buf[8]),
	}, nil
}

// EncodeServerInputFrame serializes f.
func EncodeServerInputFrame(f ServerInputFrame) []byte {
	buf := make([]byte, 0, 8+4+len(f.Data))
	var tick [8]byte
	binary.BigEndian.PutUint64(tick[:], f.Tick)
	buf = append(buf, tick[:]...)
	return putBytes(buf, f.Data)
}

// DecodeServerInputFrame parses buf produced by EncodeServerInputFrame.
func DecodeServerInputFrame(buf []byte) (ServerInputFrame, error) {
	if len(buf) < 8 {
		return ServerInputFrame{}, ErrShortBuffer
	}
	tick := binary.BigEndian.Uint64(buf[0:8])
	data, _, err := getBytes(buf[8:])
	if err != nil {
		return ServerInputFrame{}, err
	}
	return ServerInputFrame{Tick: tick, Data: data}, nil
}

// EncodeRelayedInput serializes f.
func EncodeRelayedInput(f RelayedInput) []byte {
	buf := make([]byte, 13)
	binary.BigEndian.PutUint64(buf[0:8], f.Tick)
	binary.BigEndian.PutUint32(buf[8:12], f.PlayerIndex)
	buf[12] = byte(f.Intents)
	return buf
}

// DecodeRelayedInput parses buf produced by EncodeRelayedInput.
func DecodeRelayedInput(buf []byte) (RelayedInput, error) {
	if len(buf) < 13 {
		return RelayedInput{}, ErrShortBuffer
	}
	return RelayedInput{
		Tick:        binary.BigEndian.Uint64(buf[0:8]),
		PlayerIndex: binary.BigEndian.Uint32(buf[8:12]),
		Intents:     Intent(buf[12]),
	}, nil
}

// EncodeEntityState serializes one entity's component blob.
func EncodeEntityState(e EntityState) []byte {
	buf := make([]byte, 0, 8+4+len(e.Components))
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], uint64(e.ID))
	buf = append(buf, idBuf[:]...)
	return putBytes(buf, e.Components)
}

// DecodeEntityState parses buf produced by EncodeEntityState, returning the
// remaining unread tail.
func DecodeEntityState(buf []byte) (EntityState, []byte, error) {
	if len(buf) < 8 {
		return EntityState{}, nil, ErrShortBuffer
	}
	id := EntityID(binary.BigEndian.Uint64(buf[0:8]))
	data, rest, err := getBytes(buf[8:])
	if err != nil {
		return EntityState{}, nil, err
	}
	return EntityState{ID: id, Components: data}, rest, nil
}

// EncodeStateSnapshot serializes s.
func EncodeStateSnapshot(s StateSnapshot) []byte {
	buf := make([]byte, 0, 32)
	var tmp [9]byte
	binary.BigEndian.PutUint64(tmp[0:8], s.Tick)
	if s.Full {
		tmp[8] = 1
	}
	buf = append(buf, tmp[:]...)
	var baseline [8]byte
	binary.BigEndian.PutUint64(baseline[:], s.Baseline)
	buf = append(buf, baseline[:]...)

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(s.Entities)))
	buf = append(buf, countBuf[:]...)
	for _, e := range s.Entities {
		buf = append(buf, EncodeEntityState(e)...)
	}

	binary.BigEndian.PutUint32(countBuf[:], uint32(len(s.Removed)))
	buf = append(buf, countBuf[:]...)
	for _, id := range s.Removed {
		var idBuf [8]byte
		binary.BigEndian.PutUint64(idBuf[:], uint64(id))
		buf = append(buf, idBuf[:]...)
	}
	return buf
}

// DecodeStateSnapshot parses buf produced by EncodeStateSnapshot.
func DecodeStateSnapshot(buf []byte) (StateSnapshot, error) {
	if len(buf) < 9+8+4 {
		return StateSnapshot{}, ErrShortBuffer
	}
	tick := binary.BigEndian.Uint64(buf[0:8])
	full := buf[8] != 0
	baseline := binary.BigEndian.Uint64(buf[9:17])
	buf = buf[17:]

	entityCount := int(binary.BigEndian.Uint32(buf))
	buf = buf[4:]

	entities := make([]EntityState, 0, entityCount)
	for i := 0; i < entityCount; i++ {
		var e EntityState
		var err error
		e, buf, err = DecodeEntityState(buf)
		if err != nil {
			return StateSnapshot{}, err
		}
		entities = append(entities, e)
	}

	if len(buf) < 4 {
		return StateSnapshot{}, ErrShortBuffer
	}
	removedCount := int(binary.BigEndian.Uint32(buf))
	buf = buf[4:]

	removed := make([]EntityID, 0, removedCount)
	for i := 0; i < removedCount; i++ {
		if len(buf) < 8 {
			return StateSnapshot{}, ErrShortBuffer
		}
		removed = append(removed, EntityID(binary.BigEndian.Uint64(buf[0:8])))
		buf = buf[8:]
	}

	return StateSnapshot{
		Tick:     tick,
		Full:     full,
		Baseline: baseline,
		Entities: entities,
		Removed:  removed,
	}, nil
}
