// Package fragment splits oversized UDP payloads into MTU-bounded pieces
// and reassembles them on the receiving side (spec §4.4). Each fragment
// carries an 8-byte big-endian header: message id (uint32), fragment
// index (uint16), fragment count (uint16), followed by that fragment's
// slice of the original payload.
package fragment

import (
	"encoding/binary"
	"errors"
	"net"
	"sync"

	"github.com/andersfylling/lockstep-arena/internal/timeval"
)

const headerSize = 8

// ErrFragmentTooShort is returned when a buffer is too small to even hold
// the fragment header.
var ErrFragmentTooShort = errors.New("fragment: buffer shorter than header")

// Fragment is one piece of a split message, already wire-encoded
// (header followed by payload slice) and ready to hand to a UDPSocket.
type Fragment struct {
	ID      uint32
	Index   uint16
	Count   uint16
	Payload []byte
}

// Encode serializes f as header||payload.
func (f Fragment) Encode() []byte {
	out := make([]byte, headerSize+len(f.Payload))
	binary.BigEndian.PutUint32(out[0:4], f.ID)
	binary.BigEndian.PutUint16(out[4:6], f.Index)
	binary.BigEndian.PutUint16(out[6:8], f.Count)
	copy(out[headerSize:], f.Payload)
	return out
}

// Decode parses a wire-encoded fragment.
func Decode(buf []byte) (Fragment, error) {
	if len(buf) < headerSize {
		return Fragment{}, ErrFragmentTooShort
	}
	return Fragment{
		ID:      binary.BigEndian.Uint32(buf[0:4]),
		Index:   binary.BigEndian.Uint16(buf[4:6]),
		Count:   binary.BigEndian.Uint16(buf[6:8]),
		Payload: append([]byte(nil), buf[headerSize:]...),
	}, nil
}

// Fragmenter splits payloads into Fragments no larger than mtu bytes
// (header included), assigning each message a fresh, monotonically
// increasing id.
type Fragmenter struct {
	mu     sync.Mutex
	nextID uint32
	mtu    int
}

// NewFragmenter creates a Fragmenter bounding each fragment's wire size
// (header + payload slice) to mtu bytes.
func NewFragmenter(mtu int) *Fragmenter {
	if mtu <= headerSize {
		mtu = headerSize + 1
	}
	return &Fragmenter{mtu: mtu}
}

// Split breaks payload into one or more Fragments sharing a single id. A
// payload that fits in a single fragment still goes through this path so
// callers always send Fragments uniformly.
func (fr *Fragmenter) Split(payload []byte) []Fragment {
	chunkSize := fr.mtu - headerSize

	fr.mu.Lock()
	fr.nextID++
	id := fr.nextID
	fr.mu.Unlock()

	if len(payload) == 0 {
		return []Fragment{{ID: id, Index: 0, Count: 1, Payload: nil}}
	}

	count := (len(payload) + chunkSize - 1) / chunkSize
	fragments := make([]Fragment, 0, count)
	for i := 0; i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		fragments = append(fragments, Fragment{
			ID:      id,
			Index:   uint16(i),
			Count:   uint16(count),
			Payload: payload[start:end],
		})
	}
	return fragments
}

// assemblyKey identifies one in-flight reassembly by sender and message id.
type assemblyKey struct {
	addr string
	id   uint32
}

type partialAssembly struct {
	count    uint16
	received map[uint16][]byte
	lastSeen timeval.TimeValue
}

func (p *partialAssembly) complete() bool {
	return uint16(len(p.received)) == p.count
}

func (p *partialAssembly) join() []byte {
	out := make([]byte, 0)
	for i := uint16(0); i < p.count; i++ {
		out = append(out, p.received[i]...)
	}
	return out
}

// Assembler reassembles Fragments arriving out of order from potentially
// many senders, pruning partial assemblies that go stale.
type Assembler struct {
	mu      sync.Mutex
	clock   timeval.Clock
	staleAt timeval.TimeDuration
	partial map[assemblyKey]*partialAssembly
}

// NewAssembler creates an Assembler pruning assemblies that receive no new
// fragment within staleAfter. clock is typically timeval.RealClock{} in
// production and an eventloop.SimClock in tests.
func NewAssembler(clock timeval.Clock, staleAfter timeval.TimeDuration) *Assembler {
	return &Assembler{
		clock:   clock,
		staleAt: staleAfter,
		partial: make(map[assemblyKey]*partialAssembly),
	}
}

// Accept folds one fragment from addr into the assembler's state. complete
// is true, and payload holds the full reassembled message, exactly when
// this fragment was the last one needed. A single-fragment message (Count
// == 1) completes immediately without ever entering the partial map.
func (a *Assembler) Accept(addr net.Addr, frag Fragment) (payload []byte, complete bool) {
	if frag.Count == 1 {
		return append([]byte(nil), frag.Payload...), true
	}

	key := assemblyKey{addr: addr.String(), id: frag.ID}
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	existing, ok := a.partial[key]
	if !ok || existing.count != frag.Count {
		// New id, or a count mismatch on an existing key: start fresh,
		// replacing any stale record under this key (spec §4.4).
		existing = &partialAssembly{count: frag.Count, received: make(map[uint16][]byte)}
		a.partial[key] = existing
	}

	existing.received[frag.Index] = frag.Payload
	existing.lastSeen = now

	if existing.complete() {
		delete(a.partial, key)
		return existing.join(), true
	}
	return nil, false
}

// Prune discards any partial assembly that hasn't received a new fragment
// within staleAfter. Call periodically (e.g. from a timerservice.Service
// repeating timer) to bound memory under lossy networks that never
// deliver a complete message.
func (a *Assembler) Prune() int {
	now := a.clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	pruned := 0
	for key, p := range a.partial {
		if now.Sub(p.lastSeen).GreaterThan(a.staleAt) {
			delete(a.partial, key)
			pruned++
		}
	}
	return pruned
}

// Pending reports how many assemblies are currently in flight, for tests
// and diagnostics.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.partial)
}
