package fragment_test

import (
	"bytes"
	"math/rand"
	"net"
	"testing"

	"github.com/andersfylling/lockstep-arena/internal/eventloop"
	"github.com/andersfylling/lockstep-arena/internal/fragment"
	"github.com/andersfylling/lockstep-arena/internal/timeval"
)

type stringAddr string

func (a stringAddr) Network() string { return "test" }
func (a stringAddr) String() string  { return string(a) }

func TestFragmenter_SplitAndReassembleInOrder(t *testing.T) {
	fr := fragment.NewFragmenter(32)
	payload := bytes.Repeat([]byte("abcdefgh"), 20) // 160 bytes, several fragments at mtu 32

	frags := fr.Split(payload)
	if len(frags) < 2 {
		t.Fatalf("expected payload to split into multiple fragments, got %d", len(frags))
	}

	clock := eventloop.NewSimClock(timeval.Now())
	asm := fragment.NewAssembler(clock, timeval.Millis(1000))

	var addr net.Addr = stringAddr("peer:1")
	var got []byte
	var done bool
	for _, f := range frags {
		got, done = asm.Accept(addr, f)
	}

	if !done {
		t.Fatal("expected assembly to complete after all fragments delivered")
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("reassembled payload mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestFragmenter_ReassembleOutOfOrder(t *testing.T) {
	fr := fragment.NewFragmenter(24)
	payload := bytes.Repeat([]byte("XY"), 50)
	frags := fr.Split(payload)

	rng := rand.New(rand.NewSource(42))
	shuffled := append([]fragment.Fragment(nil), frags...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	clock := eventloop.NewSimClock(timeval.Now())
	asm := fragment.NewAssembler(clock, timeval.Millis(1000))
	var addr net.Addr = stringAddr("peer:2")

	var got []byte
	var done bool
	for _, f := range shuffled {
		got, done = asm.Accept(addr, f)
	}

	if !done || !bytes.Equal(got, payload) {
		t.Fatalf("expected out-of-order fragments to reassemble correctly, done=%v", done)
	}
}

func TestFragmenter_SingleFragmentCompletesImmediately(t *testing.T) {
	fr := fragment.NewFragmenter(1500)
	frags := fr.Split([]byte("short"))
	if len(frags) != 1 {
		t.Fatalf("expected a single fragment, got %d", len(frags))
	}

	clock := eventloop.NewSimClock(timeval.Now())
	asm := fragment.NewAssembler(clock, timeval.Millis(1000))
	got, done := asm.Accept(stringAddr("peer:3"), frags[0])
	if !done {
		t.Fatal("expected single-fragment message to complete immediately")
	}
	if string(got) != "short" {
		t.Fatalf("expected 'short', got %q", got)
	}
}

func TestAssembler_CountMismatchReplacesKey(t *testing.T) {
	clock := eventloop.NewSimClock(timeval.Now())
	asm := fragment.NewAssembler(clock, timeval.Millis(1000))
	addr := stringAddr("peer:4")

	// Start an assembly expecting 3 fragments, only deliver 1.
	asm.Accept(addr, fragment.Fragment{ID: 7, Index: 0, Count: 3, Payload: []byte("a")})
	if asm.Pending() != 1 {
		t.Fatalf("expected 1 pending assembly, got %d", asm.Pending())
	}

	// Same id, but a fragment now claims a different Count: replaces the
	// stale record rather than merging with it.
	got, done := asm.Accept(addr, fragment.Fragment{ID: 7, Index: 0, Count: 1, Payload: []byte("b")})
	if !done || string(got) != "b" {
		t.Fatalf("expected count-mismatch to replace and complete, got done=%v payload=%q", done, got)
	}
}

func TestAssembler_PrunesStaleAssemblies(t *testing.T) {
	clock := eventloop.NewSimClock(timeval.Now())
	asm := fragment.NewAssembler(clock, timeval.Millis(100))
	addr := stringAddr("peer:5")

	asm.Accept(addr, fragment.Fragment{ID: 1, Index: 0, Count: 2, Payload: []byte("a")})
	if asm.Pending() != 1 {
		t.Fatalf("expected 1 pending assembly, got %d", asm.Pending())
	}

	clock.Advance(timeval.Millis(200))
	pruned := asm.Prune()
	if pruned != 1 {
		t.Fatalf("expected 1 assembly pruned, got %d", pruned)
	}
	if asm.Pending() != 0 {
		t.Fatalf("expected 0 pending assemblies after prune, got %d", asm.Pending())
	}
}

func TestFragment_EncodeDecodeRoundTrip(t *testing.T) {
	f := fragment.Fragment{ID: 123, Index: 4, Count: 9, Payload: []byte("payload-bytes")}
	encoded := f.Encode()

	decoded, err := fragment.Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != f.ID || decoded.Index != f.Index || decoded.Count != f.Count {
		t.Fatalf("header mismatch: got %+v, want %+v", decoded, f)
	}
	if !bytes.Equal(decoded.Payload, f.Payload) {
		t.Fatalf("payload mismatch: got %q, want %q", decoded.Payload, f.Payload)
	}
}
