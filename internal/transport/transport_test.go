package transport_test

import (
	"bytes"
	"io"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/andersfylling/lockstep-arena/internal/transport"
)

// chunkedReader feeds its bytes back one at a time, simulating a stream
// that only ever hands a partial record to a single Read call.
type chunkedReader struct {
	data []byte
	pos  int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:r.pos+1])
	r.pos += n
	return n, nil
}

func TestResetableReader_SurvivesPartialReads(t *testing.T) {
	payload := []byte("hello, lockstep")
	framed, err := transport.EncodeRecord(payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	reader := transport.NewResetableReader(&chunkedReader{data: framed})

	var got []byte
	var ok bool
	for i := 0; i < len(framed)+1; i++ {
		got, ok, err = reader.TryReadRecord(0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			break
		}
	}

	if !ok {
		t.Fatal("expected record to eventually complete")
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("expected %q, got %q", payload, got)
	}
}

func TestResetableReader_MaxPayloadRejectsOversizedRecord(t *testing.T) {
	framed, err := transport.EncodeRecord(make([]byte, 100))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	reader := transport.NewResetableReader(bytes.NewReader(framed))

	_, _, err = reader.TryReadRecord(10)
	if err != transport.ErrRecordTooLarge {
		t.Fatalf("expected ErrRecordTooLarge, got %v", err)
	}
}

func TestResetableReader_MultipleRecordsInSequence(t *testing.T) {
	var buf bytes.Buffer
	for _, s := range []string{"one", "two", "three"} {
		framed, _ := transport.EncodeRecord([]byte(s))
		buf.Write(framed)
	}

	reader := transport.NewResetableReader(&buf)
	for _, want := range []string{"one", "two", "three"} {
		got, ok, err := reader.TryReadRecord(0)
		if err != nil || !ok {
			t.Fatalf("expected record %q, got ok=%v err=%v", want, ok, err)
		}
		if string(got) != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}

func TestSimTCPPair_RoundTrip(t *testing.T) {
	client, server := transport.NewSimTCPPair("client:1", "server:1")
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		done <- client.WriteRecord([]byte("ping"))
	}()

	var payload []byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, ok, err := server.TryReadRecord(0)
		if err != nil {
			t.Fatalf("read error: %v", err)
		}
		if ok {
			payload = got
			break
		}
	}

	if err := <-done; err != nil {
		t.Fatalf("write error: %v", err)
	}
	if string(payload) != "ping" {
		t.Fatalf("expected ping, got %q", payload)
	}
}

func TestSimUDPNetwork_DeliversToBoundPeer(t *testing.T) {
	net0 := transport.NewSimUDPNetwork(0, rand.New(rand.NewPCG(1, 2)))
	a, err := net0.Bind("a")
	if err != nil {
		t.Fatalf("bind a: %v", err)
	}
	b, err := net0.Bind("b")
	if err != nil {
		t.Fatalf("bind b: %v", err)
	}
	defer a.Close()
	defer b.Close()

	if err := a.WriteTo([]byte("hi"), b.LocalAddr()); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	var payload []byte
	var from interface{ String() string }
	for time.Now().Before(deadline) {
		got, f, ok, err := b.TryReadFrom(1500)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if ok {
			payload, from = got, f
			break
		}
	}
	if payload == nil {
		t.Fatal("expected datagram to be delivered")
	}
	if string(payload) != "hi" {
		t.Fatalf("expected hi, got %q", payload)
	}
	if from.String() != a.LocalAddr().String() {
		t.Fatalf("expected sender %v, got %v", a.LocalAddr(), from)
	}
}

func TestSimUDPNetwork_FullLossDropsEverything(t *testing.T) {
	net0 := transport.NewSimUDPNetwork(1.0, rand.New(rand.NewPCG(3, 4)))
	a, _ := net0.Bind("a2")
	b, _ := net0.Bind("b2")
	defer a.Close()
	defer b.Close()

	for i := 0; i < 20; i++ {
		_ = a.WriteTo([]byte("x"), b.LocalAddr())
	}

	_, _, ok, err := b.TryReadFrom(1500)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if ok {
		t.Fatal("expected every datagram to be dropped at loss rate 1.0")
	}
}
