package eventloop_test

import (
	"sync"
	"testing"
	"time"

	"github.com/andersfylling/lockstep-arena/internal/eventloop"
	"github.com/andersfylling/lockstep-arena/internal/timeval"
	"go.uber.org/goleak"
)

type counterHandler struct {
	mu    sync.Mutex
	total int
	seen  []int
}

func (h *counterHandler) OnEvent(_ eventloop.ReceiveMetaData, event int) eventloop.Decision[int] {
	h.mu.Lock()
	h.total += event
	h.seen = append(h.seen, event)
	h.mu.Unlock()
	return eventloop.WaitForNextEvent[int]()
}

func (h *counterHandler) OnTimeout() eventloop.Decision[int] {
	return eventloop.WaitForNextEvent[int]()
}

func (h *counterHandler) OnChannelEmpty() eventloop.Decision[int] {
	return eventloop.WaitForNextEvent[int]()
}

func (h *counterHandler) OnChannelDisconnect() eventloop.Decision[int] {
	return eventloop.StopThread(h.total)
}

func (h *counterHandler) OnStop(eventloop.ReceiveMetaData) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

func TestRealSubstrate_OrderAndStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	handler := &counterHandler{}
	resultCh := make(chan int, 1)

	sender := eventloop.SpawnReal[int, int]("counter", handler, func(r int) {
		resultCh <- r
	})

	for i := 1; i <= 5; i++ {
		if err := sender.SendEvent(i); err != nil {
			t.Fatalf("send failed: %v", err)
		}
	}

	if err := sender.SendStopThread(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	// Idempotent: must not panic or error on repeated stop.
	if err := sender.SendStopThread(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}

	select {
	case total := <-resultCh:
		if total != 15 {
			t.Fatalf("expected total 15, got %d", total)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for join")
	}

	if !sender.Closed() {
		t.Fatal("expected sender to report closed after stop")
	}
}

func TestRealSubstrate_SendAfterStopFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	handler := &counterHandler{}
	done := make(chan struct{})
	sender := eventloop.SpawnReal[int, int]("counter2", handler, func(int) { close(done) })

	_ = sender.SendStopThread()
	<-done

	err := sender.SendEvent(42)
	if err == nil {
		t.Fatal("expected send after stop to fail")
	}
	sendErr, ok := err.(eventloop.SendError[int])
	if !ok {
		t.Fatalf("expected SendError, got %T", err)
	}
	if sendErr.Payload != 42 {
		t.Fatalf("expected payload 42 back, got %d", sendErr.Payload)
	}
}

func TestSimulatedSubstrate_DeterministicOrder(t *testing.T) {
	clock := eventloop.NewSimClock(timeval.Now())
	executor := eventloop.NewExecutor(clock)

	handler := &counterHandler{}
	var result int
	joined := false

	sender := eventloop.SpawnSimulated[int, int](executor, handler, func(r int) {
		result = r
		joined = true
	})

	for i := 1; i <= 4; i++ {
		if err := sender.SendEvent(i); err != nil {
			t.Fatalf("send failed: %v", err)
		}
	}
	executor.Drain()

	if err := sender.SendStopThread(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	executor.Drain()

	if !joined {
		t.Fatal("expected join callback to fire")
	}
	if result != 10 {
		t.Fatalf("expected total 10, got %d", result)
	}
	handler.mu.Lock()
	seen := append([]int(nil), handler.seen...)
	handler.mu.Unlock()
	for i, v := range seen {
		if v != i+1 {
			t.Fatalf("expected FIFO delivery order, got %v", seen)
		}
	}
}

type timeoutHandler struct {
	timeouts int
	stop     chan struct{}
}

func (h *timeoutHandler) OnEvent(eventloop.ReceiveMetaData, int) eventloop.Decision[int] {
	return eventloop.WaitForNextEventOrTimeout[int](timeval.Millis(10))
}

func (h *timeoutHandler) OnTimeout() eventloop.Decision[int] {
	h.timeouts++
	if h.timeouts >= 3 {
		return eventloop.StopThread(h.timeouts)
	}
	return eventloop.WaitForNextEventOrTimeout[int](timeval.Millis(10))
}

func (h *timeoutHandler) OnChannelEmpty() eventloop.Decision[int] {
	return eventloop.WaitForNextEventOrTimeout[int](timeval.Millis(10))
}

func (h *timeoutHandler) OnChannelDisconnect() eventloop.Decision[int] {
	return eventloop.StopThread(h.timeouts)
}

func (h *timeoutHandler) OnStop(eventloop.ReceiveMetaData) int {
	return h.timeouts
}

func TestSimulatedSubstrate_TimeoutsAdvanceOnClock(t *testing.T) {
	clock := eventloop.NewSimClock(timeval.Now())
	executor := eventloop.NewExecutor(clock)

	handler := &timeoutHandler{}
	var result int
	sender := eventloop.SpawnSimulated[int, int](executor, handler, func(r int) {
		result = r
	})
	// One event moves the handler off its initial WaitForNextEvent mode
	// into the 10ms timeout cycle.
	if err := sender.SendEvent(0); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	executor.Drain()
	for i := 0; i < 3; i++ {
		executor.AdvanceAndDrain(timeval.Millis(10))
	}

	if result != 3 {
		t.Fatalf("expected 3 timeouts to have fired, got %d", result)
	}
}
