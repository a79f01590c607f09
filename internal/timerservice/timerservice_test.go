package timerservice_test

import (
	"testing"

	"github.com/andersfylling/lockstep-arena/internal/eventloop"
	"github.com/andersfylling/lockstep-arena/internal/timerservice"
	"github.com/andersfylling/lockstep-arena/internal/timeval"
)

func TestService_OnceFiresExactlyOnce(t *testing.T) {
	start := timeval.Now()
	clock := eventloop.NewSimClock(start)
	executor := eventloop.NewExecutor(clock)

	svc := timerservice.SpawnSimulated(executor, clock, func(error) {})
	executor.Drain()

	var fired int
	svc.CreateTimer(timerservice.Once(start.Add(timeval.Millis(100))), func(timeval.TimeValue) {
		fired++
	})
	executor.Drain()

	executor.AdvanceAndDrain(timeval.Millis(50))
	if fired != 0 {
		t.Fatalf("expected no fire yet, got %d", fired)
	}

	executor.AdvanceAndDrain(timeval.Millis(50))
	if fired != 1 {
		t.Fatalf("expected exactly 1 fire, got %d", fired)
	}

	executor.AdvanceAndDrain(timeval.Millis(500))
	if fired != 1 {
		t.Fatalf("expected no further fire, got %d", fired)
	}
}

func TestService_RepeatingAdvancesPastNow(t *testing.T) {
	start := timeval.Now()
	clock := eventloop.NewSimClock(start)
	executor := eventloop.NewExecutor(clock)

	svc := timerservice.SpawnSimulated(executor, clock, func(error) {})
	executor.Drain()

	var fired int
	svc.CreateTimer(timerservice.Repeating(start.Add(timeval.Millis(10)), timeval.Millis(10)), func(timeval.TimeValue) {
		fired++
	})
	executor.Drain()

	// Jump far enough forward that several periods have elapsed; the timer
	// must not fire once per elapsed period it slept through, only once per
	// Drain pass, advancing its schedule past now each time.
	executor.AdvanceAndDrain(timeval.Millis(35))
	if fired != 1 {
		t.Fatalf("expected exactly 1 fire per Drain pass, got %d", fired)
	}

	executor.AdvanceAndDrain(timeval.Millis(10))
	if fired != 2 {
		t.Fatalf("expected 2 fires total, got %d", fired)
	}
}

func TestService_CancelUnknownIDIsNoop(t *testing.T) {
	start := timeval.Now()
	clock := eventloop.NewSimClock(start)
	executor := eventloop.NewExecutor(clock)

	svc := timerservice.SpawnSimulated(executor, clock, func(error) {})
	executor.Drain()

	svc.Cancel(timerservice.TimerID(9999))
	executor.Drain()
	// No panic, no error: success.
}

func TestService_RescheduleChangesDueTime(t *testing.T) {
	start := timeval.Now()
	clock := eventloop.NewSimClock(start)
	executor := eventloop.NewExecutor(clock)

	svc := timerservice.SpawnSimulated(executor, clock, func(error) {})
	executor.Drain()

	var fired int
	id := svc.CreateTimer(timerservice.Once(start.Add(timeval.Millis(100))), func(timeval.TimeValue) {
		fired++
	})
	executor.Drain()

	svc.Reschedule(id, timerservice.Once(start.Add(timeval.Millis(10))))
	executor.Drain()

	executor.AdvanceAndDrain(timeval.Millis(10))
	if fired != 1 {
		t.Fatalf("expected reschedule to move fire earlier, got %d fires", fired)
	}
}

func TestService_PanicStopsThread(t *testing.T) {
	start := timeval.Now()
	clock := eventloop.NewSimClock(start)
	executor := eventloop.NewExecutor(clock)

	var stopErr error
	stopped := false
	svc := timerservice.SpawnSimulated(executor, clock, func(err error) {
		stopErr = err
		stopped = true
	})
	executor.Drain()

	svc.CreateTimer(timerservice.Once(start.Add(timeval.Millis(10))), func(timeval.TimeValue) {
		panic("boom")
	})
	executor.Drain()

	executor.AdvanceAndDrain(timeval.Millis(10))

	if !stopped {
		t.Fatal("expected thread to stop after panicking tick")
	}
	if stopErr == nil {
		t.Fatal("expected a non-nil stop error describing the panic")
	}
}

func TestService_OrderedByDueTimeThenID(t *testing.T) {
	start := timeval.Now()
	clock := eventloop.NewSimClock(start)
	executor := eventloop.NewExecutor(clock)

	svc := timerservice.SpawnSimulated(executor, clock, func(error) {})
	executor.Drain()

	var order []int
	at := start.Add(timeval.Millis(10))
	svc.CreateTimer(timerservice.Once(at), func(timeval.TimeValue) { order = append(order, 1) })
	svc.CreateTimer(timerservice.Once(at), func(timeval.TimeValue) { order = append(order, 2) })
	svc.CreateTimer(timerservice.Once(at), func(timeval.TimeValue) { order = append(order, 3) })
	executor.Drain()

	executor.AdvanceAndDrain(timeval.Millis(10))

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected ties broken by ascending TimerID, got %v", order)
	}
}
