package timerservice

import (
	"sync/atomic"

	"github.com/andersfylling/lockstep-arena/internal/eventloop"
	"github.com/andersfylling/lockstep-arena/internal/timeval"
)

// Service is the handle callers use to manage timers once a Handler has
// been spawned. It owns TimerID allocation so ids are assigned before a
// Command ever reaches the handler's inbox.
type Service struct {
	sender EventSender
	nextID uint64
}

// EventSender is the subset of eventloop.EventSender[Command] a Service
// needs; kept as a named type so call sites don't repeat the generic
// instantiation.
type EventSender = eventloop.EventSender[Command]

// SpawnReal starts a timerservice.Handler on its own real OS thread.
func SpawnReal(name string, clock timeval.Clock, onStopped func(error)) *Service {
	handler := NewHandler(clock, nil)
	sender := eventloop.SpawnReal[Command, error](name, handler, onStopped)
	return &Service{sender: sender}
}

// SpawnSimulated registers a timerservice.Handler with a shared simulated
// executor, for deterministic tests.
func SpawnSimulated(executor *eventloop.Executor, clock timeval.Clock, onStopped func(error)) *Service {
	handler := NewHandler(clock, nil)
	sender := eventloop.SpawnSimulated[Command, error](executor, handler, onStopped)
	return &Service{sender: sender}
}

// CreateTimer allocates a fresh TimerID and registers schedule with tick as
// its callback. The id is valid to pass to Reschedule/Cancel immediately,
// even before the Create command has been processed by the handler's
// thread.
func (s *Service) CreateTimer(schedule Schedule, tick func(timeval.TimeValue)) TimerID {
	id := TimerID(atomic.AddUint64(&s.nextID, 1))
	_ = s.sender.SendEvent(CreateCommand(id, schedule, tick))
	return id
}

// Reschedule changes timer id's Schedule. Unknown ids are a silent no-op.
func (s *Service) Reschedule(id TimerID, schedule Schedule) {
	_ = s.sender.SendEvent(RescheduleCommand(id, schedule))
}

// Cancel removes timer id. Unknown ids are a silent no-op.
func (s *Service) Cancel(id TimerID) {
	_ = s.sender.SendEvent(CancelCommand(id))
}

// Stop requests the handler's thread terminate.
func (s *Service) Stop() {
	_ = s.sender.SendStopThread()
}
