// Package eventloop implements the "one event handler per thread with a
// typed inbox" substrate (spec §4.1, §9 "dual substrates"). An EventHandler
// is spawned once and thereafter only ever touched from the thread (real or
// simulated) that owns it; all communication in or out crosses a typed
// EventSender/inbox boundary. Two substrates satisfy the same contract:
// Real (one OS goroutine per handler, §real.go) and Simulated (one
// cooperative priority-queue executor shared by every handler, §simulated.go)
// so tests can swap in deterministic scheduling without touching handler
// code.
package eventloop

import (
	"fmt"

	"github.com/andersfylling/lockstep-arena/internal/timeval"
)

// ReceiveMetaData carries the time an event or stop signal was observed by
// the handler's thread, for latency/queueing observability (mirrors
// rust_game/commons/src/threading/channel/receivemetadata.rs).
type ReceiveMetaData struct {
	TimeReceived timeval.TimeValue
}

// decisionKind tags which variant a Decision holds. Kept as a sum type
// rather than an interface hierarchy per spec §9's "polymorphism by tagged
// variants" design note.
type decisionKind int

const (
	decisionWaitForNextEvent decisionKind = iota
	decisionWaitForNextEventOrTimeout
	decisionTryForNextEvent
	decisionStopThread
)

// Decision is what an EventHandler callback returns to tell its thread what
// to do next.
type Decision[R any] struct {
	kind    decisionKind
	timeout timeval.TimeDuration
	result  R
}

// WaitForNextEvent blocks the handler's thread until an event or stop
// signal arrives.
func WaitForNextEvent[R any]() Decision[R] {
	return Decision[R]{kind: decisionWaitForNextEvent}
}

// WaitForNextEventOrTimeout blocks at most d; OnTimeout fires if it elapses
// first.
func WaitForNextEventOrTimeout[R any](d timeval.TimeDuration) Decision[R] {
	return Decision[R]{kind: decisionWaitForNextEventOrTimeout, timeout: d}
}

// TryForNextEvent polls the inbox once without blocking; OnChannelEmpty
// fires if nothing was waiting.
func TryForNextEvent[R any]() Decision[R] {
	return Decision[R]{kind: decisionTryForNextEvent}
}

// StopThread terminates the handler's thread; result is delivered to the
// join callback passed at spawn time.
func StopThread[R any](result R) Decision[R] {
	return Decision[R]{kind: decisionStopThread, result: result}
}

// EventHandler is the user-supplied collaborator driven by a thread (real or
// simulated). Implementations typically hold their mutable state behind a
// pointer receiver; the substrate never touches that state concurrently
// with the handler's own thread.
type EventHandler[E any, R any] interface {
	OnEvent(meta ReceiveMetaData, event E) Decision[R]
	OnTimeout() Decision[R]
	OnChannelEmpty() Decision[R]
	OnChannelDisconnect() Decision[R]
	OnStop(meta ReceiveMetaData) R
}

// message is what actually flows through an inbox: either a user event or a
// stop request.
type message[E any] struct {
	stop  bool
	event E
}

// SendError is returned by EventSender.SendEvent when the handler's thread
// has already exited; it carries the undelivered payload back to the
// caller, the way a Rust mpsc send failure hands the value back.
type SendError[E any] struct {
	Payload E
}

func (e SendError[E]) Error() string {
	return fmt.Sprintf("eventloop: send failed, receiver is gone (payload %v)", e.Payload)
}

// EventSender is a clonable handle for delivering events or a stop request
// into a single handler's inbox. The zero value is not usable; obtain one
// from Spawn.
type EventSender[E any] struct {
	ch   chan message[E]
	done <-chan struct{}
}

// SendEvent enqueues an event. It returns a SendError[E] if the handler's
// thread has already stopped.
func (s EventSender[E]) SendEvent(event E) error {
	select {
	case s.ch <- message[E]{event: event}:
		return nil
	case <-s.done:
		return SendError[E]{Payload: event}
	}
}

// SendStopThread requests the handler's thread terminate. It is idempotent:
// calling it after the thread has already stopped is a silent no-op, never
// a panic.
func (s EventSender[E]) SendStopThread() error {
	select {
	case s.ch <- message[E]{stop: true}:
		return nil
	case <-s.done:
		return nil
	}
}

// Closed reports whether the handler's thread has already exited.
func (s EventSender[E]) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// applyDecision advances (mode, timeout) from a Decision, or reports the
// handler is done along with its result.
func applyDecision[R any](d Decision[R]) (mode decisionKind, timeout timeval.TimeDuration, done bool, result R) {
	if d.kind == decisionStopThread {
		return d.kind, timeval.Zero(), true, d.result
	}
	return d.kind, d.timeout, false, result
}
