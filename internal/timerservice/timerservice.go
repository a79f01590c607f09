// Package timerservice schedules one-shot and repeating callbacks on a
// single eventloop.EventHandler thread (spec §4.2 "TimerService"). Timer
// ids are handed out before a command reaches the handler (by
// Service.CreateTimer's counter, or by whoever builds a CreateCommand), so
// both the real and simulated substrates see the same deterministic id
// sequence in tests.
package timerservice

import (
	"sort"

	"github.com/andersfylling/lockstep-arena/internal/eventloop"
	"github.com/andersfylling/lockstep-arena/internal/timeval"
	"github.com/sirupsen/logrus"
)

// TimerID identifies a timer returned by CreateTimer. Zero is never issued.
type TimerID uint64

// scheduleKind tags which Schedule variant a timer holds. Tagged variant
// over an interface hierarchy, per the engine-wide sum-type convention.
type scheduleKind int

const (
	scheduleOnce scheduleKind = iota
	scheduleRepeating
	scheduleNever
)

// Schedule is a sum type describing when a timer fires.
type Schedule struct {
	kind  scheduleKind
	at    timeval.TimeValue
	every timeval.TimeDuration
}

// Once fires exactly once, at the given instant.
func Once(at timeval.TimeValue) Schedule {
	return Schedule{kind: scheduleOnce, at: at}
}

// Repeating fires first at at, then every every thereafter indefinitely.
func Repeating(at timeval.TimeValue, every timeval.TimeDuration) Schedule {
	return Schedule{kind: scheduleRepeating, at: at, every: every}
}

// Never never fires; CreateTimer(Never(), ...) is mainly useful as a
// placeholder slot a caller intends to Reschedule later.
func Never() Schedule {
	return Schedule{kind: scheduleNever}
}

type timerEntry struct {
	id       TimerID
	schedule Schedule
	tick     func(timeval.TimeValue)
}

// dueAt reports the instant this entry should next fire, and whether it
// fires at all.
func (e timerEntry) dueAt() (timeval.TimeValue, bool) {
	switch e.schedule.kind {
	case scheduleOnce, scheduleRepeating:
		return e.schedule.at, true
	default:
		return timeval.TimeValue{}, false
	}
}

// Command is the event type accepted by a Service's inbox.
type Command struct {
	kind     commandKind
	tick     func(timeval.TimeValue)
	schedule Schedule
	id       TimerID
}

type commandKind int

const (
	cmdCreate commandKind = iota
	cmdReschedule
	cmdCancel
)

// CreateCommand builds a Command that registers a new timer under id.
// Callers own id allocation (a simple atomic counter in production, or a
// deterministic sequence in tests) so the id is known before the command
// reaches the handler's thread.
func CreateCommand(id TimerID, schedule Schedule, tick func(timeval.TimeValue)) Command {
	return Command{kind: cmdCreate, id: id, schedule: schedule, tick: tick}
}

// RescheduleCommand changes an existing timer's Schedule. Unknown ids are a
// silent no-op (spec §4.2).
func RescheduleCommand(id TimerID, schedule Schedule) Command {
	return Command{kind: cmdReschedule, id: id, schedule: schedule}
}

// CancelCommand removes a timer. Unknown ids are a silent no-op.
func CancelCommand(id TimerID) Command {
	return Command{kind: cmdCancel, id: id}
}

// Handler implements eventloop.EventHandler[Command, error]; spawn it with
// eventloop.SpawnReal or eventloop.SpawnSimulated to get a running Service.
type Handler struct {
	clock   timeval.Clock
	log     *logrus.Entry
	entries []timerEntry // sorted by (dueAt, id) ascending; scheduleNever entries live unsorted at the tail
}

// NewHandler builds a Handler that reads time from clock (timeval.RealClock
// or eventloop.SimClock).
func NewHandler(clock timeval.Clock, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.WithField("component", "timerservice")
	}
	return &Handler{clock: clock, log: log}
}

func (h *Handler) OnEvent(_ eventloop.ReceiveMetaData, cmd Command) eventloop.Decision[error] {
	switch cmd.kind {
	case cmdCreate:
		h.insert(timerEntry{id: cmd.id, schedule: cmd.schedule, tick: cmd.tick})
	case cmdReschedule:
		h.reschedule(cmd.id, cmd.schedule)
	case cmdCancel:
		h.cancel(cmd.id)
	}
	return h.nextDecision()
}

func (h *Handler) OnTimeout() eventloop.Decision[error] {
	return h.fireDue()
}

func (h *Handler) OnChannelEmpty() eventloop.Decision[error] {
	return h.nextDecision()
}

func (h *Handler) OnChannelDisconnect() eventloop.Decision[error] {
	return eventloop.StopThread[error](nil)
}

func (h *Handler) OnStop(eventloop.ReceiveMetaData) error {
	return nil
}

func (h *Handler) insert(e timerEntry) {
	h.entries = append(h.entries, e)
	h.sort()
}

func (h *Handler) reschedule(id TimerID, schedule Schedule) {
	for i := range h.entries {
		if h.entries[i].id == id {
			h.entries[i].schedule = schedule
			h.sort()
			return
		}
	}
	// Unknown id: silent no-op, per spec.
}

func (h *Handler) cancel(id TimerID) {
	for i := range h.entries {
		if h.entries[i].id == id {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			return
		}
	}
	// Unknown id: silent no-op.
}

func (h *Handler) sort() {
	sort.SliceStable(h.entries, func(i, j int) bool {
		ai, aok := h.entries[i].dueAt()
		bi, bok := h.entries[j].dueAt()
		if aok != bok {
			return aok // due entries sort before Never entries
		}
		if !aok {
			return h.entries[i].id < h.entries[j].id
		}
		if c := ai.Compare(bi); c != 0 {
			return c < 0
		}
		return h.entries[i].id < h.entries[j].id
	})
}

// fireDue scans from the front of the sorted entry list, firing every timer
// due at-or-before now, in ascending (dueAt, id) order, recovering from any
// panicking tick callback and converting it into the thread's StopThread
// result (spec §4.2, §7). Repeating timers are advanced by Every until
// their next fire time is strictly after now before being re-inserted.
func (h *Handler) fireDue() (decision eventloop.Decision[error]) {
	now := h.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			h.log.WithField("panic", r).Error("timerservice: tick callback panicked, stopping thread")
			decision = eventloop.StopThread[error](&PanicError{Recovered: r})
		}
	}()

	for {
		if len(h.entries) == 0 {
			break
		}
		due, ok := h.entries[0].dueAt()
		if !ok || due.After(now) {
			break
		}

		entry := h.entries[0]
		h.entries = h.entries[1:]

		entry.tick(now)

		if entry.schedule.kind == scheduleRepeating {
			next := entry.schedule.at
			for !next.After(now) {
				next = next.Add(entry.schedule.every)
			}
			entry.schedule.at = next
			h.entries = append(h.entries, entry)
		}
	}

	h.sort()
	return h.nextDecision()
}

// nextDecision computes how long the handler's thread should sleep: until
// the earliest due entry, or indefinitely if none are scheduled.
func (h *Handler) nextDecision() eventloop.Decision[error] {
	if len(h.entries) == 0 {
		return eventloop.WaitForNextEvent[error]()
	}
	due, ok := h.entries[0].dueAt()
	if !ok {
		return eventloop.WaitForNextEvent[error]()
	}
	now := h.clock.Now()
	if !due.After(now) {
		// Already due: wake immediately via a zero timeout rather than
		// recursing, so the thread still observes any pending inbox message
		// first.
		return eventloop.WaitForNextEventOrTimeout[error](timeval.Zero())
	}
	return eventloop.WaitForNextEventOrTimeout[error](due.Sub(now))
}

// PanicError wraps a recovered tick-callback panic so it can travel through
// the error-typed StopThread result without losing what was recovered.
type PanicError struct {
	Recovered any
}

func (e *PanicError) Error() string {
	return "timerservice: tick callback panicked"
}
