package eventloop

import (
	"container/heap"
	"sync"

	"github.com/andersfylling/lockstep-arena/internal/timeval"
)

// SimClock is a manually-advanced Clock used by the simulated substrate and
// by anything timed off it (internal/gametimer, internal/timerservice in
// tests). Tests drive it explicitly instead of sleeping on the wall clock,
// which is what makes I1-I8 reproducible.
type SimClock struct {
	mu  sync.Mutex
	now timeval.TimeValue
}

// NewSimClock creates a SimClock starting at the given instant.
func NewSimClock(start timeval.TimeValue) *SimClock {
	return &SimClock{now: start}
}

func (c *SimClock) Now() timeval.TimeValue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. It does not itself run any queued
// work; pair it with Executor.Drain.
func (c *SimClock) Advance(d timeval.TimeDuration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *SimClock) set(tv timeval.TimeValue) {
	c.mu.Lock()
	if tv.After(c.now) {
		c.now = tv
	}
	c.mu.Unlock()
}

// scheduledFunc is one entry in the executor's priority queue: run fn once
// the clock reaches at. seq breaks ties in insertion order, matching the
// "deliver at simulated-now" ordering spec §4.1 requires (events enqueued
// at the same instant run FIFO).
type scheduledFunc struct {
	at  timeval.TimeValue
	seq uint64
	fn  func()
}

type schedQueue []*scheduledFunc

func (q schedQueue) Len() int { return len(q) }
func (q schedQueue) Less(i, j int) bool {
	if q[i].at.Compare(q[j].at) != 0 {
		return q[i].at.Before(q[j].at)
	}
	return q[i].seq < q[j].seq
}
func (q schedQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *schedQueue) Push(x any)        { *q = append(*q, x.(*scheduledFunc)) }
func (q *schedQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Executor is the single cooperative scheduler shared by every handler
// spawned with SpawnSimulated (spec §4.1 "Simulated": all handlers share
// one cooperative executor driven by a priority queue keyed by simulated
// TimeValue).
type Executor struct {
	mu    sync.Mutex
	clock *SimClock
	queue schedQueue
	seq   uint64
}

// NewExecutor creates an Executor driven by clock.
func NewExecutor(clock *SimClock) *Executor {
	return &Executor{clock: clock}
}

// Schedule enqueues fn to run once the clock reaches at (or immediately, on
// the next Drain, if at is already in the past).
func (e *Executor) Schedule(at timeval.TimeValue, fn func()) {
	e.mu.Lock()
	e.seq++
	heap.Push(&e.queue, &scheduledFunc{at: at, seq: e.seq, fn: fn})
	e.mu.Unlock()
}

// Drain runs every scheduled function whose time has come, in (time, seq)
// order, including any further work those functions themselves Schedule at
//-or-before the clock's current time. It returns once the queue is empty
// or every remaining entry is scheduled strictly in the future.
func (e *Executor) Drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		next := e.queue[0]
		now := e.clock.Now()
		if next.at.After(now) {
			e.mu.Unlock()
			return
		}
		heap.Pop(&e.queue)
		e.mu.Unlock()

		next.fn()
	}
}

// AdvanceAndDrain advances the clock by d and runs every function that
// becomes due, including ones due at intermediate instants.
func (e *Executor) AdvanceAndDrain(d timeval.TimeDuration) {
	e.clock.Advance(d)
	e.Drain()
}

// Pending reports how many scheduled functions are still queued.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// simState is the cooperative per-handler state machine driven by the
// shared Executor.
type simState[E any, R any] struct {
	executor *Executor
	handler  EventHandler[E, R]
	inbox    []message[E]
	mode     decisionKind
	timeout  timeval.TimeDuration
	timerGen uint64
	stopped  bool
	done     chan struct{}
	join     func(R)
}

// SpawnSimulated registers handler with executor. Unlike SpawnReal no
// goroutine is created: all work happens on whatever goroutine calls
// Executor.Drain/AdvanceAndDrain, one handler at a time, which is what
// makes the simulated substrate deterministic.
func SpawnSimulated[E any, R any](executor *Executor, handler EventHandler[E, R], join func(R)) EventSender[E] {
	st := &simState[E, R]{
		executor: executor,
		handler:  handler,
		mode:     decisionWaitForNextEvent,
		done:     make(chan struct{}),
		join:     join,
	}

	ch := make(chan message[E], inboxCapacity)
	sender := EventSender[E]{ch: ch, done: st.done}

	// A background goroutine only moves messages from the Go channel into
	// the handler's cooperative inbox and asks the executor to process
	// them; it never calls into the handler directly, preserving
	// single-consumer semantics for handler state.
	go func() {
		for msg := range ch {
			st.enqueue(msg)
			if msg.stop {
				return
			}
		}
	}()

	return sender
}

func (st *simState[E, R]) enqueue(msg message[E]) {
	now := st.executor.clock.Now()
	st.executor.Schedule(now, func() {
		st.inbox = append(st.inbox, msg)
		st.pump()
	})
}

// pump processes exactly one step of the handler's decision loop: if an
// inbox message is pending it is delivered; otherwise, depending on mode,
// either nothing happens yet (WaitForNextEvent[OrTimeout] just waits for
// enqueue/timeout to call pump again) or OnChannelEmpty fires immediately
// (TryForNextEvent).
func (st *simState[E, R]) pump() {
	if st.stopped {
		return
	}

	if len(st.inbox) > 0 {
		msg := st.inbox[0]
		st.inbox = st.inbox[1:]
		st.timerGen++ // invalidate any outstanding scheduled timeout

		meta := ReceiveMetaData{TimeReceived: st.executor.clock.Now()}
		if msg.stop {
			result := st.handler.OnStop(meta)
			st.finish(result)
			return
		}

		d := st.handler.OnEvent(meta, msg.event)
		st.apply(d)
		return
	}

	switch st.mode {
	case decisionTryForNextEvent:
		d := st.handler.OnChannelEmpty()
		st.apply(d)
	default:
		// WaitForNextEvent / WaitForNextEventOrTimeout: nothing to do until
		// enqueue() or a scheduled timeout calls pump again.
		if st.mode == decisionWaitForNextEventOrTimeout {
			st.scheduleTimeout()
		}
	}
}

func (st *simState[E, R]) scheduleTimeout() {
	st.timerGen++
	gen := st.timerGen
	at := st.executor.clock.Now().Add(st.timeout)
	st.executor.Schedule(at, func() {
		if st.stopped || gen != st.timerGen {
			return
		}
		d := st.handler.OnTimeout()
		st.apply(d)
	})
}

func (st *simState[E, R]) apply(d Decision[R]) {
	mode, timeout, done, result := applyDecision(d)
	if done {
		st.finish(result)
		return
	}
	st.mode, st.timeout = mode, timeout

	switch st.mode {
	case decisionWaitForNextEventOrTimeout:
		st.scheduleTimeout()
	case decisionTryForNextEvent:
		// Re-poll on the next Drain pass so a sustained empty inbox doesn't
		// recurse synchronously.
		now := st.executor.clock.Now()
		st.executor.Schedule(now, st.pump)
	}
}

func (st *simState[E, R]) finish(result R) {
	st.stopped = true
	close(st.done)
	st.join(result)
}
