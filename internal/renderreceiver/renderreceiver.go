// Package renderreceiver implements the render receiver (spec §4.8): the
// single point of shared mutable state between a Manager's publish thread
// and a renderer, guarded by a mutex+condvar rather than an inbox — the
// one named exception to the engine's otherwise inbox-only concurrency
// model (spec §5).
package renderreceiver

import (
	"sync"

	"github.com/andersfylling/lockstep-arena/internal/gametimer"
	"github.com/andersfylling/lockstep-arena/internal/manager"
	"github.com/andersfylling/lockstep-arena/internal/timeval"
)

// Interpolate blends two states a weight fraction of the way from a to b,
// weight in [0,1]. Implemented by the collaborating game;
// internal/game.Interpolate supplies one for the reference game.
type Interpolate[S any] func(a, b S, weight float64) S

// Receiver holds at most the two most recently published StepMessages plus
// the latest TimeMessage, and answers GetLatestFrame by interpolating
// between the two held states at the caller's wallclock instant. Safe for
// concurrent use: Publish/OnTick are called from a Manager's/GameTimer's
// own thread, GetLatestFrame from a renderer's.
type Receiver[S any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	interpolate Interpolate[S]

	haveFirst  bool
	haveSecond bool
	first      manager.StepMessage[S]
	second     manager.StepMessage[S]

	haveTime bool
	lastTime gametimer.TimeMessage
}

// New creates a Receiver that blends consecutive states with interpolate.
func New[S any](interpolate Interpolate[S]) *Receiver[S] {
	r := &Receiver[S]{interpolate: interpolate}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Publish implements manager.Publisher[S]: a Receiver can be handed to
// manager.New directly as the Manager's observer. The older of the two
// held slots is evicted for each newly published step.
func (r *Receiver[S]) Publish(msg manager.StepMessage[S]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case !r.haveFirst:
		r.first = msg
		r.haveFirst = true
	case !r.haveSecond:
		r.second = msg
		r.haveSecond = true
	default:
		r.first = r.second
		r.second = msg
	}
	r.cond.Broadcast()
}

// OnTick records the latest TimeMessage a GameTimer produced; GetLatestFrame
// needs it to convert a wallclock instant into a fractional FrameIndex.
func (r *Receiver[S]) OnTick(msg gametimer.TimeMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastTime = msg
	r.haveTime = true
	r.cond.Broadcast()
}

// Wait blocks until at least one StepMessage and one TimeMessage have been
// recorded, for a renderer that must not draw before the simulation has
// produced anything yet.
func (r *Receiver[S]) Wait() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for !r.haveFirst || !r.haveTime {
		r.cond.Wait()
	}
}

// GetLatestFrame computes the fractional frame index at now from the last
// recorded TimeMessage's StartTime/FrameDuration, then asks interpolate for
// the state that many weight-fractions between the two held StepMessages.
// If only one state has been published so far, it is returned unchanged
// with weight 0 (spec §4.8: "If only one state is available, returns it
// unchanged").
func (r *Receiver[S]) GetLatestFrame(now timeval.TimeValue) (state S, weight float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.haveFirst {
		var zero S
		return zero, 0
	}
	if !r.haveSecond || !r.haveTime {
		return r.first.State, 0
	}

	fractional := r.lastTime.StartTime.FractionalFrameIndex(r.lastTime.FrameDuration, now)

	span := float64(r.second.FrameIndex - r.first.FrameIndex)
	if span <= 0 {
		return r.second.State, 0
	}

	w := (fractional - float64(r.first.FrameIndex)) / span
	switch {
	case w < 0:
		w = 0
	case w > 1:
		w = 1
	}

	return r.interpolate(r.first.State, r.second.State, w), w
}
