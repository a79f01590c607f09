// Package manager implements the sliding-window rollback/resimulation
// pipeline shared by the server and every client (spec §3 Data model,
// §4.5). A Manager holds a contiguous window of per-tick Frames, applies
// incoming inputs/server-inputs/snapshots to it, re-simulates forward as
// far as newly-arrived data allows, and publishes a strictly-increasing
// stream of resolved states to an observer.
package manager

import "github.com/andersfylling/lockstep-arena/internal/timeval"

// Optional is a present-or-absent wrapper used in place of a pointer or a
// zero-value sentinel, so a Frame can distinguish "input not yet received"
// from a zero-valued input.
type Optional[T any] struct {
	value   T
	present bool
}

// Some wraps a present value.
func Some[T any](v T) Optional[T] { return Optional[T]{value: v, present: true} }

// None is the absent value.
func None[T any]() Optional[T] { return Optional[T]{} }

// Get returns the wrapped value and whether it is present.
func (o Optional[T]) Get() (T, bool) { return o.value, o.present }

// Frame is one tick's record (spec §3 "Frame (Manager entry)").
type Frame[I any, SI any, S any] struct {
	Index           timeval.FrameIndex
	Inputs          []Optional[I] // len == player count
	ServerInput     Optional[SI]
	State           Optional[S]
	IsAuthoritative bool // state arrived as an authoritative StateSnapshot
}

func newEmptyFrame[I any, SI any, S any](index timeval.FrameIndex, playerCount int) Frame[I, SI, S] {
	return Frame[I, SI, S]{
		Index:  index,
		Inputs: make([]Optional[I], playerCount),
	}
}

// Simulation is the user-supplied deterministic state-transition function
// (spec §3: "next_state(state, inputs) must be deterministic and
// referentially transparent"). Implemented by internal/game.Simulation
// (which wraps a game.World) for the reference game.
type Simulation[I any, SI any, S any] interface {
	Next(state S, inputs []I, serverInput SI) S
}

// StepMessage is what Manager publishes to its observer once a frame's
// state is resolved (spec §4.5 "Publish").
type StepMessage[S any] struct {
	FrameIndex timeval.FrameIndex
	State      S
}

// Publisher receives the Manager's published StepMessage stream. Typically
// an adapter wrapping an eventloop.EventSender, per spec §9's "observers
// held via a capability, not a reference" design note.
type Publisher[S any] interface {
	Publish(StepMessage[S])
}

// PublisherFunc adapts a plain function to Publisher.
type PublisherFunc[S any] func(StepMessage[S])

func (f PublisherFunc[S]) Publish(msg StepMessage[S]) { f(msg) }
