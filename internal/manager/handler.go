package manager

import (
	"github.com/andersfylling/lockstep-arena/internal/eventloop"
)

// Handler adapts a Manager to eventloop.EventHandler[Command,error], so the
// server's or a client's Manager can run as its own inbox-driven thread
// (spec §9's "each logical component owns one thread" design) instead of
// being called in-process. The synchronous Manager methods remain available
// directly for callers that embed a Manager in their own single-threaded
// loop instead (the reference game's deterministic test harness does this).
type Handler[I any, SI any, S any] struct {
	m *Manager[I, SI, S]
}

// NewHandler wraps m for use with eventloop.SpawnReal/SpawnSimulated.
func NewHandler[I any, SI any, S any](m *Manager[I, SI, S]) *Handler[I, SI, S] {
	return &Handler[I, SI, S]{m: m}
}

func (h *Handler[I, SI, S]) OnEvent(_ eventloop.ReceiveMetaData, cmd Command[I, SI, S]) eventloop.Decision[error] {
	h.m.apply(cmd)
	return eventloop.WaitForNextEvent[error]()
}

func (h *Handler[I, SI, S]) OnTimeout() eventloop.Decision[error] {
	return eventloop.WaitForNextEvent[error]()
}

func (h *Handler[I, SI, S]) OnChannelEmpty() eventloop.Decision[error] {
	return eventloop.WaitForNextEvent[error]()
}

func (h *Handler[I, SI, S]) OnChannelDisconnect() eventloop.Decision[error] {
	return eventloop.StopThread[error](nil)
}

func (h *Handler[I, SI, S]) OnStop(eventloop.ReceiveMetaData) error {
	return nil
}
