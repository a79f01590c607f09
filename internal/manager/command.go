package manager

import "github.com/andersfylling/lockstep-arena/internal/timeval"

// commandKind tags Command's variant (spec §9 design note: prefer a tagged
// sum type over an interface hierarchy for a closed, small event set).
type commandKind int

const (
	cmdClockTick commandKind = iota
	cmdInputFromPlayer
	cmdServerInput
	cmdStateSnapshot
	cmdInitialInformation
	cmdSetRequestedStep
)

// Command is the Manager inbox's event type when run as its own
// eventloop.EventHandler thread (spec §4.5's six event kinds).
type Command[I any, SI any, S any] struct {
	kind commandKind

	step        timeval.FrameIndex
	playerIndex uint32
	input       I
	serverInput SI
	state       S

	playerCount   int
	startTime     timeval.StartTime
	frameDuration timeval.FrameDuration
}

// ClockTickCommand advances the window to at least step.
func ClockTickCommand[I any, SI any, S any](step timeval.FrameIndex) Command[I, SI, S] {
	return Command[I, SI, S]{kind: cmdClockTick, step: step}
}

// InputFromPlayerCommand records one player's input for frameIndex.
func InputFromPlayerCommand[I any, SI any, S any](frameIndex timeval.FrameIndex, playerIndex uint32, input I) Command[I, SI, S] {
	return Command[I, SI, S]{kind: cmdInputFromPlayer, step: frameIndex, playerIndex: playerIndex, input: input}
}

// ServerInputCommand records the server-computed input for frameIndex.
func ServerInputCommand[I any, SI any, S any](frameIndex timeval.FrameIndex, serverInput SI) Command[I, SI, S] {
	return Command[I, SI, S]{kind: cmdServerInput, step: frameIndex, serverInput: serverInput}
}

// StateSnapshotCommand applies an authoritative state at frameIndex.
func StateSnapshotCommand[I any, SI any, S any](frameIndex timeval.FrameIndex, state S) Command[I, SI, S] {
	return Command[I, SI, S]{kind: cmdStateSnapshot, step: frameIndex, state: state}
}

// InitialInformationCommand opens the window at frame 0.
func InitialInformationCommand[I any, SI any, S any](playerCount int, startTime timeval.StartTime, frameDuration timeval.FrameDuration, initialState S) Command[I, SI, S] {
	return Command[I, SI, S]{
		kind:          cmdInitialInformation,
		playerCount:   playerCount,
		startTime:     startTime,
		frameDuration: frameDuration,
		state:         initialState,
	}
}

// SetRequestedStepCommand records the renderer's pacing hint.
func SetRequestedStepCommand[I any, SI any, S any](step timeval.FrameIndex) Command[I, SI, S] {
	return Command[I, SI, S]{kind: cmdSetRequestedStep, step: step}
}

// apply dispatches cmd against m. Caller must not hold m.mu.
func (m *Manager[I, SI, S]) apply(cmd Command[I, SI, S]) {
	switch cmd.kind {
	case cmdClockTick:
		m.ClockTick(cmd.step)
	case cmdInputFromPlayer:
		m.InputFromPlayer(cmd.step, cmd.playerIndex, cmd.input)
	case cmdServerInput:
		m.ServerInput(cmd.step, cmd.serverInput)
	case cmdStateSnapshot:
		m.StateSnapshot(cmd.step, cmd.state)
	case cmdInitialInformation:
		m.InitialInformation(cmd.playerCount, cmd.startTime, cmd.frameDuration, cmd.state)
	case cmdSetRequestedStep:
		m.SetRequestedStep(cmd.step)
	}
}
