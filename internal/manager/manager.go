package manager

import (
	"sync"

	"github.com/andersfylling/lockstep-arena/internal/timeval"
)

// Config bounds Manager's grace/default-input policy.
type Config[I any, SI any] struct {
	// GraceFrames: a frame older than (newestKnownIndex - GraceFrames)
	// with missing player inputs has them defaulted rather than waiting
	// forever (spec §4.5 "Input-missing policy").
	GraceFrames timeval.FrameIndex
	DefaultInput       I
	DefaultServerInput SI
}

// Manager is the sliding-window rollback pipeline. Every exported method
// takes Manager's own mutex, so calls from different goroutines (the
// server's tick, UDP and handshake goroutines all call in) are serialized;
// the Publisher is invoked with that mutex held.
type Manager[I any, SI any, S any] struct {
	mu sync.Mutex

	cfg Config[I, SI]
	sim Simulation[I, SI, S]
	pub Publisher[S]

	playerCount int
	frameDur    timeval.FrameDuration
	startTime   timeval.StartTime

	frames      []Frame[I, SI, S]
	oldestIndex timeval.FrameIndex // index frames[0] corresponds to
	hasWindow   bool               // false until InitialInformation or a frame is first touched

	hasPublished  bool
	lastPublished timeval.FrameIndex

	requestedStep timeval.FrameIndex
}

// New creates an empty Manager. Call InitialInformation (or start feeding
// it input/snapshot events, which lazily open the window at the first
// frame index they touch) before
// expecting any published output.
func New[I any, SI any, S any](sim Simulation[I, SI, S], pub Publisher[S], cfg Config[I, SI]) *Manager[I, SI, S] {
	return &Manager[I, SI, S]{cfg: cfg, sim: sim, pub: pub}
}

// InitialInformation opens the window at frame 0 with initialState already
// resolved and authoritative (spec §4.5 event "InitialInformation").
func (m *Manager[I, SI, S]) InitialInformation(playerCount int, startTime timeval.StartTime, frameDuration timeval.FrameDuration, initialState S) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.playerCount = playerCount
	m.startTime = startTime
	m.frameDur = frameDuration

	f := newEmptyFrame[I, SI, S](0, playerCount)
	f.State = Some(initialState)
	f.IsAuthoritative = true

	m.frames = []Frame[I, SI, S]{f}
	m.oldestIndex = 0
	m.hasWindow = true
	m.hasPublished = false

	m.resimulateAndPublishLocked()
}

// ClockTick extends the window to at least step, per spec §4.5 Record
// op 1 ("if frame_index > newest_known_index, extend the vector").
func (m *Manager[I, SI, S]) ClockTick(step timeval.FrameIndex) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureFrameLocked(step)
	m.resimulateAndPublishLocked()
}

// SetRequestedStep records the renderer's pacing hint; Manager does not
// act on it directly (spec §4.5's event is a renderer-facing signal, not a
// simulation input).
func (m *Manager[I, SI, S]) SetRequestedStep(step timeval.FrameIndex) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestedStep = step
}

// RequestedStep returns the last step set via SetRequestedStep.
func (m *Manager[I, SI, S]) RequestedStep() timeval.FrameIndex {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestedStep
}

// InputFromPlayer records one player's input for frameIndex.
func (m *Manager[I, SI, S]) InputFromPlayer(frameIndex timeval.FrameIndex, playerIndex uint32, input I) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frameIndex < m.oldestIndex {
		return // superseded by an already-pruned/authoritative window; drop silently
	}
	f := m.ensureFrameLocked(frameIndex)
	if int(playerIndex) < len(f.Inputs) {
		f.Inputs[playerIndex] = Some(input)
	}
	m.invalidateAfterInputChangeLocked(frameIndex)
	m.resimulateAndPublishLocked()
}

// ServerInput records the server-computed per-tick side channel for
// frameIndex.
func (m *Manager[I, SI, S]) ServerInput(frameIndex timeval.FrameIndex, serverInput SI) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frameIndex < m.oldestIndex {
		return
	}
	f := m.ensureFrameLocked(frameIndex)
	f.ServerInput = Some(serverInput)
	m.invalidateAfterInputChangeLocked(frameIndex)
	m.resimulateAndPublishLocked()
}

// StateSnapshot applies an authoritative state at frameIndex: it
// overrides any prior prediction there, prunes every earlier frame, and
// invalidates (clears) every later frame's predicted state so resimulation
// recomputes them from the new base (spec §4.5 "Snapshot wins").
func (m *Manager[I, SI, S]) StateSnapshot(frameIndex timeval.FrameIndex, state S) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hasWindow && frameIndex < m.oldestIndex {
		return // spec §7: "Snapshot older than oldest_kept_index: dropped silently"
	}

	f := m.ensureFrameLocked(frameIndex)
	f.State = Some(state)
	f.IsAuthoritative = true

	m.pruneBeforeLocked(frameIndex)
	m.invalidateAfterLocked(frameIndex)
	m.resimulateAndPublishLocked()
}

// frameAt returns a pointer to the frame at idx, which must already be
// within [oldestIndex, newestIndex].
func (m *Manager[I, SI, S]) frameAt(idx timeval.FrameIndex) *Frame[I, SI, S] {
	return &m.frames[idx-m.oldestIndex]
}

func (m *Manager[I, SI, S]) newestIndex() timeval.FrameIndex {
	return m.oldestIndex + timeval.FrameIndex(len(m.frames)) - 1
}

// ensureFrameLocked grows the window so idx is addressable, creating empty
// frames as needed, and returns a pointer to it.
func (m *Manager[I, SI, S]) ensureFrameLocked(idx timeval.FrameIndex) *Frame[I, SI, S] {
	if !m.hasWindow {
		m.frames = []Frame[I, SI, S]{newEmptyFrame[I, SI, S](idx, m.playerCount)}
		m.oldestIndex = idx
		m.hasWindow = true
		return &m.frames[0]
	}
	if idx < m.oldestIndex {
		// Below the window: caller already checked this shouldn't happen
		// for input/snapshot paths; no-op frame returned defensively.
		return &Frame[I, SI, S]{Index: idx, Inputs: make([]Optional[I], m.playerCount)}
	}
	for m.newestIndex() < idx {
		next := m.newestIndex() + 1
		m.frames = append(m.frames, newEmptyFrame[I, SI, S](next, m.playerCount))
	}
	return m.frameAt(idx)
}

// pruneBeforeLocked drops every frame strictly before idx.
func (m *Manager[I, SI, S]) pruneBeforeLocked(idx timeval.FrameIndex) {
	if idx <= m.oldestIndex {
		return
	}
	drop := int(idx - m.oldestIndex)
	if drop > len(m.frames) {
		drop = len(m.frames)
	}
	m.frames = m.frames[drop:]
	m.oldestIndex = idx
}

// invalidateAfterLocked clears the predicted state of every frame after
// idx, so resimulation rebuilds them from the new authoritative base.
func (m *Manager[I, SI, S]) invalidateAfterLocked(idx timeval.FrameIndex) {
	for i := idx + 1; i <= m.newestIndex(); i++ {
		f := m.frameAt(i)
		f.State = None[S]()
		f.IsAuthoritative = false
	}
}

// invalidateAfterInputChangeLocked clears every predicted (non-
// authoritative) state strictly after idx, so a late-arriving input or
// server_input at idx is folded into the states that derive from it instead
// of those states silently keeping a value computed from a stale default
// (I2, I3). It stops at the first authoritative frame, since that frame's
// state does not derive from idx's chain and neither does anything computed
// from it. Any already-published index whose stored state changes this way
// is corrected internally but is never re-emitted on the publish stream:
// I1 pins that stream to strictly increasing, so a correction only becomes
// externally visible once it propagates into a not-yet-published frame.
func (m *Manager[I, SI, S]) invalidateAfterInputChangeLocked(idx timeval.FrameIndex) {
	for i := idx + 1; i <= m.newestIndex(); i++ {
		f := m.frameAt(i)
		if f.IsAuthoritative {
			break
		}
		f.State = None[S]()
	}
}

// inputsReadyLocked reports whether frame i has everything resimulation
// needs to compute frame i+1's state: all player inputs present, or the
// frame is old enough that missing ones default (spec §4.5 "Input-missing
// policy"). Server input is never a blocking condition: a missing server
// input always falls back to cfg.DefaultServerInput, since the spec's own
// compute step unconditionally uses "server_input_or_default" regardless
// of whether the earlier prose also lists it as a readiness gate (recorded
// as an Open Question resolution in DESIGN.md).
func (m *Manager[I, SI, S]) inputsReadyLocked(i timeval.FrameIndex) bool {
	f := m.frameAt(i)
	withinGrace := m.newestIndex()-i <= m.cfg.GraceFrames
	if !withinGrace {
		return true // past grace: every missing input defaults unconditionally
	}
	for _, in := range f.Inputs {
		if !in.present {
			return false
		}
	}
	return true
}

func (m *Manager[I, SI, S]) inputsWithDefaults(f *Frame[I, SI, S]) []I {
	out := make([]I, len(f.Inputs))
	for i, in := range f.Inputs {
		if v, ok := in.Get(); ok {
			out[i] = v
		} else {
			out[i] = m.cfg.DefaultInput
		}
	}
	return out
}

func (m *Manager[I, SI, S]) serverInputOrDefault(f *Frame[I, SI, S]) SI {
	if v, ok := f.ServerInput.Get(); ok {
		return v
	}
	return m.cfg.DefaultServerInput
}

// resimulateAndPublishLocked is the heart of §4.5 operations 3 ("Re-
// simulate") and 4 ("Publish"), run after every mutating event.
func (m *Manager[I, SI, S]) resimulateAndPublishLocked() {
	if !m.hasWindow {
		return
	}

	for i := m.oldestIndex; i < m.newestIndex(); i++ {
		cur := m.frameAt(i)
		next := m.frameAt(i + 1)

		if next.State.present {
			continue
		}
		if !cur.State.present {
			break
		}
		if !m.inputsReadyLocked(i) {
			break
		}

		inputs := m.inputsWithDefaults(cur)
		si := m.serverInputOrDefault(cur)
		newState := m.sim.Next(cur.State.value, inputs, si)
		next.State = Some(newState)
	}

	start := m.oldestIndex
	if m.hasPublished {
		start = m.lastPublished + 1
		if start < m.oldestIndex {
			start = m.oldestIndex
		}
	}

	for idx := start; idx <= m.newestIndex(); idx++ {
		f := m.frameAt(idx)
		if !f.State.present {
			break
		}
		m.lastPublished = idx
		m.hasPublished = true
		if m.pub != nil {
			m.pub.Publish(StepMessage[S]{FrameIndex: idx, State: f.State.value})
		}
	}
}

// StateAt returns the currently-known state at idx, if any, for tests and
// diagnostics.
func (m *Manager[I, SI, S]) StateAt(idx timeval.FrameIndex) (S, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasWindow || idx < m.oldestIndex || idx > m.newestIndex() {
		var zero S
		return zero, false
	}
	return m.frameAt(idx).State.Get()
}

// OldestIndex and NewestIndex report the current window bounds, for tests.
func (m *Manager[I, SI, S]) OldestIndex() timeval.FrameIndex {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.oldestIndex
}

func (m *Manager[I, SI, S]) NewestIndex() timeval.FrameIndex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasWindow {
		return 0
	}
	return m.newestIndex()
}
