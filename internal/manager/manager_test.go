package manager_test

import (
	"testing"

	"github.com/andersfylling/lockstep-arena/internal/manager"
	"github.com/andersfylling/lockstep-arena/internal/timeval"
)

// sumState is a trivial deterministic simulation: state is the running sum
// of every player's input plus the server input, used across every test so
// assertions can be expressed as arithmetic instead of a bespoke game.
type sumState int

type sumSim struct{}

func (sumSim) Next(state sumState, inputs []int, serverInput int) sumState {
	next := int(state) + serverInput
	for _, in := range inputs {
		next += in
	}
	return sumState(next)
}

type recordingPublisher struct {
	published []manager.StepMessage[sumState]
}

func (p *recordingPublisher) Publish(msg manager.StepMessage[sumState]) {
	p.published = append(p.published, msg)
}

func newTestManager(pub manager.Publisher[sumState], grace timeval.FrameIndex) *manager.Manager[int, int, sumState] {
	cfg := manager.Config[int, int]{GraceFrames: grace, DefaultInput: 0, DefaultServerInput: 0}
	return manager.New[int, int, sumState](sumSim{}, pub, cfg)
}

// Scenario 1 (spec §8.1): two-player lockstep, no loss — inputs for every
// player arrive for every frame in order; every client publishes a
// state for frames 1..10 equal to the deterministic fold of the inputs.
func TestManager_TwoPlayerLockstepNoLoss(t *testing.T) {
	pub := &recordingPublisher{}
	m := newTestManager(pub, 2)
	m.InitialInformation(2, timeval.NewStartTime(timeval.Now()), timeval.NewFrameDuration(timeval.Millis(50)), sumState(0))

	want := sumState(0)
	for f := timeval.FrameIndex(0); f < 10; f++ {
		m.InputFromPlayer(f, 0, 1)
		m.InputFromPlayer(f, 1, 2)
		m.ClockTick(f + 1)
		want += 3
	}

	got, ok := m.StateAt(10)
	if !ok {
		t.Fatal("expected frame 10 to be resolved")
	}
	if got != want {
		t.Fatalf("expected state %d at frame 10, got %d", want, got)
	}

	if len(pub.published) == 0 {
		t.Fatal("expected published step messages")
	}
	var lastIdx timeval.FrameIndex
	seen := false
	for _, msg := range pub.published {
		if seen && msg.FrameIndex <= lastIdx {
			t.Fatalf("published frame index sequence not strictly increasing: %d after %d", msg.FrameIndex, lastIdx)
		}
		lastIdx = msg.FrameIndex
		seen = true
	}
	if lastIdx != 10 {
		t.Fatalf("expected last published frame to be 10, got %d", lastIdx)
	}
}

// Scenario 2 (spec §8.2): a late input arrives after later frames were
// provisionally computed from a defaulted input; Manager re-simulates the
// later frames, and the published frame_index sequence never decreases.
func TestManager_LateInputResimulatesWithoutDecreasing(t *testing.T) {
	pub := &recordingPublisher{}
	m := newTestManager(pub, 2) // grace of 2: frame 5 defaults once newest reaches 8+

	m.InitialInformation(1, timeval.NewStartTime(timeval.Now()), timeval.NewFrameDuration(timeval.Millis(50)), sumState(0))

	for f := timeval.FrameIndex(0); f < 5; f++ {
		m.InputFromPlayer(f, 0, 1)
	}
	// Frames 6 through 8's inputs arrive in order; only frame 5's is late, so
	// once it falls outside the grace window it defaults to 0 and frame 8
	// gets provisionally resolved without it.
	for f := timeval.FrameIndex(6); f <= 8; f++ {
		m.InputFromPlayer(f, 0, 1)
	}
	m.ClockTick(9)

	provisional, ok := m.StateAt(8)
	if !ok {
		t.Fatal("expected frame 8 to be provisionally resolved using a defaulted frame 5 input")
	}

	// The late input for frame 5 now arrives.
	m.InputFromPlayer(5, 0, 10)

	corrected, ok := m.StateAt(8)
	if !ok {
		t.Fatal("expected frame 8 to still be resolved after re-simulation")
	}
	if corrected == provisional {
		t.Fatalf("expected frame 8's state to change after the late input was applied")
	}
	if corrected != provisional+10 {
		t.Fatalf("expected frame 8 state to increase by exactly the late input's value: got %d, want %d", corrected, provisional+10)
	}

	// I1: the late correction propagates internally (checked above via
	// StateAt) but the publish stream itself stays strictly increasing —
	// a correction to an already-published index is never re-emitted.
	var lastIdx timeval.FrameIndex
	seen := false
	for _, msg := range pub.published {
		if seen && msg.FrameIndex <= lastIdx {
			t.Fatalf("published frame index sequence not strictly increasing: %d after %d", msg.FrameIndex, lastIdx)
		}
		lastIdx = msg.FrameIndex
		seen = true
	}
}

// Scenario 3 (spec §8.3): an authoritative snapshot overrides a client's
// prediction at F and every later frame is re-derived from it.
func TestManager_SnapshotOverrideRederivesLaterFrames(t *testing.T) {
	pub := &recordingPublisher{}
	m := newTestManager(pub, 100)

	m.InitialInformation(1, timeval.NewStartTime(timeval.Now()), timeval.NewFrameDuration(timeval.Millis(50)), sumState(0))
	for f := timeval.FrameIndex(0); f < 25; f++ {
		m.InputFromPlayer(f, 0, 1)
		m.ClockTick(f + 1)
	}

	predicted, ok := m.StateAt(20)
	if !ok {
		t.Fatal("expected frame 20 to already be predicted")
	}

	override := predicted + 1000
	m.StateSnapshot(20, override)

	got, ok := m.StateAt(20)
	if !ok || got != override {
		t.Fatalf("expected frame 20 to equal the snapshot's state %d, got %v (ok=%v)", override, got, ok)
	}

	// Frame 25 was fed input before the snapshot arrived; it must be
	// re-derived from the new frame 20 rather than keeping its stale value.
	rederived, ok := m.StateAt(25)
	if !ok {
		t.Fatal("expected frame 25 to be re-derived after the snapshot")
	}
	if rederived != override+5 {
		t.Fatalf("expected frame 25 to equal snapshot+5 inputs of 1, got %d", rederived)
	}
}

// I1: published frame_index is strictly increasing per Manager, even
// across a rollback triggered by a snapshot.
func TestManager_PublishedSequenceStaysStrictlyIncreasingAcrossSnapshot(t *testing.T) {
	pub := &recordingPublisher{}
	m := newTestManager(pub, 100)
	m.InitialInformation(1, timeval.NewStartTime(timeval.Now()), timeval.NewFrameDuration(timeval.Millis(50)), sumState(0))

	for f := timeval.FrameIndex(0); f < 5; f++ {
		m.InputFromPlayer(f, 0, 1)
		m.ClockTick(f + 1)
	}
	m.StateSnapshot(2, sumState(999))
	for f := timeval.FrameIndex(5); f < 10; f++ {
		m.InputFromPlayer(f, 0, 1)
		m.ClockTick(f + 1)
	}

	var lastIdx timeval.FrameIndex
	seen := false
	for _, msg := range pub.published {
		if seen && msg.FrameIndex <= lastIdx {
			t.Fatalf("published frame index sequence not strictly increasing: %d after %d", msg.FrameIndex, lastIdx)
		}
		lastIdx = msg.FrameIndex
		seen = true
	}
}

// A snapshot strictly older than oldest_kept_index is dropped silently
// (spec §7).
func TestManager_SnapshotOlderThanWindowIsDroppedSilently(t *testing.T) {
	pub := &recordingPublisher{}
	m := newTestManager(pub, 2)
	m.InitialInformation(1, timeval.NewStartTime(timeval.Now()), timeval.NewFrameDuration(timeval.Millis(50)), sumState(0))

	for f := timeval.FrameIndex(0); f < 10; f++ {
		m.InputFromPlayer(f, 0, 1)
		m.ClockTick(f + 1)
	}
	m.StateSnapshot(10, sumState(555))
	oldestBefore := m.OldestIndex()
	stateBefore, hadBefore := m.StateAt(oldestBefore)

	m.StateSnapshot(0, sumState(-1))

	oldestAfter := m.OldestIndex()
	stateAfter, hadAfter := m.StateAt(oldestBefore)

	if oldestAfter != oldestBefore {
		t.Fatalf("stale snapshot changed oldest_kept_index: before=%d after=%d", oldestBefore, oldestAfter)
	}
	if hadBefore != hadAfter || stateBefore != stateAfter {
		t.Fatalf("stale snapshot below oldest_kept_index mutated existing state: before=(%v,%v) after=(%v,%v)", stateBefore, hadBefore, stateAfter, hadAfter)
	}
}
