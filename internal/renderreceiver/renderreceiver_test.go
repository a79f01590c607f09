package renderreceiver_test

import (
	"testing"
	"time"

	"github.com/andersfylling/lockstep-arena/internal/gametimer"
	"github.com/andersfylling/lockstep-arena/internal/manager"
	"github.com/andersfylling/lockstep-arena/internal/renderreceiver"
	"github.com/andersfylling/lockstep-arena/internal/timeval"
)

// floatState is a trivial state used to assert interpolation arithmetic
// without a real game.
type floatState float64

func lerp(a, b floatState, weight float64) floatState {
	return a + floatState(float64(b-a)*weight)
}

func TestGetLatestFrame_OneStateReturnedUnchanged(t *testing.T) {
	r := renderreceiver.New[floatState](lerp)
	r.Publish(manager.StepMessage[floatState]{FrameIndex: 5, State: 10})

	now := timeval.FromTime(time.Unix(0, 0))
	state, weight := r.GetLatestFrame(now)
	if state != 10 {
		t.Fatalf("expected unchanged single state 10, got %v", state)
	}
	if weight != 0 {
		t.Fatalf("expected weight 0 with only one state held, got %v", weight)
	}
}

func TestGetLatestFrame_InterpolatesBetweenTwoSteps(t *testing.T) {
	r := renderreceiver.New[floatState](lerp)

	frameDuration := timeval.NewFrameDuration(timeval.FromDuration(100 * time.Millisecond))
	start := timeval.NewStartTime(timeval.FromTime(time.Unix(0, 0)))

	r.Publish(manager.StepMessage[floatState]{FrameIndex: 0, State: 0})
	r.Publish(manager.StepMessage[floatState]{FrameIndex: 1, State: 100})
	r.OnTick(gametimer.TimeMessage{StartTime: start, FrameDuration: frameDuration})

	// Half a frame into [0, 1): fractional frame index 0.5, weight 0.5.
	now := start.Value().Add(timeval.FromDuration(50 * time.Millisecond))
	state, weight := r.GetLatestFrame(now)
	if weight < 0.49 || weight > 0.51 {
		t.Fatalf("expected weight ~0.5, got %v", weight)
	}
	if state < 49 || state > 51 {
		t.Fatalf("expected interpolated state ~50, got %v", state)
	}
}

func TestGetLatestFrame_ThirdPublishEvictsOldestSlot(t *testing.T) {
	r := renderreceiver.New[floatState](lerp)

	frameDuration := timeval.NewFrameDuration(timeval.FromDuration(100 * time.Millisecond))
	start := timeval.NewStartTime(timeval.FromTime(time.Unix(0, 0)))
	r.OnTick(gametimer.TimeMessage{StartTime: start, FrameDuration: frameDuration})

	r.Publish(manager.StepMessage[floatState]{FrameIndex: 0, State: 0})
	r.Publish(manager.StepMessage[floatState]{FrameIndex: 1, State: 100})
	r.Publish(manager.StepMessage[floatState]{FrameIndex: 2, State: 200})

	// Now at frame 2: the held pair should be (1, 2), not (0, 1).
	now := start.Value().Add(timeval.FromDuration(200 * time.Millisecond))
	state, _ := r.GetLatestFrame(now)
	if state != 200 {
		t.Fatalf("expected the evicted pair to no longer include frame 0's state; got %v", state)
	}
}

func TestWaitUnblocksAfterFirstPublishAndTick(t *testing.T) {
	r := renderreceiver.New[floatState](lerp)

	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before any StepMessage/TimeMessage was recorded")
	case <-time.After(20 * time.Millisecond):
	}

	r.Publish(manager.StepMessage[floatState]{FrameIndex: 0, State: 0})
	r.OnTick(gametimer.TimeMessage{})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after Publish+OnTick")
	}
}
