package gametimer_test

import (
	"testing"

	"github.com/andersfylling/lockstep-arena/internal/gametimer"
	"github.com/andersfylling/lockstep-arena/internal/timeval"
)

func TestHandlePingResponse_OffsetFormulaMatchesWorkedExample(t *testing.T) {
	base := timeval.Now()
	cfg := gametimer.DefaultConfig(timeval.NewFrameDuration(timeval.Millis(50)))
	gt := gametimer.NewClient(timeval.NewStartTime(base), 0, cfg)

	clientSend := base.Add(timeval.Millis(1000))
	serverRecv := base.Add(timeval.Millis(1050))
	serverSend := base.Add(timeval.Millis(1060))
	clientRecv := base.Add(timeval.Millis(1120))

	req := gametimer.PingRequest{PlayerIndex: 0, ClientSendTime: clientSend}
	resp := gametimer.BuildPingResponse(req, serverRecv, serverSend)

	offset, accepted := gt.HandlePingResponse(resp, clientRecv)
	if !accepted {
		t.Fatal("expected the first sample to always be accepted")
	}
	if offset.Millis() != 5 {
		t.Fatalf("expected offset 5ms per the worked example, got %dms", offset.Millis())
	}
}

func TestHandlePingResponse_RejectsOutlierAfterStableWindow(t *testing.T) {
	base := timeval.Now()
	cfg := gametimer.DefaultConfig(timeval.NewFrameDuration(timeval.Millis(50)))
	cfg.ClockAverageSize = 20
	gt := gametimer.NewClient(timeval.NewStartTime(base), 0, cfg)

	// Feed a stable run of ~5ms offsets so the filter has a tight
	// pre-sample mean/stddev to judge the next sample against.
	t0 := base
	for i := 0; i < 19; i++ {
		clientSend := t0
		serverRecv := t0.Add(timeval.Millis(50))
		serverSend := t0.Add(timeval.Millis(60))
		clientRecv := t0.Add(timeval.Millis(120))
		req := gametimer.PingRequest{ClientSendTime: clientSend}
		resp := gametimer.BuildPingResponse(req, serverRecv, serverSend)
		if _, ok := gt.HandlePingResponse(resp, clientRecv); !ok {
			t.Fatalf("expected stable sample %d to be accepted", i)
		}
		t0 = t0.Add(timeval.Millis(1000))
	}

	// A wildly different round trip should now read as an outlier and be
	// rejected outright.
	clientSend := t0
	serverRecv := t0.Add(timeval.Millis(2000))
	serverSend := t0.Add(timeval.Millis(2010))
	clientRecv := t0.Add(timeval.Millis(5000))
	req := gametimer.PingRequest{ClientSendTime: clientSend}
	resp := gametimer.BuildPingResponse(req, serverRecv, serverSend)

	_, accepted := gt.HandlePingResponse(resp, clientRecv)
	if accepted {
		t.Fatal("expected a wildly different round trip to be rejected as an outlier")
	}
}

func TestOnTick_StepIsMonotoneNonDecreasing(t *testing.T) {
	base := timeval.Now()
	cfg := gametimer.DefaultConfig(timeval.NewFrameDuration(timeval.Millis(50)))
	gt := gametimer.NewServer(constClock{now: base}, cfg)

	var lastStep timeval.FrameIndex
	first := true
	for i := int64(0); i < 50; i++ {
		now := base.Add(timeval.Millis(50 * i))
		msg := gt.OnTick(now, now)
		if !first && msg.Step < lastStep {
			t.Fatalf("expected monotone non-decreasing step, got %d after %d", msg.Step, lastStep)
		}
		first = false
		lastStep = msg.Step
	}
}

type constClock struct {
	now timeval.TimeValue
}

func (c constClock) Now() timeval.TimeValue { return c.now }
