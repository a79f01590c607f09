package rollingstats_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/andersfylling/lockstep-arena/internal/rollingstats"
)

func batchMeanAndStdDev(window []float64) (mean, stddev float64) {
	if len(window) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	mean = sum / float64(len(window))

	var sqDiff float64
	for _, v := range window {
		d := v - mean
		sqDiff += d * d
	}
	variance := sqDiff / float64(len(window))
	return mean, math.Sqrt(variance)
}

func TestRollingStandardDeviation_MatchesBatchComputation(t *testing.T) {
	const windowSize = 16
	const totalSamples = 500

	rng := rand.New(rand.NewSource(7))
	dev := rollingstats.NewRollingStandardDeviation(windowSize)

	var history []float64
	for i := 0; i < totalSamples; i++ {
		v := rng.NormFloat64()*10 + 50
		dev.AddValue(v)
		history = append(history, v)

		window := history
		if len(window) > windowSize {
			window = window[len(window)-windowSize:]
		}

		wantMean, wantStdDev := batchMeanAndStdDev(window)
		gotMean, gotStdDev := dev.Average(), dev.StandardDeviation()

		if math.Abs(gotMean-wantMean) > 1e-9 {
			t.Fatalf("sample %d: mean mismatch: got %v, want %v", i, gotMean, wantMean)
		}
		if math.Abs(gotStdDev-wantStdDev) > 1e-9 {
			t.Fatalf("sample %d: stddev mismatch: got %v, want %v", i, gotStdDev, wantStdDev)
		}
	}
}

func TestRollingAverage_EvictsOldestOnceFull(t *testing.T) {
	avg := rollingstats.NewRollingAverage(3)

	if _, evicted := avg.AddValue(1); evicted {
		t.Fatal("expected no eviction before window is full")
	}
	avg.AddValue(2)
	avg.AddValue(3)
	if avg.Average() != 2 {
		t.Fatalf("expected average 2, got %v", avg.Average())
	}

	removed, evicted := avg.AddValue(10)
	if !evicted || removed != 1 {
		t.Fatalf("expected eviction of oldest value 1, got removed=%v evicted=%v", removed, evicted)
	}
	// window is now [2,3,10]
	want := (2.0 + 3.0 + 10.0) / 3.0
	if math.Abs(avg.Average()-want) > 1e-9 {
		t.Fatalf("expected average %v, got %v", want, avg.Average())
	}
}

func TestMinMax_TracksVariantsAndChanges(t *testing.T) {
	var mm rollingstats.MinMax[int]

	if _, ok := mm.Min(); ok {
		t.Fatal("expected no min before any value added")
	}

	c := mm.AddValue(5)
	if c.Kind != rollingstats.FirstValue {
		t.Fatalf("expected FirstValue, got %v", c.Kind)
	}

	c = mm.AddValue(10)
	if c.Kind != rollingstats.NewMax || c.Value != 10 {
		t.Fatalf("expected NewMax(10), got %v/%v", c.Kind, c.Value)
	}

	c = mm.AddValue(1)
	if c.Kind != rollingstats.NewMin || c.Value != 1 {
		t.Fatalf("expected NewMin(1), got %v/%v", c.Kind, c.Value)
	}

	c = mm.AddValue(7)
	if c.Kind != rollingstats.NoChange {
		t.Fatalf("expected NoChange for a value within bounds, got %v", c.Kind)
	}

	min, _ := mm.Min()
	max, _ := mm.Max()
	if min != 1 || max != 10 {
		t.Fatalf("expected min=1 max=10, got min=%d max=%d", min, max)
	}
}

func TestStats_IsOutlierRejectsPastKSigma(t *testing.T) {
	s := rollingstats.NewStats(32)
	for i := 0; i < 20; i++ {
		s.AddValue(100)
	}
	// A steady stream of identical values has stddev 0; any deviation at
	// all should register as an outlier once a second distinct value has
	// been seen anywhere, but here we just check a far-off sample is
	// flagged once the window isn't trivially small.
	if !s.IsOutlier(1000, 3) {
		t.Fatal("expected a 900-unit deviation to be flagged as an outlier")
	}
	if s.IsOutlier(100, 3) {
		t.Fatal("expected the in-distribution value to not be flagged")
	}
}
