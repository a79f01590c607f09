package timeval

import "math"

// FrameIndex is the non-negative, monotone tick counter. Ticks start at 0.
type FrameIndex uint64

// Next returns the following frame index.
func (f FrameIndex) Next() FrameIndex { return f + 1 }

// Previous returns the preceding frame index. Callers must not call this on
// FrameIndex(0), which has no predecessor.
func (f FrameIndex) Previous() FrameIndex { return f - 1 }

// FrameDuration is the fixed, positive TimeDuration between ticks.
type FrameDuration struct {
	d TimeDuration
}

// NewFrameDuration wraps a positive TimeDuration as a FrameDuration.
func NewFrameDuration(d TimeDuration) FrameDuration {
	return FrameDuration{d: d}
}

func (fd FrameDuration) Duration() TimeDuration {
	return fd.d
}

// DurationFromStart returns the elapsed TimeDuration between frame 0 and
// the given frame index.
func (fd FrameDuration) DurationFromStart(frame FrameIndex) TimeDuration {
	return fd.d.MulFloat(float64(frame))
}

// FrameCount converts a TimeDuration into a fractional number of frames.
func (fd FrameDuration) FrameCount(d TimeDuration) float64 {
	return d.Seconds() / fd.d.Seconds()
}

// StartTime is the TimeValue at which FrameIndex 0 occurred. The server's
// StartTime is fixed at game start; each client's floats under the clock
// sync filter in internal/gametimer.
type StartTime struct {
	tv TimeValue
}

func NewStartTime(tv TimeValue) StartTime {
	return StartTime{tv: tv}
}

func (s StartTime) Value() TimeValue {
	return s.tv
}

// FrameTime returns the wall time at which the given frame occurs.
func (s StartTime) FrameTime(fd FrameDuration, frame FrameIndex) TimeValue {
	return s.tv.Add(fd.DurationFromStart(frame))
}

// FractionalFrameIndex returns the (possibly fractional, possibly negative)
// frame index that corresponds to the given wall time.
func (s StartTime) FractionalFrameIndex(fd FrameDuration, at TimeValue) float64 {
	return fd.FrameCount(at.Sub(s.tv))
}

// FrameIndexAt returns the frame index most recently at-or-before the given
// wall time. Times before StartTime clamp to frame 0.
func (s StartTime) FrameIndexAt(fd FrameDuration, at TimeValue) FrameIndex {
	f := math.Floor(s.FractionalFrameIndex(fd, at))
	if f < 0 {
		return 0
	}
	return FrameIndex(f)
}
