// Package timeval provides the absolute/relative time primitives the rest
// of the engine builds on. A TimeValue is an instant; a TimeDuration is a
// signed offset between two instants. Both are backed by the standard
// library's time package for the real clock, but the type is kept distinct
// from time.Time/time.Duration so a Clock can be swapped for a simulated
// one in tests without touching call sites.
package timeval

import "time"

// TimeValue is an absolute instant.
type TimeValue struct {
	t time.Time
}

// TimeDuration is a signed offset between two TimeValues.
type TimeDuration struct {
	d time.Duration
}

// Now returns the current wall-clock TimeValue.
func Now() TimeValue {
	return TimeValue{t: time.Now()}
}

// FromTime wraps a time.Time as a TimeValue.
func FromTime(t time.Time) TimeValue {
	return TimeValue{t: t}
}

// IsZero reports whether tv is the zero TimeValue (useful as a not-yet-set
// sentinel).
func (tv TimeValue) IsZero() bool {
	return tv.t.IsZero()
}

// Add returns tv shifted by d.
func (tv TimeValue) Add(d TimeDuration) TimeValue {
	return TimeValue{t: tv.t.Add(d.d)}
}

// Sub returns the duration from other to tv (tv - other).
func (tv TimeValue) Sub(other TimeValue) TimeDuration {
	return TimeDuration{d: tv.t.Sub(other.t)}
}

// Before reports whether tv occurs before other.
func (tv TimeValue) Before(other TimeValue) bool {
	return tv.t.Before(other.t)
}

// After reports whether tv occurs after other.
func (tv TimeValue) After(other TimeValue) bool {
	return tv.t.After(other.t)
}

// Compare returns -1, 0, or 1 if tv is before, equal to, or after other.
func (tv TimeValue) Compare(other TimeValue) int {
	return tv.t.Compare(other.t)
}

// StdTime exposes the underlying time.Time, for interop with net/log/etc.
func (tv TimeValue) StdTime() time.Time {
	return tv.t
}

func (tv TimeValue) String() string {
	return tv.t.Format("15:04:05.000000")
}

// Duration constructors.

// FromDuration wraps a time.Duration as a TimeDuration.
func FromDuration(d time.Duration) TimeDuration {
	return TimeDuration{d: d}
}

// Millis returns a TimeDuration of the given number of milliseconds.
func Millis(ms int64) TimeDuration {
	return TimeDuration{d: time.Duration(ms) * time.Millisecond}
}

// Zero is the zero-length duration.
func Zero() TimeDuration {
	return TimeDuration{}
}

func (d TimeDuration) StdDuration() time.Duration {
	return d.d
}

func (d TimeDuration) Millis() int64 {
	return d.d.Milliseconds()
}

func (d TimeDuration) Seconds() float64 {
	return d.d.Seconds()
}

func (d TimeDuration) Add(other TimeDuration) TimeDuration {
	return TimeDuration{d: d.d + other.d}
}

func (d TimeDuration) Sub(other TimeDuration) TimeDuration {
	return TimeDuration{d: d.d - other.d}
}

func (d TimeDuration) MulFloat(f float64) TimeDuration {
	return TimeDuration{d: time.Duration(float64(d.d) * f)}
}

func (d TimeDuration) DivFloat(f float64) TimeDuration {
	return TimeDuration{d: time.Duration(float64(d.d) / f)}
}

func (d TimeDuration) Negate() TimeDuration {
	return TimeDuration{d: -d.d}
}

func (d TimeDuration) IsNegative() bool {
	return d.d < 0
}

func (d TimeDuration) LessThan(other TimeDuration) bool {
	return d.d < other.d
}

func (d TimeDuration) GreaterThan(other TimeDuration) bool {
	return d.d > other.d
}

func (d TimeDuration) String() string {
	return d.d.String()
}

// Clock abstracts TimeValue sourcing so the event loop and GameTimer can run
// against either the real wall clock or a simulated one driven by tests.
type Clock interface {
	Now() TimeValue
}

// RealClock is the Clock backed by the OS wall clock.
type RealClock struct{}

func (RealClock) Now() TimeValue { return Now() }
