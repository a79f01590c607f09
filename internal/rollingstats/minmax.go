// Package rollingstats provides fixed-window incremental statistics used
// by GameTimer's clock-offset filtering (spec §4.3): a rolling average, a
// rolling standard deviation built on it, and a running min/max tracker.
package rollingstats

import "cmp"

// minMaxKind tags which variant a MinMax holds, mirroring
// rust_game/commons/src/stats/minmax.rs's MinMax enum.
type minMaxKind int

const (
	minMaxNoValues minMaxKind = iota
	minMaxSingleValue
	minMaxAndMax
)

// MinMax tracks the minimum and maximum of a stream of values without
// retaining the stream itself.
type MinMax[T cmp.Ordered] struct {
	kind minMaxKind
	min  T
	max  T
}

// ChangeKind describes how AddValue affected the running min/max.
type ChangeKind int

const (
	// NoChange: the new value lay within [min, max] and didn't move either
	// bound.
	NoChange ChangeKind = iota
	// FirstValue: this was the first value ever observed.
	FirstValue
	// NewMin: the new value became the new minimum.
	NewMin
	// NewMax: the new value became the new maximum.
	NewMax
)

// Change reports what AddValue did and, when relevant, the new bound.
type Change[T cmp.Ordered] struct {
	Kind  ChangeKind
	Value T
}

// AddValue folds value into the running min/max.
func (m *MinMax[T]) AddValue(value T) Change[T] {
	switch m.kind {
	case minMaxNoValues:
		m.kind = minMaxSingleValue
		m.min, m.max = value, value
		return Change[T]{Kind: FirstValue, Value: value}

	case minMaxSingleValue:
		first := m.min
		m.kind = minMaxAndMax
		if first < value {
			m.min, m.max = first, value
			return Change[T]{Kind: NewMax, Value: value}
		}
		m.min, m.max = value, first
		return Change[T]{Kind: NewMin, Value: value}

	default: // minMaxAndMax
		if value < m.min {
			m.min = value
			return Change[T]{Kind: NewMin, Value: value}
		}
		if value > m.max {
			m.max = value
			return Change[T]{Kind: NewMax, Value: value}
		}
		return Change[T]{Kind: NoChange}
	}
}

// Min reports the current minimum and whether any value has been added.
func (m *MinMax[T]) Min() (T, bool) {
	var zero T
	if m.kind == minMaxNoValues {
		return zero, false
	}
	return m.min, true
}

// Max reports the current maximum and whether any value has been added.
func (m *MinMax[T]) Max() (T, bool) {
	var zero T
	if m.kind == minMaxNoValues {
		return zero, false
	}
	return m.max, true
}
