package domain

import (
	"strings"
)

// AxisValue fixes one non-spatial axis to a single coordinate.
type AxisValue struct {
	Axis  string
	Index int     // Position along the axis.
	Value float64 // Raw coordinate value.
	Label string  // Human readable value (decoded date for time axes).
}

// Selector identifies one output tile: one value per non-spatial axis, in
// axis declaration order. An empty selector means "the whole variable".
type Selector []AxisValue

// Empty reports whether the selector fixes no axis.
func (s Selector) Empty() bool {
	return len(s) == 0
}

// Get returns the value fixed for axis, if any.
func (s Selector) Get(axis string) (AxisValue, bool) {
	for _, v := range s {
		if v.Axis == axis {
			return v, true
		}
	}
	return AxisValue{}, false
}

// Indices returns axis name -> index.
func (s Selector) Indices() map[string]int {
	out := make(map[string]int, len(s))
	for _, v := range s {
		out[v.Axis] = v.Index
	}
	return out
}

// Suffix renders the selector as a filename suffix such as
// "_time2001-01-01_member3". The empty selector renders as "".
func (s Selector) Suffix() string {
	if s.Empty() {
		return ""
	}
	parts := make([]string, 0, len(s))
	for _, v := range s {
		parts = append(parts, v.Axis+v.Label)
	}
	return "_" + strings.Join(parts, "_")
}

// Key is a stable identity for the selector, usable as a map key.
func (s Selector) Key() string {
	var b strings.Builder
	for i, v := range s {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(v.Axis)
		b.WriteByte('=')
		b.WriteString(v.Label)
	}
	return b.String()
}

// Metadata returns the selector as key/value pairs for embedding in a tile.
func (s Selector) Metadata() map[string]string {
	out := make(map[string]string, len(s))
	for _, v := range s {
		out[v.Axis] = v.Label
	}
	return out
}
