package moo

import (
	"math"
	"strconv"
	"strings"
)

// Float is an IEEE-754 double value.
type Float struct {
	Val float64
}

func NewFloat(v float64) Float { return Float{Val: v} }

func (f Float) Type() TypeCode { return TypeFloat }

func (f Float) String() string {
	if math.IsNaN(f.Val) {
		return "NaN"
	}
	if math.IsInf(f.Val, 1) {
		return "Inf"
	}
	if math.IsInf(f.Val, -1) {
		return "-Inf"
	}
	s := strconv.FormatFloat(f.Val, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// Truthy: floats, like objects, are never truthy in the embedded language.
func (f Float) Truthy() bool { return false }

func (f Float) Equal(o Value) bool {
	other, ok := o.(Float)
	if !ok {
		return false
	}
	if math.IsNaN(f.Val) || math.IsNaN(other.Val) {
		return false
	}
	return f.Val == other.Val
}

func (f Float) IsNaN() bool { return math.IsNaN(f.Val) }
func (f Float) IsInf() bool { return math.IsInf(f.Val, 0) }
