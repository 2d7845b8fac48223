package moo

import "strconv"

// Str is a MOO string value.
type Str struct {
	Val string
}

func NewStr(v string) Str { return Str{Val: v} }

func (s Str) Type() TypeCode { return TypeStr }
func (s Str) String() string { return strconv.Quote(s.Val) }
func (s Str) Truthy() bool   { return s.Val != "" }
func (s Str) Equal(o Value) bool {
	other, ok := o.(Str)
	return ok && other.Val == s.Val
}
