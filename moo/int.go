package moo

import "fmt"

// Int is a 64-bit signed integer value.
type Int struct {
	Val int64
}

func NewInt(v int64) Int { return Int{Val: v} }

func (i Int) Type() TypeCode { return TypeInt }
func (i Int) String() string { return fmt.Sprintf("%d", i.Val) }
func (i Int) Truthy() bool   { return i.Val != 0 }
func (i Int) Equal(o Value) bool {
	other, ok := o.(Int)
	return ok && other.Val == i.Val
}
