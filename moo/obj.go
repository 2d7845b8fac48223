package moo

import "fmt"

// Oid is an object identifier: a signed 32-bit integer. Nothing is the
// reserved sentinel -1; identifiers are monotonically allocated by the
// store and recycled identifiers are never reused.
type Oid int32

const (
	Nothing     Oid = -1
	Ambiguous   Oid = -2
	FailedMatch Oid = -3
)

// Obj wraps an Oid as a first-class Value.
type Obj struct {
	ID Oid
}

func NewObj(id Oid) Obj { return Obj{ID: id} }

func (o Obj) Type() TypeCode { return TypeObj }
func (o Obj) String() string { return fmt.Sprintf("#%d", o.ID) }

// Truthy: object references are never truthy; only non-zero ints,
// non-empty strings, non-empty lists and non-empty maps are.
func (o Obj) Truthy() bool { return false }

func (o Obj) Equal(other Value) bool {
	o2, ok := other.(Obj)
	return ok && o2.ID == o.ID
}
