// Package moo defines the tagged-union value universe of the embedded
// language: None, Obj, Int, Float, String, List, Map, and Error. All
// polymorphic operations (arithmetic, indexing, equality) are exhaustive
// case analyses over this closed set of variants; there is no host-language
// subtyping involved.
package moo

// TypeCode identifies a Value's variant.
type TypeCode int

const (
	TypeInt TypeCode = iota
	TypeObj
	TypeStr
	TypeErr
	TypeList
	TypeFloat
	TypeMap
	TypeNone
)

func (t TypeCode) String() string {
	switch t {
	case TypeInt:
		return "INT"
	case TypeObj:
		return "OBJ"
	case TypeStr:
		return "STR"
	case TypeErr:
		return "ERR"
	case TypeList:
		return "LIST"
	case TypeFloat:
		return "FLOAT"
	case TypeMap:
		return "MAP"
	case TypeNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// Value is the interface every member of the value universe implements.
type Value interface {
	Type() TypeCode
	String() string // literal representation, as produced by toliteral()
	Equal(Value) bool
	Truthy() bool
}

// NoneValue is the value of an uninitialized variable and the result of
// statements that produce nothing.
type NoneValue struct{}

func (NoneValue) Type() TypeCode    { return TypeNone }
func (NoneValue) String() string    { return "0" }
func (NoneValue) Truthy() bool      { return false }
func (NoneValue) Equal(o Value) bool {
	_, ok := o.(NoneValue)
	return ok
}

var None Value = NoneValue{}
