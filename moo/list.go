package moo

import "strings"

// List is a 1-indexed, copy-on-write sequence of Values, matching the
// embedded language's list indexing convention throughout the VM and
// builtins.
type List struct {
	elems []Value
}

func NewList(elems []Value) List {
	cp := make([]Value, len(elems))
	copy(cp, elems)
	return List{elems: cp}
}

func EmptyList() List { return List{} }

func (l List) Type() TypeCode { return TypeList }

func (l List) String() string {
	if len(l.elems) == 0 {
		return "{}"
	}
	parts := make([]string, len(l.elems))
	for i, e := range l.elems {
		parts[i] = e.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (l List) Truthy() bool { return len(l.elems) > 0 }

func (l List) Equal(o Value) bool {
	other, ok := o.(List)
	if !ok || len(other.elems) != len(l.elems) {
		return false
	}
	for i := range l.elems {
		if !l.elems[i].Equal(other.elems[i]) {
			return false
		}
	}
	return true
}

func (l List) Len() int { return len(l.elems) }

// Get returns the 1-based element, or nil if index is out of range.
func (l List) Get(index int) Value {
	if index < 1 || index > len(l.elems) {
		return nil
	}
	return l.elems[index-1]
}

func (l List) Set(index int, v Value) List {
	if index < 1 || index > len(l.elems) {
		return l
	}
	cp := make([]Value, len(l.elems))
	copy(cp, l.elems)
	cp[index-1] = v
	return List{elems: cp}
}

func (l List) Append(v Value) List {
	cp := make([]Value, len(l.elems)+1)
	copy(cp, l.elems)
	cp[len(l.elems)] = v
	return List{elems: cp}
}

func (l List) InsertAt(index int, v Value) List {
	if index < 1 {
		index = 1
	}
	if index > len(l.elems)+1 {
		index = len(l.elems) + 1
	}
	cp := make([]Value, len(l.elems)+1)
	copy(cp[:index-1], l.elems[:index-1])
	cp[index-1] = v
	copy(cp[index:], l.elems[index-1:])
	return List{elems: cp}
}

func (l List) DeleteAt(index int) List {
	if index < 1 || index > len(l.elems) {
		return l
	}
	cp := make([]Value, len(l.elems)-1)
	copy(cp[:index-1], l.elems[:index-1])
	copy(cp[index-1:], l.elems[index:])
	return List{elems: cp}
}

// Slice returns elements [start, end], both 1-based and inclusive.
func (l List) Slice(start, end int) List {
	if start < 1 {
		start = 1
	}
	if end > len(l.elems) {
		end = len(l.elems)
	}
	if start > end {
		return List{}
	}
	return NewList(l.elems[start-1 : end])
}

func (l List) Elements() []Value { return l.elems }
