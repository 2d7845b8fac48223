package moo

import (
	"fmt"
	"sort"
	"strings"
)

type mapEntry struct {
	key Value
	val Value
}

// Map is an ordered (sorted by key) associative collection, copy-on-write
// like List. Keys are compared by their literal string form; string keys
// compare case-insensitively.
type Map struct {
	entries []mapEntry
}

func keyHash(v Value) string {
	if s, ok := v.(Str); ok {
		return "s:" + strings.ToLower(s.Val)
	}
	return fmt.Sprintf("%T:%s", v, v.String())
}

func EmptyMap() Map { return Map{} }

func (m Map) Type() TypeCode { return TypeMap }

func (m Map) String() string {
	if len(m.entries) == 0 {
		return "[]"
	}
	parts := make([]string, len(m.entries))
	for i, e := range m.entries {
		parts[i] = e.key.String() + " -> " + e.val.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (m Map) Truthy() bool { return len(m.entries) > 0 }

func (m Map) Equal(o Value) bool {
	other, ok := o.(Map)
	if !ok || len(other.entries) != len(m.entries) {
		return false
	}
	for i := range m.entries {
		if !m.entries[i].key.Equal(other.entries[i].key) || !m.entries[i].val.Equal(other.entries[i].val) {
			return false
		}
	}
	return true
}

func (m Map) Len() int { return len(m.entries) }

func (m Map) indexOf(k Value) int {
	h := keyHash(k)
	for i, e := range m.entries {
		if keyHash(e.key) == h {
			return i
		}
	}
	return -1
}

func (m Map) Get(k Value) (Value, bool) {
	if i := m.indexOf(k); i >= 0 {
		return m.entries[i].val, true
	}
	return nil, false
}

// Set returns a new map with k bound to v, re-sorted by key.
func (m Map) Set(k, v Value) Map {
	cp := make([]mapEntry, 0, len(m.entries)+1)
	replaced := false
	for _, e := range m.entries {
		if keyHash(e.key) == keyHash(k) {
			cp = append(cp, mapEntry{k, v})
			replaced = true
		} else {
			cp = append(cp, e)
		}
	}
	if !replaced {
		cp = append(cp, mapEntry{k, v})
	}
	sort.SliceStable(cp, func(i, j int) bool { return keyHash(cp[i].key) < keyHash(cp[j].key) })
	return Map{entries: cp}
}

func (m Map) Delete(k Value) Map {
	cp := make([]mapEntry, 0, len(m.entries))
	h := keyHash(k)
	for _, e := range m.entries {
		if keyHash(e.key) != h {
			cp = append(cp, e)
		}
	}
	return Map{entries: cp}
}

func (m Map) Keys() []Value {
	keys := make([]Value, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.key
	}
	return keys
}

func (m Map) Pairs() [][2]Value {
	pairs := make([][2]Value, len(m.entries))
	for i, e := range m.entries {
		pairs[i] = [2]Value{e.key, e.val}
	}
	return pairs
}
