// Package worldstate maps domain concepts — objects, verbs, properties,
// inheritance, location — onto a fixed set of tuplebox relations, and
// enforces the domain invariants tuplebox itself knows nothing about:
// inheritance-consistent property sets and location acyclicity (spec
// §4.2).
package worldstate

import (
	"github.com/google/uuid"

	"tupleworld/moo"
)

// ObjectFlags is a bitset of object-level permission/role flags.
type ObjectFlags uint32

const (
	FlagPlayer ObjectFlags = 1 << iota
	FlagProgrammer
	FlagWizard
	FlagRead
	FlagWrite
	FlagFertile
)

func (f ObjectFlags) Has(bit ObjectFlags) bool { return f&bit != 0 }
func (f ObjectFlags) Set(bit ObjectFlags) ObjectFlags   { return f | bit }
func (f ObjectFlags) Clear(bit ObjectFlags) ObjectFlags { return f &^ bit }

// VerbArgSpec is the direct-object/preposition/indirect-object pattern a
// verb is dispatched against for commands (spec §3 "verbdef").
type VerbArgSpec struct {
	DObj string // "this" | "any" | "none"
	Prep string // preposition token, or "any" / "none"
	IObj string // "this" | "any" | "none"
}

// VerbFlags controls who may read/write/execute/single-step a verb.
type VerbFlags uint8

const (
	VerbRead VerbFlags = 1 << iota
	VerbWrite
	VerbExec
	VerbDebug
)

// VerbDef carries verb metadata, per spec §3. The compiled program lives
// separately in the VerbProgram relation, keyed by the same UUID, so
// metadata can be scanned without loading code.
type VerbDef struct {
	UUID    uuid.UUID
	Definer moo.Oid
	Owner   moo.Oid
	Names   []string // supports "*" prefix-wildcards, e.g. "foo*bar"
	Flags   VerbFlags
	Args    VerbArgSpec
}

// PropFlags controls property read/write/chown permission.
type PropFlags uint8

const (
	PropRead PropFlags = 1 << iota
	PropWrite
	PropChown
)

// PropDef carries property metadata, per spec §3.
type PropDef struct {
	UUID    uuid.UUID
	Definer moo.Oid
	Owner   moo.Oid
	Name    string
	Flags   PropFlags
	// Clear marks that, on the object this PropDef is attached to, the
	// value is inherited from Definer rather than stored locally.
	Clear bool
}
