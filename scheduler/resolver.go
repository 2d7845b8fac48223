package scheduler

import (
	"fmt"

	"tupleworld/moo"
	"tupleworld/vm"
	"tupleworld/worldstate"
)

// txResolver adapts a worldstate.Tx to vm.VerbResolver: it resolves a
// call opcode's target by walking the parent chain for a matching
// verbdef, then loads the compiled *vm.Program stored alongside it.
// Programs are stored as opaque `any` payloads in the VerbProgram
// relation; this is the one place that knows they are *vm.Program.
type txResolver struct {
	tx *worldstate.Tx
}

func (r txResolver) programFor(definer moo.Oid, def worldstate.VerbDef) (*vm.Program, error) {
	raw, err := r.tx.VerbProgram(definer, def.UUID)
	if err != nil {
		return nil, err
	}
	prog, ok := raw.(*vm.Program)
	if !ok {
		return nil, fmt.Errorf("scheduler: verb %q on #%d has no compiled program", def.Names, definer)
	}
	return prog, nil
}

func (r txResolver) Resolve(this moo.Oid, name, dobj, prep, iobj string, forCommand bool) (moo.Oid, moo.Oid, *vm.Program, error) {
	def, definer, err := r.tx.FindVerb(this, name, dobj, prep, iobj, forCommand)
	if err != nil {
		return moo.Nothing, moo.Nothing, nil, err
	}
	prog, err := r.programFor(definer, def)
	if err != nil {
		return moo.Nothing, moo.Nothing, nil, err
	}
	return def.Owner, definer, prog, nil
}

func (r txResolver) ResolveFrom(startAt, this moo.Oid, name string) (moo.Oid, moo.Oid, *vm.Program, error) {
	parent, err := r.tx.Parent(startAt)
	if err != nil {
		return moo.Nothing, moo.Nothing, nil, err
	}
	if parent == moo.Nothing {
		return moo.Nothing, moo.Nothing, nil, worldstate.ErrVerbNotFound
	}
	return r.Resolve(parent, name, "any", "any", "any", false)
}
