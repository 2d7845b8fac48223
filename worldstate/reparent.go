package worldstate

import (
	"fmt"

	"tupleworld/moo"
	"tupleworld/tuplebox"
)

// SetParent changes id's parent, maintaining the inheritance invariant of
// spec §4.2 "Reparenting": for every descendant (including id itself),
// propdefs inherited only from severed ancestors are removed (and their
// stored values cleared); propdefs defined on newly acquired ancestors
// are added as Clear entries.
func (t *Tx) SetParent(id, newParent moo.Oid) error {
	if err := t.requireExists(id); err != nil {
		return err
	}
	if newParent != moo.Nothing {
		if err := t.requireExists(newParent); err != nil {
			return err
		}
		if newParent == id {
			return fmt.Errorf("%w: #%d cannot be its own parent", ErrRecursiveMove, id)
		}
		descends, err := t.isAncestor(id, newParent)
		if err != nil {
			return err
		}
		if descends {
			return fmt.Errorf("%w: #%d is a descendant of #%d", ErrRecursiveMove, newParent, id)
		}
	}

	oldParent, err := t.Parent(id)
	if err != nil {
		return err
	}

	var oldAncestors, newAncestors []moo.Oid
	if oldParent != moo.Nothing {
		oldAncestors = append([]moo.Oid{oldParent}, mustChain(t, oldParent)...)
	}
	if newParent != moo.Nothing {
		newAncestors = append([]moo.Oid{newParent}, mustChain(t, newParent)...)
	}
	oldSet, newSet := oidSet(oldAncestors), oidSet(newAncestors)

	var removedDefiners, addedDefiners []moo.Oid
	for _, a := range oldAncestors {
		if !newSet[a] {
			removedDefiners = append(removedDefiners, a)
		}
	}
	for _, a := range newAncestors {
		if !oldSet[a] {
			addedDefiners = append(addedDefiners, a)
		}
	}

	if err := t.tx.Upsert(tuplebox.RelObjectParent, objKey(id), objKey(newParent)); err != nil {
		return err
	}

	if err := t.forEachSelfAndDescendants(id, func(o moo.Oid) error {
		return t.removePropsFromDefiners(o, removedDefiners)
	}); err != nil {
		return err
	}

	for _, definer := range addedDefiners {
		defs, err := t.propDefs(definer)
		if err != nil {
			return err
		}
		for _, pd := range defs {
			if pd.Definer != definer {
				continue // only the definer's own entries originate new inheritance
			}
			clearCopy := pd
			clearCopy.Clear = true
			if err := t.propagateAdd(id, clearCopy); err != nil {
				return err
			}
		}
	}

	return nil
}

func mustChain(t *Tx, id moo.Oid) []moo.Oid {
	chain, _ := t.ancestorChain(id)
	return chain
}

// isAncestor reports whether id is candidate or appears in candidate's
// ancestor chain — i.e. whether making id a child of candidate would
// create a cycle in ObjectParent.
func (t *Tx) isAncestor(id, candidate moo.Oid) (bool, error) {
	if id == candidate {
		return true, nil
	}
	chain, err := t.ancestorChain(candidate)
	if err != nil {
		return false, err
	}
	for _, a := range chain {
		if a == id {
			return true, nil
		}
	}
	return false, nil
}

func (t *Tx) forEachSelfAndDescendants(id moo.Oid, fn func(moo.Oid) error) error {
	if err := fn(id); err != nil {
		return err
	}
	children, err := t.Children(id)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := t.forEachSelfAndDescendants(c, fn); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) removePropsFromDefiners(id moo.Oid, definers []moo.Oid) error {
	if len(definers) == 0 {
		return nil
	}
	severed := oidSet(definers)
	defs, err := t.propDefs(id)
	if err != nil {
		return err
	}
	var kept []PropDef
	for _, d := range defs {
		if severed[d.Definer] {
			t.tx.RemoveByDomain(tuplebox.RelObjectPropertyValue, propKey(id, d.UUID))
			t.tx.RemoveByDomain(tuplebox.RelObjectPropertyPerms, propKey(id, d.UUID))
			continue
		}
		kept = append(kept, d)
	}
	return t.setPropDefs(id, kept)
}

// removeInheritedProps clears every propdef id inherits through parent,
// used by Recycle before an object's own relation rows are dropped.
func (t *Tx) removeInheritedProps(id, parent moo.Oid) error {
	chain := append([]moo.Oid{parent}, mustChain(t, parent)...)
	return t.removePropsFromDefiners(id, chain)
}
