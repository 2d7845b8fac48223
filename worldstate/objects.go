package worldstate

import (
	"fmt"

	"tupleworld/moo"
	"tupleworld/tuplebox"
)

// CreateObject allocates a new OID from the shared sequence, installs its
// required base tuples (spec §3 "Every live OID has entries in
// ObjectFlags, ObjectName, ObjectOwner"), and makes it a child of parent
// (moo.Nothing for no parent) located nowhere.
func (t *Tx) CreateObject(name string, owner, parent moo.Oid) (moo.Oid, error) {
	id := moo.Oid(t.world.box.Next("oid"))

	if err := t.tx.Insert(tuplebox.RelObjectFlags, objKey(id), ObjectFlags(0)); err != nil {
		return 0, err
	}
	if err := t.tx.Insert(tuplebox.RelObjectName, objKey(id), name); err != nil {
		return 0, err
	}
	if err := t.tx.Insert(tuplebox.RelObjectOwner, objKey(id), owner); err != nil {
		return 0, err
	}
	if err := t.tx.Insert(tuplebox.RelObjectLocation, objKey(id), objKey(moo.Nothing)); err != nil {
		return 0, err
	}
	if err := t.tx.Insert(tuplebox.RelObjectVerbs, objKey(id), []VerbDef{}); err != nil {
		return 0, err
	}
	if err := t.tx.Insert(tuplebox.RelObjectPropDefs, objKey(id), []PropDef{}); err != nil {
		return 0, err
	}

	if parent != moo.Nothing {
		if err := t.SetParent(id, parent); err != nil {
			return 0, err
		}
	} else {
		if err := t.tx.Insert(tuplebox.RelObjectParent, objKey(id), objKey(moo.Nothing)); err != nil {
			return 0, err
		}
	}

	return id, nil
}

// ObjectExists reports whether id has a live ObjectFlags entry.
func (t *Tx) ObjectExists(id moo.Oid) bool {
	if id < 0 {
		return false
	}
	_, err := t.tx.SeekByDomain(tuplebox.RelObjectFlags, objKey(id))
	return err == nil
}

func (t *Tx) requireExists(id moo.Oid) error {
	if !t.ObjectExists(id) {
		return fmt.Errorf("%w: #%d", ErrObjectNotFound, id)
	}
	return nil
}

func (t *Tx) Name(id moo.Oid) (string, error) {
	if err := t.requireExists(id); err != nil {
		return "", err
	}
	v, err := t.tx.SeekByDomain(tuplebox.RelObjectName, objKey(id))
	if err != nil {
		return "", fmt.Errorf("%w: #%d", ErrObjectNotFound, id)
	}
	return v.(string), nil
}

func (t *Tx) SetName(id moo.Oid, name string) error {
	if err := t.requireExists(id); err != nil {
		return err
	}
	return t.tx.Update(tuplebox.RelObjectName, objKey(id), name)
}

func (t *Tx) Owner(id moo.Oid) (moo.Oid, error) {
	if err := t.requireExists(id); err != nil {
		return moo.Nothing, err
	}
	v, err := t.tx.SeekByDomain(tuplebox.RelObjectOwner, objKey(id))
	if err != nil {
		return moo.Nothing, fmt.Errorf("%w: #%d", ErrObjectNotFound, id)
	}
	return v.(moo.Oid), nil
}

func (t *Tx) SetOwner(id, owner moo.Oid) error {
	if err := t.requireExists(id); err != nil {
		return err
	}
	return t.tx.Update(tuplebox.RelObjectOwner, objKey(id), owner)
}

func (t *Tx) Flags(id moo.Oid) (ObjectFlags, error) {
	if err := t.requireExists(id); err != nil {
		return 0, err
	}
	v, err := t.tx.SeekByDomain(tuplebox.RelObjectFlags, objKey(id))
	if err != nil {
		return 0, fmt.Errorf("%w: #%d", ErrObjectNotFound, id)
	}
	return v.(ObjectFlags), nil
}

func (t *Tx) SetFlags(id moo.Oid, flags ObjectFlags) error {
	if err := t.requireExists(id); err != nil {
		return err
	}
	return t.tx.Update(tuplebox.RelObjectFlags, objKey(id), flags)
}

func (t *Tx) Parent(id moo.Oid) (moo.Oid, error) {
	if err := t.requireExists(id); err != nil {
		return moo.Nothing, err
	}
	v, err := t.tx.SeekByDomain(tuplebox.RelObjectParent, objKey(id))
	if err != nil {
		return moo.Nothing, nil
	}
	return moo.Oid(v.(tuplebox.OidKey)), nil
}

// Children returns every object whose ObjectParent points at id, via the
// secondary index.
func (t *Tx) Children(id moo.Oid) ([]moo.Oid, error) {
	keys, err := t.tx.SeekByCodomain(tuplebox.RelObjectParent, objKey(id))
	if err != nil {
		return nil, err
	}
	return toOids(keys), nil
}

func (t *Tx) Location(id moo.Oid) (moo.Oid, error) {
	if err := t.requireExists(id); err != nil {
		return moo.Nothing, err
	}
	v, err := t.tx.SeekByDomain(tuplebox.RelObjectLocation, objKey(id))
	if err != nil {
		return moo.Nothing, nil
	}
	return moo.Oid(v.(tuplebox.OidKey)), nil
}

// Contents returns every object whose ObjectLocation points at id.
func (t *Tx) Contents(id moo.Oid) ([]moo.Oid, error) {
	keys, err := t.tx.SeekByCodomain(tuplebox.RelObjectLocation, objKey(id))
	if err != nil {
		return nil, err
	}
	return toOids(keys), nil
}

func toOids(keys []tuplebox.Any) []moo.Oid {
	out := make([]moo.Oid, 0, len(keys))
	for _, k := range keys {
		out = append(out, moo.Oid(k.(tuplebox.OidKey)))
	}
	return out
}

// Move relocates id into dest, failing with ErrRecursiveMove if dest is
// id itself or already transitively contained within id (spec §4.2
// "Move").
func (t *Tx) Move(id, dest moo.Oid) error {
	if err := t.requireExists(id); err != nil {
		return err
	}
	if dest != moo.Nothing {
		if err := t.requireExists(dest); err != nil {
			return err
		}
	}
	if dest == id {
		return ErrRecursiveMove
	}
	if dest != moo.Nothing {
		isContainee, err := t.transitivelyContains(id, dest)
		if err != nil {
			return err
		}
		if isContainee {
			return ErrRecursiveMove
		}
	}
	return t.tx.Upsert(tuplebox.RelObjectLocation, objKey(id), objKey(dest))
}

// transitivelyContains reports whether candidate is id or a transitive
// containee of id (walking Location, not Parent).
func (t *Tx) transitivelyContains(id, candidate moo.Oid) (bool, error) {
	visited := map[moo.Oid]bool{}
	queue := []moo.Oid{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if cur == candidate {
			return true, nil
		}
		contents, err := t.Contents(cur)
		if err != nil {
			return false, err
		}
		queue = append(queue, contents...)
	}
	return false, nil
}

// Recycle removes an object's base tuples. Per spec §3 "#-1 has no
// entries", a recycled object's OID reverts to looking unallocated.
// Existing references to it elsewhere are left as dangling OIDs for the
// caller to detect via ObjectExists — consistent with the teacher
// store's "recycled identifiers are not reused" allocation policy.
func (t *Tx) Recycle(id moo.Oid) error {
	if err := t.requireExists(id); err != nil {
		return err
	}

	parent, _ := t.Parent(id)
	if parent != moo.Nothing {
		if err := t.removeInheritedProps(id, parent); err != nil {
			return err
		}
	}

	for _, rel := range []tuplebox.RelationID{
		tuplebox.RelObjectFlags, tuplebox.RelObjectName, tuplebox.RelObjectOwner,
		tuplebox.RelObjectParent, tuplebox.RelObjectLocation,
		tuplebox.RelObjectVerbs, tuplebox.RelObjectPropDefs,
	} {
		if err := t.tx.RemoveByDomain(rel, objKey(id)); err != nil {
			return err
		}
	}
	return nil
}
