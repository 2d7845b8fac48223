package worldstate

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tupleworld/moo"
	"tupleworld/tuplebox"
)

// propDefs reads the full set of property definitions visible on id: its
// own definitions plus every inherited one, each tagged with the
// defining ancestor and whether the value is stored locally (Clear ==
// false) or inherited (Clear == true). Reparenting (see SetParent) keeps
// this list in sync with the ancestor chain so resolution never has to
// walk Parent itself.
func (t *Tx) propDefs(id moo.Oid) ([]PropDef, error) {
	v, err := t.tx.SeekByDomain(tuplebox.RelObjectPropDefs, objKey(id))
	if err != nil {
		return nil, fmt.Errorf("%w: #%d", ErrObjectNotFound, id)
	}
	return v.([]PropDef), nil
}

func (t *Tx) setPropDefs(id moo.Oid, defs []PropDef) error {
	return t.tx.Upsert(tuplebox.RelObjectPropDefs, objKey(id), defs)
}

func findPropDef(defs []PropDef, name string) (PropDef, bool) {
	for _, d := range defs {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return PropDef{}, false
}

// AddProperty defines a new property on definer and propagates a Clear
// entry to every current descendant (spec §4.2 resolution invariant).
func (t *Tx) AddProperty(definer moo.Oid, name string, initial moo.Value, owner moo.Oid, flags PropFlags) (uuid.UUID, error) {
	defs, err := t.propDefs(definer)
	if err != nil {
		return uuid.UUID{}, err
	}
	if _, exists := findPropDef(defs, name); exists {
		return uuid.UUID{}, fmt.Errorf("%w: property %q on #%d", ErrAlreadyExists, name, definer)
	}

	id := uuid.New()
	pd := PropDef{UUID: id, Definer: definer, Owner: owner, Name: name, Flags: flags, Clear: false}
	defs = append(defs, pd)
	if err := t.setPropDefs(definer, defs); err != nil {
		return uuid.UUID{}, err
	}
	if err := t.tx.Insert(tuplebox.RelObjectPropertyValue, propKey(definer, id), initial); err != nil {
		return uuid.UUID{}, err
	}
	if err := t.tx.Insert(tuplebox.RelObjectPropertyPerms, propKey(definer, id), flags); err != nil {
		return uuid.UUID{}, err
	}

	children, err := t.Children(definer)
	if err != nil {
		return uuid.UUID{}, err
	}
	for _, child := range children {
		if err := t.propagateAdd(child, PropDef{UUID: id, Definer: definer, Owner: owner, Name: name, Flags: flags, Clear: true}); err != nil {
			return uuid.UUID{}, err
		}
	}
	return id, nil
}

func (t *Tx) propagateAdd(id moo.Oid, pd PropDef) error {
	defs, err := t.propDefs(id)
	if err != nil {
		return err
	}
	if _, exists := findPropDef(defs, pd.Name); exists {
		return nil // locally shadowed; leave as-is
	}
	if err := t.setPropDefs(id, append(defs, pd)); err != nil {
		return err
	}
	children, err := t.Children(id)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := t.propagateAdd(child, pd); err != nil {
			return err
		}
	}
	return nil
}

// DeleteProperty removes definer's own property definition and every
// descendant's inherited copy, along with any locally stored values.
func (t *Tx) DeleteProperty(definer moo.Oid, name string) error {
	defs, err := t.propDefs(definer)
	if err != nil {
		return err
	}
	pd, exists := findPropDef(defs, name)
	if !exists || pd.Definer != definer {
		return fmt.Errorf("%w: property %q on #%d", ErrPropertyNotFound, name, definer)
	}

	if err := t.setPropDefs(definer, removePropDef(defs, pd.UUID)); err != nil {
		return err
	}
	t.tx.RemoveByDomain(tuplebox.RelObjectPropertyValue, propKey(definer, pd.UUID))
	t.tx.RemoveByDomain(tuplebox.RelObjectPropertyPerms, propKey(definer, pd.UUID))

	children, err := t.Children(definer)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := t.propagateDelete(child, pd.UUID); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) propagateDelete(id moo.Oid, uid uuid.UUID) error {
	defs, err := t.propDefs(id)
	if err != nil {
		return err
	}
	defs = removePropDef(defs, uid)
	if err := t.setPropDefs(id, defs); err != nil {
		return err
	}
	t.tx.RemoveByDomain(tuplebox.RelObjectPropertyValue, propKey(id, uid))
	t.tx.RemoveByDomain(tuplebox.RelObjectPropertyPerms, propKey(id, uid))

	children, err := t.Children(id)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := t.propagateDelete(child, uid); err != nil {
			return err
		}
	}
	return nil
}

func removePropDef(defs []PropDef, uid uuid.UUID) []PropDef {
	out := make([]PropDef, 0, len(defs))
	for _, d := range defs {
		if d.UUID != uid {
			out = append(out, d)
		}
	}
	return out
}

func propKey(id moo.Oid, uid uuid.UUID) tuplebox.OidUUIDKey {
	return tuplebox.OidUUIDKey{Oid: id, UUID: uid}
}

// GetProperty resolves name on id as seen by reader (spec §4.2 "Property
// resolution"), enforcing read permission or ownership.
func (t *Tx) GetProperty(id moo.Oid, name string, reader moo.Oid) (moo.Value, error) {
	defs, err := t.propDefs(id)
	if err != nil {
		return nil, err
	}
	pd, exists := findPropDef(defs, name)
	if !exists {
		return nil, fmt.Errorf("%w: %q on #%d", ErrPropertyNotFound, name, id)
	}

	if err := t.checkPropRead(pd, reader); err != nil {
		return nil, err
	}

	holder := id
	if pd.Clear {
		holder = pd.Definer
	}
	v, err := t.tx.SeekByDomain(tuplebox.RelObjectPropertyValue, propKey(holder, pd.UUID))
	if err != nil {
		return nil, fmt.Errorf("%w: %q on #%d", ErrPropertyNotFound, name, id)
	}
	return v.(moo.Value), nil
}

// SetProperty stores a new value for name on id, un-clearing the local
// propdef entry (storing locally) if it was previously inherited.
func (t *Tx) SetProperty(id moo.Oid, name string, value moo.Value, writer moo.Oid) error {
	defs, err := t.propDefs(id)
	if err != nil {
		return err
	}
	idx := -1
	for i, d := range defs {
		if strings.EqualFold(d.Name, name) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %q on #%d", ErrPropertyNotFound, name, id)
	}
	pd := defs[idx]
	if err := t.checkPropWrite(pd, writer); err != nil {
		return err
	}

	if pd.Clear {
		defs[idx].Clear = false
		if err := t.setPropDefs(id, defs); err != nil {
			return err
		}
	}
	return t.tx.Upsert(tuplebox.RelObjectPropertyValue, propKey(id, pd.UUID), value)
}

// ListProperties returns every property name visible on id, for the
// list-properties RPC request and the `properties()` builtin surface.
func (t *Tx) ListProperties(id moo.Oid) ([]string, error) {
	defs, err := t.propDefs(id)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names, nil
}

func (t *Tx) checkPropRead(pd PropDef, reader moo.Oid) error {
	if reader == pd.Owner {
		return nil
	}
	isWizard, err := t.isWizard(reader)
	if err != nil {
		return err
	}
	if isWizard {
		return nil
	}
	if pd.Flags&PropRead == 0 {
		return ErrPermissionDenied
	}
	return nil
}

func (t *Tx) checkPropWrite(pd PropDef, writer moo.Oid) error {
	if writer == pd.Owner {
		return nil
	}
	isWizard, err := t.isWizard(writer)
	if err != nil {
		return err
	}
	if isWizard {
		return nil
	}
	if pd.Flags&PropWrite == 0 {
		return ErrPermissionDenied
	}
	return nil
}

func (t *Tx) isWizard(id moo.Oid) (bool, error) {
	if id == moo.Nothing {
		return false, nil
	}
	flags, err := t.Flags(id)
	if err != nil {
		return false, nil
	}
	return flags.Has(FlagWizard), nil
}

// ancestorChain walks Parent from id upward, excluding id itself, root
// last-visited first (immediate parent first).
func (t *Tx) ancestorChain(id moo.Oid) ([]moo.Oid, error) {
	var chain []moo.Oid
	visited := map[moo.Oid]bool{}
	cur, err := t.Parent(id)
	if err != nil {
		return nil, err
	}
	for cur != moo.Nothing && !visited[cur] {
		visited[cur] = true
		chain = append(chain, cur)
		cur, err = t.Parent(cur)
		if err != nil {
			return nil, err
		}
	}
	return chain, nil
}

func oidSet(ids []moo.Oid) map[moo.Oid]bool {
	m := make(map[moo.Oid]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
