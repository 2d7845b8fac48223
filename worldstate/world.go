package worldstate

import (
	"tupleworld/moo"
	"tupleworld/tuplebox"
)

func init() {
	tuplebox.RegisterGobType(ObjectFlags(0))
	tuplebox.RegisterGobType("")
	tuplebox.RegisterGobType([]VerbDef{})
	tuplebox.RegisterGobType([]PropDef{})
	tuplebox.RegisterGobType(moo.Int{})
	tuplebox.RegisterGobType(moo.Float{})
	tuplebox.RegisterGobType(moo.Str{})
	tuplebox.RegisterGobType(moo.Obj{})
	tuplebox.RegisterGobType(moo.List{})
	tuplebox.RegisterGobType(moo.Map{})
	tuplebox.RegisterGobType(moo.Err{})
	tuplebox.RegisterGobType(moo.NoneValue{})
	tuplebox.RegisterGobType([]byte{})
}

// World is the schema layer's handle on a tuplebox Box: the fixed
// mapping from the relations of spec §3 to domain operations.
type World struct {
	box *tuplebox.Box
}

func New(box *tuplebox.Box) *World {
	return &World{box: box}
}

func (w *World) Box() *tuplebox.Box { return w.box }

// Begin opens a WorldState transaction.
func (w *World) Begin() *Tx {
	return &Tx{tx: w.box.Begin(), world: w}
}

// Tx is a WorldState-level transaction: tuplebox operations plus the
// domain invariants and resolution algorithms of spec §4.2.
type Tx struct {
	tx    *tuplebox.Transaction
	world *World
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback()       { t.tx.Rollback() }
func (t *Tx) Unwrap() *tuplebox.Transaction { return t.tx }

func objKey(id moo.Oid) tuplebox.OidKey { return tuplebox.OidKey(id) }
