package tuplebox

import (
	"fmt"
	"sort"
)

// wsKind tags what a working-set entry represents relative to the base
// relation, per spec §4.1 "Working set".
type wsKind int

const (
	wsCached   wsKind = iota // read-through cache of a base value
	wsInserted               // new tuple, absent from base at read time
	wsUpdated                // overwrite of an existing base tuple
	wsTombstone              // deletion of an existing base tuple
)

type wsEntry struct {
	val     Any
	kindTag wsKind
	baseTs  uint64 // timestamp observed when this entry was created
	hadBase bool   // true if a base tuple existed when we looked
	origVal Any    // tombstone only: the value being deleted, for undo
}

// Transaction is a single optimistic MVCC transaction against a Box. It is
// not safe for concurrent use by multiple goroutines.
type Transaction struct {
	box     *Box
	startTs uint64

	working   map[RelationID]map[Any]*wsEntry
	transient map[string]*relation

	closed bool
}

func (tx *Transaction) wsFor(rel RelationID) map[Any]*wsEntry {
	m, ok := tx.working[rel]
	if !ok {
		m = make(map[Any]*wsEntry)
		tx.working[rel] = m
	}
	return m
}

// SeekByDomain reads the value for key in rel, honoring this
// transaction's own uncommitted writes.
func (tx *Transaction) SeekByDomain(rel RelationID, key Any) (Any, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	ws := tx.wsFor(rel)
	if e, ok := ws[key]; ok {
		if e.kindTag == wsTombstone {
			return nil, ErrNotFound
		}
		return e.val, nil
	}

	r := tx.box.relation(rel)
	rec, ok := r.read(key)
	if !ok {
		return nil, ErrNotFound
	}
	ws[key] = &wsEntry{kindTag: wsCached, val: rec.val, baseTs: rec.ts, hadBase: true}
	return rec.val, nil
}

// SeekByCodomain returns every domain key currently mapped to codomain on
// an indexed relation. Read-your-own-writes: the transaction's own
// uncommitted inserts/updates/tombstones are folded in over the
// committed inverse index.
func (tx *Transaction) SeekByCodomain(rel RelationID, codomain Any) ([]Any, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	r := tx.box.relation(rel)
	if !r.indexed {
		return nil, ErrNotIndexed
	}

	r.mu.Lock()
	result := make(map[Any]struct{})
	if set, ok := r.inverse[codomain]; ok {
		for k := range set {
			result[k] = struct{}{}
		}
	}
	r.mu.Unlock()

	for k, e := range tx.wsFor(rel) {
		switch e.kindTag {
		case wsTombstone:
			delete(result, k)
		case wsInserted, wsUpdated:
			if e.val == codomain {
				result[k] = struct{}{}
			} else {
				delete(result, k)
			}
		}
	}

	out := make([]Any, 0, len(result))
	for k := range result {
		out = append(out, k)
	}
	return out, nil
}

// Insert adds a new tuple. Fails ErrDuplicate if one is already visible
// to this transaction.
func (tx *Transaction) Insert(rel RelationID, key Any, val Any) error {
	if tx.closed {
		return ErrTxClosed
	}
	if _, err := tx.SeekByDomain(rel, key); err == nil {
		return ErrDuplicate
	} else if err != ErrNotFound {
		return err
	}
	ws := tx.wsFor(rel)
	prior := ws[key] // nil unless this transaction already holds a tombstone for key
	ws[key] = &wsEntry{kindTag: wsInserted, val: val, baseTs: tsOf(prior), hadBase: false}
	return nil
}

func tsOf(e *wsEntry) uint64 {
	if e == nil {
		return 0
	}
	return e.baseTs
}

// Update overwrites an existing tuple. Fails ErrNotFound if absent.
func (tx *Transaction) Update(rel RelationID, key Any, val Any) error {
	if tx.closed {
		return ErrTxClosed
	}
	if _, err := tx.SeekByDomain(rel, key); err != nil {
		return err
	}
	ws := tx.wsFor(rel)
	prior := ws[key]
	ws[key] = &wsEntry{kindTag: wsUpdated, val: val, baseTs: tsOf(prior), hadBase: prior.hadBase}
	return nil
}

// Upsert writes val to key regardless of prior existence.
func (tx *Transaction) Upsert(rel RelationID, key Any, val Any) error {
	if tx.closed {
		return ErrTxClosed
	}
	_, err := tx.SeekByDomain(rel, key) // populate cache entry for baseTs tracking
	ws := tx.wsFor(rel)
	prior := ws[key]
	hadBase := err == nil && prior != nil && prior.hadBase
	ws[key] = &wsEntry{kindTag: wsUpdated, val: val, baseTs: tsOf(prior), hadBase: hadBase}
	return nil
}

// RemoveByDomain tombstones key. It is not an error to remove a key that
// is already absent.
func (tx *Transaction) RemoveByDomain(rel RelationID, key Any) error {
	if tx.closed {
		return ErrTxClosed
	}
	_, err := tx.SeekByDomain(rel, key)
	ws := tx.wsFor(rel)
	prior := ws[key]
	if err == ErrNotFound && (prior == nil || !prior.hadBase) {
		delete(ws, key)
		return nil
	}
	var origVal Any
	if prior != nil {
		origVal = prior.val
	}
	ws[key] = &wsEntry{kindTag: wsTombstone, baseTs: tsOf(prior), hadBase: true, origVal: origVal}
	return nil
}

// PredicateScan iterates every tuple visible to this transaction in rel,
// invoking pred(key, val) and collecting those for which it returns true.
func (tx *Transaction) PredicateScan(rel RelationID, pred func(key, val Any) bool) []Any {
	r := tx.box.relation(rel)
	base := r.snapshot()
	ws := tx.working[rel]

	seen := make(map[Any]bool, len(base))
	var out []Any
	for k, rec := range base {
		if e, ok := ws[k]; ok {
			seen[k] = true
			if e.kindTag == wsTombstone {
				continue
			}
			if pred(k, e.val) {
				out = append(out, k)
			}
			continue
		}
		if pred(k, rec.val) {
			out = append(out, k)
		}
	}
	for k, e := range ws {
		if seen[k] || e.kindTag == wsTombstone || e.kindTag == wsCached {
			continue
		}
		if pred(k, e.val) {
			out = append(out, k)
		}
	}
	return out
}

// NewTransientRelation returns a handle to a tx-local relation with the
// same seek/insert/update/remove/scan API, never persisted and discarded
// on commit or rollback.
func (tx *Transaction) NewTransientRelation(name string) *TransientRelation {
	r, ok := tx.transient[name]
	if !ok {
		r = newRelation(-1, false)
		tx.transient[name] = r
	}
	return &TransientRelation{r: r}
}

// TransientRelation exposes the base tuple operations over a tx-local,
// non-indexed, non-persistent relation.
type TransientRelation struct{ r *relation }

func (t *TransientRelation) Seek(key Any) (Any, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	rec, ok := t.r.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.val, nil
}

func (t *TransientRelation) Insert(key, val Any) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	if _, ok := t.r.data[key]; ok {
		return ErrDuplicate
	}
	t.r.data[key] = record{val: val}
	return nil
}

func (t *TransientRelation) Upsert(key, val Any) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	t.r.data[key] = record{val: val}
}

func (t *TransientRelation) Remove(key Any) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	delete(t.r.data, key)
}

func (t *TransientRelation) Scan(pred func(key, val Any) bool) []Any {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	var out []Any
	for k, rec := range t.r.data {
		if pred(k, rec.val) {
			out = append(out, k)
		}
	}
	return out
}

// Rollback discards this transaction's working set. No base relation was
// ever mutated before Commit succeeds, so rollback is simply dropping
// transaction-local state.
func (tx *Transaction) Rollback() {
	tx.closed = true
	tx.working = nil
	tx.transient = nil
}

// writeOp is a single change destined for the WAL, recorded at commit
// time after validation passes and before it is applied in memory.
type writeOp struct {
	rel    RelationID
	key    Any
	val    Any
	delete bool
}

// Commit validates and installs every write in this transaction's
// working set, per spec §4.1's four-step commit protocol. It returns
// ErrVersionConflict if a read/write was invalidated by a concurrent
// committer (never retried here — the caller, typically the scheduler,
// must replay the whole transaction), or ErrContentionConflict if commit
// lost a bounded number of races just acquiring relation locks (retried
// internally up to Box.maxCommitRetries before surfacing to the caller).
func (tx *Transaction) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	defer func() { tx.closed = true }()

	var lastErr error
	for attempt := 0; attempt <= tx.box.maxCommitRetries; attempt++ {
		err := tx.tryCommit()
		if err == nil {
			return nil
		}
		if err != ErrContentionConflict {
			return err
		}
		lastErr = err
	}
	tx.box.log.Warn().Int("retries", tx.box.maxCommitRetries).Msg("tuplebox: commit gave up after exhausting contention retries")
	return lastErr
}

func (tx *Transaction) tryCommit() error {
	// Deterministic relation lock order avoids commit-commit deadlock
	// (spec §5 "Commit acquires locks in a deterministic relation order").
	var touched []RelationID
	for rel, ws := range tx.working {
		hasWrite := false
		for _, e := range ws {
			if e.kindTag != wsCached {
				hasWrite = true
				break
			}
		}
		if hasWrite {
			touched = append(touched, rel)
		}
	}
	sort.Slice(touched, func(i, j int) bool { return touched[i] < touched[j] })

	locked := make([]*relation, 0, len(touched))
	for _, rel := range touched {
		r := tx.box.relation(rel)
		if !r.mu.TryLock() {
			for _, l := range locked {
				l.mu.Unlock()
			}
			return ErrContentionConflict
		}
		locked = append(locked, r)
	}
	defer func() {
		for _, l := range locked {
			l.mu.Unlock()
		}
	}()

	// Step 1-2: re-read canonical base under lock, compare timestamps.
	for _, rel := range touched {
		r := tx.box.relation(rel)
		for key, e := range tx.working[rel] {
			if e.kindTag == wsCached {
				continue
			}
			rec, exists := r.data[key]
			switch e.kindTag {
			case wsInserted:
				if exists {
					return fmt.Errorf("%w: insert raced with concurrent insert on %s", ErrVersionConflict, rel)
				}
			default: // wsUpdated, wsTombstone
				if !exists || rec.ts != e.baseTs {
					return fmt.Errorf("%w: stale read on %s", ErrVersionConflict, rel)
				}
			}
		}
	}

	// Step 3: install, with secondary index maintenance.
	newTs := tx.box.allocTs()
	var ops []writeOp
	for _, rel := range touched {
		r := tx.box.relation(rel)
		for key, e := range tx.working[rel] {
			if e.kindTag == wsCached {
				continue
			}
			if e.kindTag == wsTombstone {
				old, hadOld := r.data[key]
				delete(r.data, key)
				if r.indexed && hadOld {
					r.removeIndexLocked(key, old.val)
				}
				ops = append(ops, writeOp{rel: rel, key: key, delete: true})
				continue
			}
			old, hadOld := r.data[key]
			r.data[key] = record{val: e.val, ts: newTs}
			if r.indexed {
				var oldCodomain Any
				if hadOld {
					oldCodomain = old.val
				}
				r.reindexLocked(key, oldCodomain, hadOld, e.val)
			}
			ops = append(ops, writeOp{rel: rel, key: key, val: e.val})
		}
	}

	// Step 4: append to WAL before releasing locks.
	if tx.box.wal != nil && len(ops) > 0 {
		if err := tx.box.wal.Append(newTs, ops); err != nil {
			// Roll back the in-memory installs we just made: a durable
			// write failure must not leave committed-looking state.
			tx.box.log.Error().Err(err).Uint64("ts", newTs).Int("ops", len(ops)).Msg("tuplebox: wal append failed, undoing in-memory commit")
			tx.undo(touched, ops)
			return fmt.Errorf("%w: %v", ErrDurableWriteFailed, err)
		}
	}

	return nil
}

// undo reverts the in-memory installs performed by a commit attempt whose
// WAL append failed, restoring each touched relation's prior record (or
// absence) for every key this transaction wrote.
func (tx *Transaction) undo(touched []RelationID, ops []writeOp) {
	for _, rel := range touched {
		r := tx.box.relation(rel)
		for key, e := range tx.working[rel] {
			if e.kindTag == wsCached {
				continue
			}
			installed, wasInstalled := r.data[key]
			if e.hadBase {
				restoreVal := e.val
				if e.kindTag == wsTombstone {
					restoreVal = e.origVal
				}
				r.data[key] = record{val: restoreVal, ts: e.baseTs}
				if r.indexed {
					var installedCodomain Any
					if wasInstalled {
						installedCodomain = installed.val
					}
					r.reindexLocked(key, installedCodomain, wasInstalled, restoreVal)
				}
			} else {
				delete(r.data, key)
				if r.indexed && wasInstalled {
					r.removeIndexLocked(key, installed.val)
				}
			}
		}
	}
}
