// Package tuplebox implements the in-memory MVCC tuple store that backs
// world state: typed binary relations of (domain -> codomain) with
// optional secondary indexes, optimistic transactions, write-ahead
// logging and page checkpointing (spec §4.1).
package tuplebox

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// indexedRelations lists which base relations carry a secondary
// (codomain -> domain) index, per spec §3's relation table.
var indexedRelations = map[RelationID]bool{
	RelObjectParent:   true,
	RelObjectLocation: true,
}

// Box is the MVCC engine: a fixed set of base relations plus a monotonic
// timestamp source, an optional WAL, and a sequence table. All mutation
// happens through Transactions; Box itself only exposes transaction
// creation, sequence operations and persistence lifecycle.
type Box struct {
	log zerolog.Logger

	relations [numBaseRelations]*relation

	tsMu    sync.Mutex
	nextTs  uint64

	seqMu sync.Mutex
	seqs  map[string]uint64

	wal *wal

	maxCommitRetries int
}

// Options configures a Box at construction time.
type Options struct {
	Log zerolog.Logger
	// WALDir, when non-empty, enables durable write-ahead logging to this
	// directory (spec §6 "wal/ directory").
	WALDir string
	// MaxCommitRetries bounds the internal retry loop a commit takes when
	// it loses a lock-acquisition race to a concurrent committer
	// (ContentionConflict); it does not bound VersionConflict, which is
	// never retried internally (spec §4.1 point 4).
	MaxCommitRetries int
}

// New creates an empty Box. If opts.WALDir is set, commits are durably
// logged there; callers that also want checkpoint/replay on startup
// should call Recover before serving traffic.
func New(opts Options) (*Box, error) {
	b := &Box{
		log:              opts.Log,
		seqs:             make(map[string]uint64),
		maxCommitRetries: opts.MaxCommitRetries,
	}
	if b.maxCommitRetries <= 0 {
		b.maxCommitRetries = 3
	}
	for i := RelationID(0); i < numBaseRelations; i++ {
		b.relations[i] = newRelation(i, indexedRelations[i])
	}
	if opts.WALDir != "" {
		w, err := openWAL(opts.WALDir)
		if err != nil {
			return nil, err
		}
		b.wal = w
	}
	return b, nil
}

func (b *Box) relation(id RelationID) *relation {
	return b.relations[id]
}

// Begin starts a new optimistic transaction with a monotonic start
// timestamp (spec §3 "Transaction timestamps").
func (b *Box) Begin() *Transaction {
	return &Transaction{
		box:       b,
		startTs:   b.currentTs(),
		working:   make(map[RelationID]map[Any]*wsEntry),
		transient: make(map[string]*relation),
	}
}

func (b *Box) currentTs() uint64 {
	return atomic.LoadUint64(&b.nextTs)
}

func (b *Box) allocTs() uint64 {
	b.tsMu.Lock()
	defer b.tsMu.Unlock()
	b.nextTs++
	return b.nextTs
}

// Next implements the Sequences relation's next(seq) op: allocate and
// return the next value, starting from 1.
func (b *Box) Next(seq string) uint64 {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()
	b.seqs[seq]++
	return b.seqs[seq]
}

// Current implements current(seq): the last-allocated value without
// advancing it.
func (b *Box) Current(seq string) uint64 {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()
	return b.seqs[seq]
}

// UpdateMax implements update_max(seq, value): raise the sequence's value
// to at least value, used when restoring a checkpoint/dump whose object
// IDs were allocated by a different run.
func (b *Box) UpdateMax(seq string, value uint64) {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()
	if value > b.seqs[seq] {
		b.seqs[seq] = value
	}
}

// Close flushes and closes the WAL, if durability is enabled.
func (b *Box) Close() error {
	if b.wal != nil {
		return b.wal.Close()
	}
	return nil
}

// Stats is a point-in-time snapshot exposed on the metrics endpoint.
type Stats struct {
	TupleCounts  map[string]int
	WALSegments  int
	Sequences    map[string]uint64
}

func (b *Box) Stats() Stats {
	counts := make(map[string]int, numBaseRelations)
	for i := RelationID(0); i < numBaseRelations; i++ {
		r := b.relations[i]
		r.mu.Lock()
		counts[r.id.String()] = len(r.data)
		r.mu.Unlock()
	}
	seqs := make(map[string]uint64)
	b.seqMu.Lock()
	for k, v := range b.seqs {
		seqs[k] = v
	}
	b.seqMu.Unlock()

	segs := 0
	if b.wal != nil {
		segs = b.wal.SegmentCount()
	}
	return Stats{TupleCounts: counts, WALSegments: segs, Sequences: seqs}
}
