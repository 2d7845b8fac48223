package tuplebox

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Checkpoint writes a full page image of every base relation to pagesDir,
// named "{relation-id}-{page-id}-{ts}" per spec §6. Each relation is a
// single page in this implementation (relations here are in-memory maps,
// not the paged original); "page-id" is always 0, kept in the name for
// layout compatibility with the spec's on-disk naming scheme.
func (b *Box) Checkpoint(pagesDir string) error {
	if err := os.MkdirAll(pagesDir, 0o755); err != nil {
		return fmt.Errorf("tuplebox: create pages dir: %w", err)
	}
	ts := b.currentTs()

	for i := RelationID(0); i < numBaseRelations; i++ {
		r := b.relations[i]
		snapshot := r.snapshot()

		var buf bytes.Buffer
		enc := gob.NewEncoder(&buf)
		if err := enc.Encode(snapshot); err != nil {
			return fmt.Errorf("tuplebox: encode checkpoint page for %s: %w", r.id, err)
		}

		name := fmt.Sprintf("%d-0-%d", int(i), ts)
		path := filepath.Join(pagesDir, name)
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("tuplebox: write checkpoint page: %w", err)
		}
	}

	b.pruneSegmentsBefore(ts)
	return nil
}

// pruneSegmentsBefore deletes WAL segments wholly older than a
// checkpoint, per spec §4.1 "truncates WAL segments older than the
// checkpoint". Best-effort: failures are not fatal, since a future
// checkpoint will retry the truncation.
func (b *Box) pruneSegmentsBefore(ts uint64) {
	if b.wal == nil {
		return
	}
	b.wal.mu.Lock()
	defer b.wal.mu.Unlock()

	entries, err := os.ReadDir(b.wal.dir)
	if err != nil {
		b.log.Warn().Err(err).Str("dir", b.wal.dir).Msg("tuplebox: listing wal dir for pruning failed, will retry at next checkpoint")
		return
	}
	for _, e := range entries {
		id, ok := segmentIDFromName(e.Name())
		if !ok || id >= b.wal.segID {
			continue // never delete the live segment
		}
		if err := os.Remove(filepath.Join(b.wal.dir, e.Name())); err != nil {
			b.log.Warn().Err(err).Str("segment", e.Name()).Msg("tuplebox: pruning wal segment failed, will retry at next checkpoint")
		}
	}
}

// Recover loads the newest checkpoint under pagesDir (if any), then
// replays WAL segments under walDir newer than that checkpoint's
// timestamp, in timestamp order, per spec §4.1 "Persistence". It reports
// whether replay stopped early due to detected corruption, which the
// caller should surface to the operator rather than treat as fatal.
func (b *Box) Recover(pagesDir, walDir string) (truncated bool, err error) {
	checkpointTs, err := b.loadNewestCheckpoint(pagesDir)
	if err != nil {
		return false, err
	}

	// Checkpoint pruning (Checkpoint, above) already deletes every WAL
	// segment wholly older than the checkpoint it just wrote, so replay
	// can safely start from the oldest *retained* segment rather than
	// tracking a precise segment-id cutoff; applyRecoveredRecord further
	// guards against double-applying a record the checkpoint page
	// already reflects at a higher timestamp.
	truncated, err = replaySegments(walDir, -1, func(rec walRecord) {
		b.applyRecoveredRecord(rec)
	})
	if err != nil {
		return false, err
	}
	if truncated {
		b.log.Warn().Str("wal_dir", walDir).Msg("tuplebox: wal replay stopped early on a truncated trailing record")
	}
	if checkpointTs > b.currentTs() {
		b.nextTs = checkpointTs
	}
	return truncated, nil
}

func (b *Box) applyRecoveredRecord(rec walRecord) {
	r := b.relations[RelationID(rec.Relation)]
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, hadExisting := r.data[rec.Key]
	if hadExisting && existing.ts > rec.CommittingTs {
		return // checkpoint page already reflects a newer write
	}

	if rec.Op == "delete" {
		delete(r.data, rec.Key)
		if r.indexed && hadExisting {
			r.removeIndexLocked(rec.Key, existing.val)
		}
		return
	}

	r.data[rec.Key] = record{val: rec.Val, ts: rec.CommittingTs}
	if r.indexed {
		var oldCodomain Any
		if hadExisting {
			oldCodomain = existing.val
		}
		r.reindexLocked(rec.Key, oldCodomain, hadExisting, rec.Val)
	}
	if rec.CommittingTs > b.currentTs() {
		b.nextTs = rec.CommittingTs
	}
}

func (b *Box) loadNewestCheckpoint(pagesDir string) (uint64, error) {
	entries, err := os.ReadDir(pagesDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	// Group page filenames "{relation}-{page}-{ts}" by ts, find the
	// newest ts that has a page for every relation.
	byTs := make(map[uint64]map[int]string)
	for _, e := range entries {
		parts := strings.SplitN(e.Name(), "-", 3)
		if len(parts) != 3 {
			continue
		}
		relID, err1 := strconv.Atoi(parts[0])
		ts, err2 := strconv.ParseUint(parts[2], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if byTs[ts] == nil {
			byTs[ts] = make(map[int]string)
		}
		byTs[ts][relID] = e.Name()
	}

	var candidates []uint64
	for ts, pages := range byTs {
		if len(pages) == int(numBaseRelations) {
			candidates = append(candidates, ts)
		}
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] > candidates[j] })
	newest := candidates[0]

	for relID, name := range byTs[newest] {
		data, err := os.ReadFile(filepath.Join(pagesDir, name))
		if err != nil {
			return 0, fmt.Errorf("tuplebox: read checkpoint page %s: %w", name, err)
		}
		var page map[Any]record
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&page); err != nil {
			return 0, fmt.Errorf("tuplebox: decode checkpoint page %s: %w", name, err)
		}
		r := b.relations[RelationID(relID)]
		r.mu.Lock()
		r.data = page
		if r.indexed {
			r.inverse = make(map[Any]map[Any]struct{})
			for k, rec := range page {
				r.reindexLocked(k, nil, false, rec.val)
			}
		}
		r.mu.Unlock()
	}

	return newest, nil
}
