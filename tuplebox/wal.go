package tuplebox

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// RegisterGobType makes a concrete relation payload type loggable to the
// WAL. gob requires every concrete type that crosses an interface
// boundary (here, the Any = any cell payload) to be registered once;
// callers that store new concrete types in relation cells — worldstate's
// object flags, propdef/verbdef blobs, moo.Value variants — must call
// this from an init() before opening a durable Box.
func RegisterGobType(v any) {
	gob.Register(v)
}

func init() {
	gob.Register(OidKey(0))
	gob.Register(OidUUIDKey{})
}

// walRecordLimit bounds how many change records accumulate in a single
// segment file before a new one is rolled; kept small so checkpointing
// has frequent truncation points.
const walRecordLimit = 4096

// walRecord is the on-disk shape of one logged tuple change, gob-encoded
// and wrapped in a {length, crc32} envelope per spec §6. gob is used
// rather than a schema-driven wire format because this is an internal,
// single-process durability log with no cross-language consumer — there
// is no library in the example pack purpose-built for an ad hoc
// length-prefixed/CRC'd internal log format.
type walRecord struct {
	CommittingTs uint64
	Relation     int
	Op           string // "put" | "delete"
	Key          Any
	Val          Any
}

// wal manages append-only segment files under a directory, named by
// monotonically increasing segment id.
type wal struct {
	mu        sync.Mutex
	dir       string
	seg       *os.File
	segWriter *bufio.Writer
	segID     int
	segCount  int // records written to the current segment
}

func openWAL(dir string) (*wal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tuplebox: create wal dir: %w", err)
	}
	w := &wal{dir: dir}
	nextID, err := nextSegmentID(dir)
	if err != nil {
		return nil, err
	}
	if err := w.rollTo(nextID); err != nil {
		return nil, err
	}
	return w, nil
}

func nextSegmentID(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	max := -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := segmentIDFromName(e.Name())
		if ok && id > max {
			max = id
		}
	}
	return max + 1, nil
}

func segmentName(id int) string { return fmt.Sprintf("%020d.wal", id) }

func segmentIDFromName(name string) (int, bool) {
	if !strings.HasSuffix(name, ".wal") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(name, ".wal"))
	if err != nil {
		return 0, false
	}
	return n, true
}

func (w *wal) rollTo(id int) error {
	if w.segWriter != nil {
		if err := w.segWriter.Flush(); err != nil {
			return err
		}
		w.seg.Close()
	}
	f, err := os.OpenFile(filepath.Join(w.dir, segmentName(id)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("tuplebox: open wal segment: %w", err)
	}
	w.seg = f
	w.segWriter = bufio.NewWriter(f)
	w.segID = id
	w.segCount = 0
	return nil
}

// Append writes one WAL entry per write op, then fsyncs the segment.
func (w *wal) Append(committingTs uint64, ops []writeOp) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, op := range ops {
		rec := walRecord{CommittingTs: committingTs, Relation: int(op.rel), Key: op.key}
		if op.delete {
			rec.Op = "delete"
		} else {
			rec.Op = "put"
			rec.Val = op.val
		}

		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
			return fmt.Errorf("encode wal record: %w", err)
		}
		payload := buf.Bytes()
		checksum := crc32.ChecksumIEEE(payload)

		var header [8]byte
		binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
		binary.LittleEndian.PutUint32(header[4:8], checksum)
		if _, err := w.segWriter.Write(header[:]); err != nil {
			return err
		}
		if _, err := w.segWriter.Write(payload); err != nil {
			return err
		}
		w.segCount++
	}
	if err := w.segWriter.Flush(); err != nil {
		return err
	}
	if err := w.seg.Sync(); err != nil {
		return err
	}
	if w.segCount >= walRecordLimit {
		return w.rollTo(w.segID + 1)
	}
	return nil
}

func (w *wal) SegmentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if _, ok := segmentIDFromName(e.Name()); ok {
			n++
		}
	}
	return n
}

func (w *wal) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.segWriter != nil {
		w.segWriter.Flush()
	}
	if w.seg != nil {
		return w.seg.Close()
	}
	return nil
}

// replaySegments reads every segment in dir newer than afterSegID, in
// segment-id then in-file order, invoking apply for each well-formed
// record. A truncated trailing record (from a crash mid-write) stops
// replay at the last good record for that segment and is reported, not
// treated as fatal, per spec §4.1 "Failure model".
func replaySegments(dir string, afterSegID int, apply func(walRecord)) (truncated bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	var ids []int
	for _, e := range entries {
		if id, ok := segmentIDFromName(e.Name()); ok && id > afterSegID {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	for _, id := range ids {
		segTruncated, err := replaySegment(filepath.Join(dir, segmentName(id)), apply)
		if err != nil {
			return truncated, err
		}
		if segTruncated {
			truncated = true
			break
		}
	}
	return truncated, nil
}

func replaySegment(path string, apply func(walRecord)) (truncated bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var header [8]byte
		if n, err := readFull(r, header[:]); err != nil {
			if n == 0 && err.Error() == "EOF" {
				return false, nil
			}
			return true, nil // short header: truncated record at tail
		}
		length := binary.LittleEndian.Uint32(header[0:4])
		wantCRC := binary.LittleEndian.Uint32(header[4:8])

		payload := make([]byte, length)
		if _, err := readFull(r, payload); err != nil {
			return true, nil
		}
		if crc32.ChecksumIEEE(payload) != wantCRC {
			return true, nil
		}

		var rec walRecord
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&rec); err != nil {
			return true, nil
		}
		apply(rec)
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
