// Package wal implements the engine's per-shard write-ahead log: a
// sequence of length-prefixed, CRC-protected records fsynced to disk
// before a mutation is acknowledged, rotated into fixed-size segment
// files, and replayable from a clean recovery point after a crash.
//
// Each record is framed as a 4-byte little-endian length, a 1-byte op
// tag, the payload, and a 4-byte CRC32C trailer. The segment list itself
// is held as an immutable sorted map so readers (replay, stats) never
// race a concurrent rotation.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/immutable"
	"github.com/rs/zerolog"

	"github.com/synapsedb/engine/pkg/log"
	"github.com/synapsedb/engine/pkg/metrics"
)

// OpTag identifies the kind of mutation a record carries.
type OpTag uint8

const (
	OpPutConcept OpTag = iota + 1
	OpTombstoneConcept
	OpPutAssociation
	OpTombstoneAssociation

	// OpBeginTxn, OpPrepareAssociation, OpCommitTxn, and OpAbortTxn record
	// a cross-shard two-phase commit's lifecycle on one participant shard:
	// a transaction begins, stages an association durably (prepared, not
	// yet visible to readers), and is eventually committed or aborted.
	OpBeginTxn
	OpPrepareAssociation
	OpCommitTxn
	OpAbortTxn
)

const (
	headerLen    = 4 + 1 + 8 // length + op + sequence
	trailerLen   = 4         // crc32
	defaultMaxSegmentBytes = 64 << 20
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Record is one decoded WAL entry, returned by Replay.
type Record struct {
	Sequence uint64
	Op       OpTag
	Payload  []byte
}

type segmentInfo struct {
	index int
	path  string
	size  int64
	sealed bool
}

// WAL is a single shard's write-ahead log. Appends are serialized through
// a single writer goroutine's mutex, one WAL thread per shard; the
// segment directory listing is published as an immutable snapshot so
// concurrent Stats/replay callers never observe a half-rotated state.
type WAL struct {
	dir    string
	logger zerolog.Logger
	shard  int

	writeMu        sync.Mutex
	file           *os.File
	writer         *bufio.Writer
	activeIndex    int
	activeSize     int64
	maxSegmentBytes int64
	nextSeq        uint64

	segments atomic.Pointer[immutable.SortedMap[int, segmentInfo]]
}

// Open opens (creating if necessary) the WAL directory for one shard and
// replays existing segments to recover nextSeq. The caller is responsible
// for folding returned records into its own in-memory state; Open itself
// does not interpret record payloads.
func Open(dir string, shard int) (*WAL, []Record, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("wal: create dir: %w", err)
	}

	w := &WAL{
		dir:             dir,
		logger:          log.WithShard(shard),
		shard:           shard,
		maxSegmentBytes: defaultMaxSegmentBytes,
	}
	w.segments.Store(&immutable.SortedMap[int, segmentInfo]{})

	indices, err := existingSegments(dir)
	if err != nil {
		return nil, nil, err
	}

	var records []Record
	segs := w.segments.Load()
	for _, idx := range indices {
		path := segmentPath(dir, idx)
		recs, size, sealed, err := replaySegment(path)
		if err != nil {
			return nil, nil, fmt.Errorf("wal: replay segment %d: %w", idx, err)
		}
		records = append(records, recs...)
		segs = segs.Set(idx, segmentInfo{index: idx, path: path, size: size, sealed: sealed})
		if len(recs) > 0 {
			w.nextSeq = recs[len(recs)-1].Sequence + 1
		}
	}
	w.segments.Store(segs)

	activeIndex := 0
	if len(indices) > 0 {
		activeIndex = indices[len(indices)-1]
	}
	if err := w.openActive(activeIndex); err != nil {
		return nil, nil, err
	}

	return w, records, nil
}

func (w *WAL) openActive(index int) error {
	path := segmentPath(w.dir, index)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal: open active segment: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("wal: stat active segment: %w", err)
	}
	w.file = f
	w.writer = bufio.NewWriter(f)
	w.activeIndex = index
	w.activeSize = info.Size()
	return nil
}

// Append writes one record to the active segment and fsyncs before
// returning, so the caller may safely acknowledge the mutation. A fsync
// failure is treated as fatal by callers: the shard must stop accepting
// writes rather than silently lose durability.
func (w *WAL) Append(op OpTag, payload []byte) (uint64, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	seq := w.nextSeq
	buf := encodeRecord(seq, op, payload)

	if w.activeSize+int64(len(buf)) > w.maxSegmentBytes {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}

	if _, err := w.writer.Write(buf); err != nil {
		return 0, fmt.Errorf("wal: write record: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return 0, fmt.Errorf("wal: flush record: %w", err)
	}

	timer := metrics.NewTimer()
	err := w.file.Sync()
	timer.ObserveDuration(metrics.WALFsyncDuration)
	if err != nil {
		return 0, fmt.Errorf("wal: fsync: %w", err)
	}

	w.activeSize += int64(len(buf))
	w.nextSeq++
	metrics.WALAppendsTotal.WithLabelValues(fmt.Sprint(w.shard)).Inc()
	return seq, nil
}

func (w *WAL) rotateLocked() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal: flush before rotate: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: sync before rotate: %w", err)
	}

	segs := w.segments.Load()
	segs = segs.Set(w.activeIndex, segmentInfo{index: w.activeIndex, path: segmentPath(w.dir, w.activeIndex), size: w.activeSize, sealed: true})
	w.segments.Store(segs)

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal: close sealed segment: %w", err)
	}

	next := w.activeIndex + 1
	if err := w.openActive(next); err != nil {
		return err
	}
	w.logger.Info().Int("segment", next).Msg("wal rotated")
	return nil
}

// Truncate removes sealed segments entirely contained before the given
// sequence number. Engine.Checkpoint is its only caller.
func (w *WAL) Truncate(throughSeq uint64) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	segs := w.segments.Load()
	it := segs.Iterator()
	var toDelete []int
	for !it.Done() {
		idx, info, _ := it.Next()
		if !info.sealed {
			continue
		}
		recs, _, _, err := replaySegment(info.path)
		if err != nil || len(recs) == 0 {
			continue
		}
		if recs[len(recs)-1].Sequence < throughSeq {
			toDelete = append(toDelete, idx)
		}
	}

	for _, idx := range toDelete {
		segs = segs.Delete(idx)
		if err := os.Remove(segmentPath(w.dir, idx)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("wal: remove truncated segment: %w", err)
		}
	}
	w.segments.Store(segs)
	return nil
}

// Close flushes and closes the active segment.
func (w *WAL) Close() error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

func encodeRecord(seq uint64, op OpTag, payload []byte) []byte {
	buf := make([]byte, headerLen+len(payload)+trailerLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	buf[4] = byte(op)
	binary.LittleEndian.PutUint64(buf[5:13], seq)
	copy(buf[headerLen:], payload)
	crc := crc32.Checksum(buf[:headerLen+len(payload)], crcTable)
	binary.LittleEndian.PutUint32(buf[headerLen+len(payload):], crc)
	return buf
}

// replaySegment reads every well-formed record from a segment file. A torn
// tail (partial record left by a crash mid-write) stops replay cleanly at
// the last good record rather than erroring; the segment is reported
// sealed only if no torn tail was found.
func replaySegment(path string) ([]Record, int64, bool, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, 0, true, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var records []Record
	var offset int64
	sealed := true

	for {
		header := make([]byte, headerLen)
		n, err := io.ReadFull(r, header)
		if err == io.EOF {
			break
		}
		if err != nil || n < headerLen {
			sealed = false
			break
		}

		payloadLen := binary.LittleEndian.Uint32(header[0:4])
		op := OpTag(header[4])
		seq := binary.LittleEndian.Uint64(header[5:13])

		rest := make([]byte, int(payloadLen)+trailerLen)
		if _, err := io.ReadFull(r, rest); err != nil {
			sealed = false
			break
		}

		payload := rest[:payloadLen]
		wantCRC := binary.LittleEndian.Uint32(rest[payloadLen:])
		got := crc32.Checksum(append(append([]byte{}, header...), payload...), crcTable)
		if got != wantCRC {
			sealed = false
			break
		}

		records = append(records, Record{Sequence: seq, Op: op, Payload: payload})
		offset += int64(headerLen + len(rest))
	}

	return records, offset, sealed, nil
}

func segmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%010d.wal", index))
}

func existingSegments(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("wal: read dir: %w", err)
	}
	var indices []int
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".wal" {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(e.Name(), "%010d.wal", &idx); err == nil {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)
	return indices, nil
}
