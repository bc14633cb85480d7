package engine

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/synapsedb/engine/pkg/hnsw"
	"github.com/synapsedb/engine/pkg/index"
	"github.com/synapsedb/engine/pkg/log"
	"github.com/synapsedb/engine/pkg/memory"
	"github.com/synapsedb/engine/pkg/metrics"
	"github.com/synapsedb/engine/pkg/segment"
	"github.com/synapsedb/engine/pkg/types"
	"github.com/synapsedb/engine/pkg/vector"
	"github.com/synapsedb/engine/pkg/wal"
)

// maxNeighboursPerConcept is the hard cap on indexed outgoing associations
// for one source concept, enforced at the adjacency index regardless of
// what an upstream ingest pipeline's own soft per-concept limit allows.
const maxNeighboursPerConcept = 256

// shard owns one partition's full stack: WAL, segment manifest and
// compactor, the four in-memory indexes, the vector store and HNSW
// graph, and the write-log/reconciler pair that publishes the
// read-consistent snapshot every other operation reads from.
type shard struct {
	id     int
	logger zerolog.Logger

	wal       *wal.WAL
	manifest  *segment.Manifest
	compactor *segment.Compactor

	concepts   *index.ConceptIndex
	adjacency  *index.AdjacencyIndex
	words      *index.WordIndex
	temporal   *index.TemporalIndex
	vectors    *vector.Store
	graph      *hnsw.Graph

	writes      *memory.WriteLog
	reconciler  *memory.Reconciler

	assocSeq atomic.Uint64

	walAppends      atomic.Uint64
	walDropped      atomic.Uint64
	reconciliations atomic.Uint64

	readOnlyMu sync.RWMutex
	readOnly   bool

	pendingMu sync.Mutex
	pending   map[string]types.Association
}

func openShard(id int, dataDir string, vecCfg vector.Config, hnswCfg hnsw.Config, minInterval, maxInterval time.Duration) (*shard, error) {
	shardDir := filepath.Join(dataDir, fmt.Sprintf("shard-%d", id))
	walDir := filepath.Join(shardDir, "wal")
	segDir := filepath.Join(shardDir, "segments")

	w, records, err := wal.Open(walDir, id)
	if err != nil {
		return nil, fmt.Errorf("engine: open wal for shard %d: %w", id, err)
	}

	manifest, err := segment.OpenManifest(segDir)
	if err != nil {
		return nil, fmt.Errorf("engine: open manifest for shard %d: %w", id, err)
	}

	vecStore, err := vector.NewStore(vecCfg)
	if err != nil {
		return nil, fmt.Errorf("engine: create vector store for shard %d: %w", id, err)
	}

	s := &shard{
		id:         id,
		logger:     log.WithShard(id),
		wal:        w,
		manifest:   manifest,
		compactor:  segment.NewCompactor(id, segDir, manifest),
		concepts:   index.NewConceptIndex(),
		adjacency:  index.NewAdjacencyIndex(),
		words:      index.NewWordIndex(),
		temporal:   index.NewTemporalIndex(),
		vectors:    vecStore,
		graph:      hnsw.New(hnswCfg),
		writes:     memory.NewWriteLog(0),
		pending:    make(map[string]types.Association),
	}
	s.reconciler = memory.NewReconciler(id, s.writes, minInterval, maxInterval, s.onReconcileTruncate)

	for _, rec := range records {
		if err := s.replayRecord(rec); err != nil {
			return nil, fmt.Errorf("engine: replay shard %d: %w", id, err)
		}
	}
	s.reconciler.ForceCycle()

	return s, nil
}

// walConceptPayload and walAssociationPayload are the gob-encoded shapes
// written to the WAL and read back on replay; kept distinct from
// types.Concept/types.Association so the wire shape can evolve
// independently of the in-memory model if it ever needs to.
type walConceptPayload struct {
	Concept     types.Concept
	Tombstone   bool
}

type walAssociationPayload struct {
	Assoc     types.Association
	Tombstone bool
}

// walTxnPayload is the gob-encoded shape of an OpBeginTxn, OpCommitTxn, or
// OpAbortTxn record: just the transaction id the record marks.
type walTxnPayload struct {
	TxID string
}

// walPrepareAssociationPayload is the gob-encoded shape of an
// OpPrepareAssociation record: the transaction id plus the full
// association the shard has staged, durable before Prepare returns so a
// crash before Commit/Abort leaves a trace recovery can act on. Assoc's
// own Tombstoned field carries whether this prepare represents an
// add_association or a remove_association, since Prepare's signature is
// shared by both call paths.
type walPrepareAssociationPayload struct {
	TxID  string
	Assoc types.Association
}

func (s *shard) replayRecord(rec wal.Record) error {
	switch rec.Op {
	case wal.OpPutConcept, wal.OpTombstoneConcept:
		var p walConceptPayload
		if err := gob.NewDecoder(bytes.NewReader(rec.Payload)).Decode(&p); err != nil {
			return fmt.Errorf("decode concept record: %w", err)
		}
		if p.Tombstone {
			return s.writes.TombstoneConcept(p.Concept.ID)
		}
		return s.writes.PutConcept(p.Concept)
	case wal.OpPutAssociation, wal.OpTombstoneAssociation:
		var p walAssociationPayload
		if err := gob.NewDecoder(bytes.NewReader(rec.Payload)).Decode(&p); err != nil {
			return fmt.Errorf("decode association record: %w", err)
		}
		if seq := uint64(p.Assoc.ID); seq >= s.assocSeq.Load() {
			s.assocSeq.Store(seq + 1)
		}
		if p.Tombstone {
			return s.writes.TombstoneAssociation(p.Assoc)
		}
		return s.writes.PutAssociation(p.Assoc)
	case wal.OpBeginTxn:
		// Marker only; the transaction's payload arrives with the
		// following OpPrepareAssociation record.
		return nil
	case wal.OpPrepareAssociation:
		var p walPrepareAssociationPayload
		if err := gob.NewDecoder(bytes.NewReader(rec.Payload)).Decode(&p); err != nil {
			return fmt.Errorf("decode prepare record: %w", err)
		}
		if seq := uint64(p.Assoc.ID); seq >= s.assocSeq.Load() {
			s.assocSeq.Store(seq + 1)
		}
		s.pending[p.TxID] = p.Assoc
		return nil
	case wal.OpCommitTxn:
		var p walTxnPayload
		if err := gob.NewDecoder(bytes.NewReader(rec.Payload)).Decode(&p); err != nil {
			return fmt.Errorf("decode commit record: %w", err)
		}
		a, ok := s.pending[p.TxID]
		delete(s.pending, p.TxID)
		if !ok {
			return nil
		}
		return s.foldAssociation(a, a.Tombstoned)
	case wal.OpAbortTxn:
		var p walTxnPayload
		if err := gob.NewDecoder(bytes.NewReader(rec.Payload)).Decode(&p); err != nil {
			return fmt.Errorf("decode abort record: %w", err)
		}
		delete(s.pending, p.TxID)
		return nil
	default:
		return fmt.Errorf("unknown wal op tag %d", rec.Op)
	}
}

func (s *shard) isReadOnly() bool {
	s.readOnlyMu.RLock()
	defer s.readOnlyMu.RUnlock()
	return s.readOnly
}

// fail puts the shard into read-only mode: the affected shard refuses
// further writes rather than risk acknowledging one it can't durably
// record.
func (s *shard) fail(cause error) error {
	s.readOnlyMu.Lock()
	s.readOnly = true
	s.readOnlyMu.Unlock()
	metrics.UpdateComponent("wal", false, cause.Error())
	s.logger.Error().Err(cause).Msg("shard entering read-only mode")
	return cause
}

func (s *shard) start() {
	s.reconciler.Start()
	s.compactor.Start(30 * time.Second)
}

func (s *shard) stop() {
	s.compactor.Stop()
	s.reconciler.Stop()
	if err := s.wal.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("error closing wal")
	}
}

// onReconcileTruncate is called by the reconciler after every fold that
// found work to do. WAL truncation itself is driven explicitly by
// Engine.Checkpoint rather than here, so a fast-ticking reconciler
// doesn't also thrash the WAL directory; this hook just counts the cycle
// for stats reporting.
func (s *shard) onReconcileTruncate() {
	s.reconciliations.Add(1)
}

func (s *shard) putConcept(c types.Concept) error {
	if s.isReadOnly() {
		return &FatalIoError{Reason: "shard is read-only", Err: fmt.Errorf("shard %d", s.id)}
	}
	payload := walConceptPayload{Concept: c}
	data, err := encodeGob(payload)
	if err != nil {
		return err
	}
	if _, err := s.wal.Append(wal.OpPutConcept, data); err != nil {
		return s.fail(&FatalIoError{Reason: "wal append failed", Err: err})
	}
	s.walAppends.Add(1)
	if err := s.writes.PutConcept(c); err != nil {
		s.walDropped.Add(1)
		return &CapacityError{Reason: err.Error()}
	}
	s.concepts.Put(c.ID, index.Location{InMemory: true})
	s.words.Index(c.ID, c.Content)
	if c.Metadata.Temporal.Kind != "" {
		s.temporal.Put(c.ID, c.Metadata.Temporal.Start.UnixNano())
	}
	if len(c.Embedding) > 0 {
		if err := s.vectors.Put(c.ID, c.Embedding); err != nil {
			return &ValidationError{Reason: err.Error()}
		}
		s.graph.Insert(c.ID, c.Embedding)
	}
	return nil
}

func (s *shard) tombstoneConcept(id types.ConceptId, content []byte) error {
	if s.isReadOnly() {
		return &FatalIoError{Reason: "shard is read-only", Err: fmt.Errorf("shard %d", s.id)}
	}
	payload := walConceptPayload{Concept: types.Concept{ID: id}, Tombstone: true}
	data, err := encodeGob(payload)
	if err != nil {
		return err
	}
	if _, err := s.wal.Append(wal.OpTombstoneConcept, data); err != nil {
		return s.fail(&FatalIoError{Reason: "wal append failed", Err: err})
	}
	s.walAppends.Add(1)
	if err := s.writes.TombstoneConcept(id); err != nil {
		s.walDropped.Add(1)
		return &CapacityError{Reason: err.Error()}
	}
	s.concepts.Delete(id)
	s.words.Unindex(id, content)
	s.vectors.Delete(id)
	s.graph.Remove(id)
	return nil
}

// applyAssociation durably appends and folds an association write. Used
// both for same-shard direct writes and for the committed half of a
// cross-shard two-phase commit.
func (s *shard) applyAssociation(a types.Association, tombstone bool) error {
	if s.isReadOnly() {
		return &FatalIoError{Reason: "shard is read-only", Err: fmt.Errorf("shard %d", s.id)}
	}
	op := wal.OpPutAssociation
	if tombstone {
		op = wal.OpTombstoneAssociation
	}
	payload := walAssociationPayload{Assoc: a, Tombstone: tombstone}
	data, err := encodeGob(payload)
	if err != nil {
		return err
	}
	if _, err := s.wal.Append(op, data); err != nil {
		return s.fail(&FatalIoError{Reason: "wal append failed", Err: err})
	}
	s.walAppends.Add(1)
	return s.foldAssociation(a, tombstone)
}

// foldAssociation applies an association write to the in-memory write log
// and adjacency index only, with no WAL append of its own — used both by
// applyAssociation (which appends OpPutAssociation/OpTombstoneAssociation
// itself first) and by a two-phase commit, whose own durable record is the
// OpPrepareAssociation written at Prepare time, not a second copy of the
// association.
func (s *shard) foldAssociation(a types.Association, tombstone bool) error {
	if tombstone {
		a.Tombstoned = true
		if err := s.writes.TombstoneAssociation(a); err != nil {
			s.walDropped.Add(1)
			return &CapacityError{Reason: err.Error()}
		}
		s.adjacency.Remove(a.Source, a.ID)
		return nil
	}
	if err := s.writes.PutAssociation(a); err != nil {
		s.walDropped.Add(1)
		return &CapacityError{Reason: err.Error()}
	}
	s.adjacency.Add(a.Source, a.ID)
	return nil
}

// nextAssociationID allocates the next id in this shard's monotonic
// association sequence.
func (s *shard) nextAssociationID() types.AssociationId {
	return types.AssociationId(s.assocSeq.Add(1) - 1)
}

func (s *shard) neighbourCap(source types.ConceptId) bool {
	return len(s.adjacency.Neighbours(source)) < maxNeighboursPerConcept
}

// Prepare durably logs that this shard has begun txID and staged a. The
// association is written to the WAL now, under OpBeginTxn followed by
// OpPrepareAssociation, so a crash before Commit/Abort still leaves a
// durable record recovery can resolve against the coordinator's decision
// log; the staged write itself is not visible to readers until Commit.
func (s *shard) Prepare(_ context.Context, txID string, a types.Association) error {
	if s.isReadOnly() {
		return &FatalIoError{Reason: "shard is read-only", Err: fmt.Errorf("shard %d", s.id)}
	}
	if !a.Tombstoned && !s.neighbourCap(a.Source) {
		return &CapacityError{Reason: "neighbour cap reached"}
	}

	beginData, err := encodeGob(walTxnPayload{TxID: txID})
	if err != nil {
		return err
	}
	if _, err := s.wal.Append(wal.OpBeginTxn, beginData); err != nil {
		return s.fail(&FatalIoError{Reason: "wal append failed", Err: err})
	}
	s.walAppends.Add(1)

	prepareData, err := encodeGob(walPrepareAssociationPayload{TxID: txID, Assoc: a})
	if err != nil {
		return err
	}
	if _, err := s.wal.Append(wal.OpPrepareAssociation, prepareData); err != nil {
		return s.fail(&FatalIoError{Reason: "wal append failed", Err: err})
	}
	s.walAppends.Add(1)

	s.pendingMu.Lock()
	s.pending[txID] = a
	s.pendingMu.Unlock()
	return nil
}

// Commit durably logs txID as committed and folds its prepared
// association into memory. a.Tombstoned (set by the caller before
// Prepare) decides whether this is an add or a removal.
func (s *shard) Commit(_ context.Context, txID string) error {
	s.pendingMu.Lock()
	a, ok := s.pending[txID]
	s.pendingMu.Unlock()
	if !ok {
		return nil
	}
	if s.isReadOnly() {
		return &FatalIoError{Reason: "shard is read-only", Err: fmt.Errorf("shard %d", s.id)}
	}

	data, err := encodeGob(walTxnPayload{TxID: txID})
	if err != nil {
		return err
	}
	if _, err := s.wal.Append(wal.OpCommitTxn, data); err != nil {
		return s.fail(&FatalIoError{Reason: "wal append failed", Err: err})
	}
	s.walAppends.Add(1)

	if err := s.foldAssociation(a, a.Tombstoned); err != nil {
		return err
	}
	s.pendingMu.Lock()
	delete(s.pending, txID)
	s.pendingMu.Unlock()
	return nil
}

// Abort durably logs txID as aborted and discards the staged association;
// nothing was ever folded into memory, so there is nothing to undo there.
func (s *shard) Abort(_ context.Context, txID string) error {
	s.pendingMu.Lock()
	_, ok := s.pending[txID]
	delete(s.pending, txID)
	s.pendingMu.Unlock()
	if !ok {
		return nil
	}
	if s.isReadOnly() {
		return nil
	}

	data, err := encodeGob(walTxnPayload{TxID: txID})
	if err != nil {
		return err
	}
	if _, err := s.wal.Append(wal.OpAbortTxn, data); err != nil {
		return s.fail(&FatalIoError{Reason: "wal append failed", Err: err})
	}
	s.walAppends.Add(1)
	return nil
}

// PendingTransactions returns a snapshot of transactions this shard has
// durably prepared but never resolved with a commit or abort record — the
// in-flight set real startup recovery must reconcile against the
// coordinator's decision log.
func (s *shard) PendingTransactions() map[string]types.Association {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	out := make(map[string]types.Association, len(s.pending))
	for k, v := range s.pending {
		out[k] = v
	}
	return out
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("engine: encode wal payload: %w", err)
	}
	return buf.Bytes(), nil
}
