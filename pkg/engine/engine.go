// Package engine assembles the write-ahead log, segment store, in-memory
// indexes, vector store, HNSW graph, and the shard router/coordinator
// into a single handle exposing the learn/query/search/traverse surface
// a transport layer drives. Engine is constructed once per process, the
// one long-lived object owning every subsystem, no package-level
// singletons.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/synapsedb/engine/pkg/hnsw"
	"github.com/synapsedb/engine/pkg/log"
	"github.com/synapsedb/engine/pkg/metrics"
	shardpkg "github.com/synapsedb/engine/pkg/shard"
	"github.com/synapsedb/engine/pkg/storage"
	"github.com/synapsedb/engine/pkg/types"
	"github.com/synapsedb/engine/pkg/vector"
)

const (
	maxContentBytes            = 10 << 20 // 10 MiB
	defaultMinAssocConfidence  = 0.5
	defaultMaxAssocsPerConcept = 10
	defaultTxTimeout           = shardpkg.DefaultPrepareTimeout
)

// Config holds the engine's fixed, immutable-once-constructed
// configuration.
type Config struct {
	DataDir   string
	NumShards int

	VectorConfig vector.Config
	HNSWConfig   hnsw.Config

	ReconcileMinInterval time.Duration
	ReconcileMaxInterval time.Duration
	TxTimeout            time.Duration
}

// DefaultConfig returns the default single-process configuration.
func DefaultConfig() Config {
	return Config{
		DataDir:              "./data",
		NumShards:            1,
		VectorConfig:         vector.DefaultConfig(),
		HNSWConfig:           hnsw.DefaultConfig(),
		ReconcileMinInterval: 10 * time.Millisecond,
		ReconcileMaxInterval: 5 * time.Second,
		TxTimeout:            defaultTxTimeout,
	}
}

// LearnOptions carries the pipeline-facing flags from the learn
// operation. generate_embedding/extract_associations/analyze_semantics
// are instructions to an external classifier/embedding service that sits
// in front of the engine — the engine itself never acts on them, it only
// validates and stores whatever the caller already resolved.
type LearnOptions struct {
	MinAssociationConfidence  float32
	MaxAssociationsPerConcept int
}

// DefaultLearnOptions returns the stated option defaults.
func DefaultLearnOptions() LearnOptions {
	return LearnOptions{
		MinAssociationConfidence:  defaultMinAssocConfidence,
		MaxAssociationsPerConcept: defaultMaxAssocsPerConcept,
	}
}

// NeighbourView is one entry in a get_neighbours result: the concept at
// the other end of an association touching the queried id, its type,
// and its strength.
type NeighbourView struct {
	NeighbourID types.ConceptId
	Type        types.AssociationType
	Weight      float32
}

// Stats is the struct returned by the stats operation.
type Stats struct {
	Concepts        int64
	Edges           int64
	Vectors         int64
	WALAppends      int64
	WALDropped      int64
	Reconciliations int64
	Uptime          time.Duration
}

// Engine is the engine's single long-lived handle: the shard array, the
// router, the cross-shard coordinator, and the decision log they share.
type Engine struct {
	cfg    Config
	logger zerolog.Logger

	shards      []*shard
	router      *shardpkg.Router
	coordinator *shardpkg.Coordinator
	decisions   storage.Store
	collector   *metrics.Collector

	readLatency *metrics.ReadLatencyTracker
	startedAt   time.Time

	closeOnce sync.Once
}

// New constructs an engine from cfg: opens (or recovers) every shard's
// WAL, segment manifest, and indexes, opens the coordinator's decision
// log, and starts every background worker (reconciler, compactor).
func New(cfg Config) (*Engine, error) {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 1
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: create data dir: %w", err)
	}

	e := &Engine{
		cfg:         cfg,
		logger:      log.WithComponent("engine"),
		router:      shardpkg.NewRouter(cfg.NumShards),
		readLatency: metrics.NewReadLatencyTracker(),
		startedAt:   time.Now(),
	}

	for i := 0; i < cfg.NumShards; i++ {
		s, err := openShard(i, cfg.DataDir, cfg.VectorConfig, cfg.HNSWConfig, cfg.ReconcileMinInterval, cfg.ReconcileMaxInterval)
		if err != nil {
			return nil, fmt.Errorf("engine: open shard %d: %w", i, err)
		}
		e.shards = append(e.shards, s)
	}

	decisions, err := storage.NewBoltStore(filepath.Join(cfg.DataDir, "coordinator.db"))
	if err != nil {
		return nil, fmt.Errorf("engine: open coordinator decision log: %w", err)
	}
	e.decisions = decisions
	e.coordinator = shardpkg.NewCoordinator(decisions, cfg.TxTimeout)
	metrics.RegisterComponent("coordinator", true, "")

	if err := e.recoverInFlightTransactions(); err != nil {
		return nil, fmt.Errorf("engine: recover in-flight transactions: %w", err)
	}

	for _, s := range e.shards {
		s.start()
	}
	metrics.RegisterComponent("wal", true, "")

	e.collector = metrics.NewCollector(e)
	e.collector.Start()

	return e, nil
}

// recoverInFlightTransactions resolves every cross-shard association
// transaction that was durably prepared on a shard's WAL but never saw a
// matching commit or abort record replay back — the crash window between
// Prepare and Decide. Each such transaction is run back through the
// coordinator's decision log exactly as Coordinator.Run would have left
// it: committed if the log recorded that outcome, aborted otherwise. Must
// run after every shard has replayed its WAL and the coordinator's
// decision log is open, and before any shard starts accepting new writes.
func (e *Engine) recoverInFlightTransactions() error {
	pending := make(map[string]types.Association)
	for _, s := range e.shards {
		for txID, a := range s.PendingTransactions() {
			pending[txID] = a
		}
	}
	for txID, a := range pending {
		sourceShard := e.shardFor(a.Source)
		targetShard := e.shardFor(a.Target)
		if err := e.coordinator.Recover(context.Background(), txID, sourceShard, targetShard); err != nil {
			return fmt.Errorf("transaction %s: %w", txID, err)
		}
		e.logger.Warn().Str("tx_id", txID).Msg("recovered in-flight transaction found on restart")
	}
	for _, s := range e.shards {
		s.reconciler.ForceCycle()
	}
	return nil
}

// Close stops every background worker and closes every open file.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.collector.Stop()
		for _, s := range e.shards {
			s.stop()
		}
		err = e.decisions.Close()
	})
	return err
}

func validateContent(content []byte) error {
	if len(content) == 0 {
		return &ValidationError{Reason: "content must not be empty"}
	}
	if len(content) > maxContentBytes {
		return &ValidationError{Reason: fmt.Sprintf("content exceeds %d bytes", maxContentBytes)}
	}
	return nil
}

// Learn stores content, deriving its id as a content hash, validating
// its length and (if present) its embedding's dimension, and writing it
// through the owning shard's WAL before folding it into memory. A
// second learn of identical content yields the same id and replaces the
// stored record wholesale (last-writer-wins on ModifiedAt).
func (e *Engine) Learn(content []byte, embedding []float32, strength, confidence float32, metadata types.SemanticMetadata) (types.ConceptId, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.OpDuration, "learn")
		e.readLatency.Record(timer.Duration())
	}()

	if err := validateContent(content); err != nil {
		metrics.OpErrorsTotal.WithLabelValues("learn", "validation").Inc()
		return types.ConceptId{}, err
	}
	if embedding != nil && len(embedding) != e.cfg.VectorConfig.D {
		metrics.OpErrorsTotal.WithLabelValues("learn", "validation").Inc()
		return types.ConceptId{}, &ValidationError{Reason: fmt.Sprintf("embedding has %d dimensions, engine expects %d", len(embedding), e.cfg.VectorConfig.D)}
	}

	id := types.NewConceptId(content)
	now := time.Now()
	c := types.Concept{
		ID:         id,
		Content:    content,
		Embedding:  embedding,
		Metadata:   metadata,
		Strength:   strength,
		Confidence: confidence,
		State:      types.ConceptVisible,
		CreatedAt:  now,
		ModifiedAt: now,
	}

	s := e.shardFor(id)
	if err := s.putConcept(c); err != nil {
		e.recordOpError("learn", err)
		return types.ConceptId{}, err
	}
	metrics.ConceptsTotal.WithLabelValues(string(types.ConceptVisible)).Inc()
	return id, nil
}

// AssociationCandidate is one edge an upstream extraction step proposes
// alongside a learned concept, with the confidence it assigned the
// extraction.
type AssociationCandidate struct {
	Target     types.ConceptId
	Type       types.AssociationType
	Strength   float32
	Confidence float32
	Metadata   types.SemanticMetadata
}

// LearnBatch learns content and then wires in zero or more candidate
// associations an external extraction step proposed, applying opts'
// confidence floor and per-concept cap the way generate_embedding and
// extract_associations describe: the engine never extracts associations
// itself, it only validates and stores what the caller already derived.
// Candidates are processed in order and the first ones admitted under
// the cap win; opts fields left at zero are silently defaulted to
// DefaultLearnOptions' values.
func (e *Engine) LearnBatch(ctx context.Context, content []byte, embedding []float32, strength, confidence float32, metadata types.SemanticMetadata, candidates []AssociationCandidate, opts LearnOptions) (types.ConceptId, []types.AssociationId, error) {
	id, err := e.Learn(content, embedding, strength, confidence, metadata)
	if err != nil {
		return types.ConceptId{}, nil, err
	}

	if opts.MinAssociationConfidence <= 0 {
		opts.MinAssociationConfidence = defaultMinAssocConfidence
	}
	if opts.MaxAssociationsPerConcept <= 0 {
		opts.MaxAssociationsPerConcept = defaultMaxAssocsPerConcept
	}
	if opts.MaxAssociationsPerConcept > maxNeighboursPerConcept {
		opts.MaxAssociationsPerConcept = maxNeighboursPerConcept
	}

	var ids []types.AssociationId
	for _, cand := range candidates {
		if len(ids) >= opts.MaxAssociationsPerConcept {
			break
		}
		if cand.Confidence < opts.MinAssociationConfidence {
			continue
		}
		aid, err := e.AddAssociation(ctx, id, cand.Target, cand.Type, cand.Strength, cand.Metadata)
		if err != nil {
			return id, ids, err
		}
		ids = append(ids, aid)
	}
	return id, ids, nil
}

// findExistingAssociation scans source's current neighbours for one
// sharing the (source, target, type) triple with a, the coalescing lookup
// add_association uses so a repeated write replaces an existing edge
// instead of minting a duplicate.
func findExistingAssociation(s *shard, source, target types.ConceptId, typ types.AssociationType) (types.Association, bool) {
	for _, a := range s.reconciler.Snapshot().Neighbours(source) {
		if a.Source == source && a.Target == target && a.Type == typ {
			return a, true
		}
	}
	return types.Association{}, false
}

// AddAssociation creates or replaces a directed edge between source and
// target. Same-shard writes are a single WAL append; cross-shard writes
// go through the two-phase commit coordinator. Neither endpoint is
// required to already exist, so associations may be ingested ahead of
// the concepts they reference. A second call sharing the same (source,
// target, type) triple as an existing association replaces its strength
// and timestamp in place rather than creating a duplicate edge.
func (e *Engine) AddAssociation(ctx context.Context, source, target types.ConceptId, typ types.AssociationType, strength float32, metadata types.SemanticMetadata) (types.AssociationId, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OpDuration, "add_association")

	sourceShard := e.shardFor(source)
	targetShard := e.shardFor(target)

	now := time.Now()
	createdAt := now
	var id types.AssociationId
	if existing, ok := findExistingAssociation(sourceShard, source, target, typ); ok {
		id = existing.ID
		createdAt = existing.CreatedAt
	} else {
		if !sourceShard.neighbourCap(source) {
			e.recordOpError("add_association", &CapacityError{Reason: "neighbour cap reached"})
			return 0, &CapacityError{Reason: "neighbour cap reached"}
		}
		id = sourceShard.nextAssociationID()
	}

	a := types.Association{
		ID:         id,
		Source:     source,
		Target:     target,
		Type:       typ,
		Weight:     strength,
		Metadata:   metadata,
		CreatedAt:  createdAt,
		ModifiedAt: now,
	}

	var err error
	if e.router.SameShard(source, target) {
		err = sourceShard.applyAssociation(a, false)
	} else {
		err = e.coordinator.Run(ctx, sourceShard, targetShard, a)
	}
	if err != nil {
		e.recordOpError("add_association", err)
		return 0, err
	}
	metrics.AssociationsTotal.WithLabelValues(string(typ)).Inc()
	return id, nil
}

// GetConcept returns the concept for id, if present and not tombstoned.
func (e *Engine) GetConcept(id types.ConceptId) (types.Concept, bool) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OpDuration, "get_concept")
	return e.shardFor(id).reconciler.Snapshot().GetConcept(id)
}

// GetNeighbours returns every association touching id, optionally
// filtered to one association type, as (neighbour id, type, strength)
// tuples. Per the engine's bidirectional indexing, this answers
// correctly whether id was the source or target of the association.
func (e *Engine) GetNeighbours(id types.ConceptId, filterType *types.AssociationType) []NeighbourView {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OpDuration, "get_neighbours")

	assocs := e.shardFor(id).reconciler.Snapshot().Neighbours(id)
	out := make([]NeighbourView, 0, len(assocs))
	for _, a := range assocs {
		if filterType != nil && a.Type != *filterType {
			continue
		}
		neighbour := a.Target
		if a.Target == id {
			neighbour = a.Source
		}
		out = append(out, NeighbourView{NeighbourID: neighbour, Type: a.Type, Weight: a.Weight})
	}
	return out
}

// SearchByWord returns every concept id whose content contains word, on
// the given shard only — word search is not fanned out across
// shards in this engine (each shard answers for the content it owns).
func (e *Engine) SearchByWord(word string, shardIdx int) []types.ConceptId {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OpDuration, "search_by_word")
	return e.shards[e.clampShard(shardIdx)].words.Search(word)
}

// QueryAtTime returns every concept indexed at exactly t, on one shard.
func (e *Engine) QueryAtTime(t time.Time, shardIdx int) []types.ConceptId {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OpDuration, "query_at_time")
	return e.shards[e.clampShard(shardIdx)].temporal.At(t.UnixNano())
}

// QueryTimeRange returns every concept indexed within [t0, t1], on one
// shard.
func (e *Engine) QueryTimeRange(t0, t1 time.Time, shardIdx int) []types.ConceptId {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OpDuration, "query_time_range")
	return e.shards[e.clampShard(shardIdx)].temporal.Range(t0.UnixNano(), t1.UnixNano())
}

// VectorSearch returns the topK nearest concept ids to query by cosine
// distance, on one shard. It searches the HNSW graph first; if the graph
// returns fewer than k candidates (too small, or not yet warmed up), it
// falls back to the vector store's own search (PQ-approximate once
// trained, exact linear scan otherwise) to fill the remainder.
func (e *Engine) VectorSearch(query []float32, k int, shardIdx int) ([]vector.ScoredID, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OpDuration, "vector_search")
	s := e.shards[e.clampShard(shardIdx)]

	if len(query) != e.cfg.VectorConfig.D {
		return nil, &ValidationError{Reason: fmt.Sprintf("query has %d dimensions, engine expects %d", len(query), e.cfg.VectorConfig.D)}
	}

	hnswTimer := metrics.NewTimer()
	results := s.graph.Search(query, k)
	hnswTimer.ObserveDuration(metrics.HNSWSearchDuration)

	out := make([]vector.ScoredID, 0, len(results))
	seen := make(map[types.ConceptId]struct{}, len(results))
	for _, r := range results {
		out = append(out, vector.ScoredID{ID: r.ID, Distance: r.Distance})
		seen[r.ID] = struct{}{}
	}
	if len(out) >= k {
		return out, nil
	}

	fallback, err := s.vectors.Search(query, k)
	if err != nil {
		return nil, err
	}
	for _, sc := range fallback {
		if _, ok := seen[sc.ID]; ok {
			continue
		}
		out = append(out, sc)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// RemoveConcept tombstones id: the WAL records a deletion, the concept
// becomes invisible to readers, and compaction later drops the
// superseded record once a merge survives past it.
func (e *Engine) RemoveConcept(id types.ConceptId) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OpDuration, "remove_concept")

	s := e.shardFor(id)
	c, ok := s.reconciler.Snapshot().GetConcept(id)
	var content []byte
	if ok {
		content = c.Content
	}
	if err := s.tombstoneConcept(id, content); err != nil {
		e.recordOpError("remove_concept", err)
		return err
	}
	metrics.ConceptsTotal.WithLabelValues(string(types.ConceptTombstoned)).Inc()
	return nil
}

// RemoveAssociation tombstones the association matching (source, target,
// type), if one exists; removing an absent association is a no-op.
func (e *Engine) RemoveAssociation(ctx context.Context, source, target types.ConceptId, typ types.AssociationType) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OpDuration, "remove_association")

	sourceShard := e.shardFor(source)
	targetShard := e.shardFor(target)

	var match *types.Association
	for _, a := range sourceShard.reconciler.Snapshot().Neighbours(source) {
		if a.Type == typ && ((a.Source == source && a.Target == target) || (a.Source == target && a.Target == source)) {
			assoc := a
			match = &assoc
			break
		}
	}
	if match == nil {
		return nil
	}

	var err error
	if e.router.SameShard(source, target) {
		err = sourceShard.applyAssociation(*match, true)
	} else {
		err = e.coordinator.Run(ctx, removalParticipant{sourceShard}, removalParticipant{targetShard}, *match)
	}
	if err != nil {
		e.recordOpError("remove_association", err)
		return err
	}
	return nil
}

// removalParticipant adapts a shard's Prepare/Commit/Abort surface so the
// coordinator can drive a tombstone write through the same protocol it
// uses for a new association, without shard needing two parallel
// Prepare/Commit paths. It marks the association Tombstoned before
// staging it, so the flag travels durably through Prepare's WAL record
// and Commit (shared with the add path) folds it as a removal.
type removalParticipant struct {
	s *shard
}

func (p removalParticipant) Prepare(ctx context.Context, txID string, a types.Association) error {
	a.Tombstoned = true
	return p.s.Prepare(ctx, txID, a)
}

func (p removalParticipant) Commit(ctx context.Context, txID string) error {
	return p.s.Commit(ctx, txID)
}

func (p removalParticipant) Abort(ctx context.Context, txID string) error {
	return p.s.Abort(ctx, txID)
}

// Checkpoint forces every shard's reconciler to fold immediately, merges
// any overdue compaction, truncates each WAL up to its now-durable
// point, and fsyncs every manifest — the explicit durability boundary an
// operator can call before a planned restart.
func (e *Engine) Checkpoint() error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OpDuration, "checkpoint")

	for _, s := range e.shards {
		s.reconciler.ForceCycle()
		if err := s.compactor.RunOnce(); err != nil {
			s.logger.Warn().Err(err).Msg("checkpoint-triggered compaction failed")
		}
		if err := s.wal.Truncate(s.assocSeq.Load()); err != nil {
			return &FatalIoError{Reason: "checkpoint truncate failed", Err: err}
		}
	}
	return nil
}

// FindContradictions is a read-only diagnostic: it scans id's direct
// associations of every type, in either direction, and returns the concept
// at the other end of each one whose negation metadata has the
// Contradiction kind, surfacing candidates for a human or upstream
// pipeline to review. It never blocks a write and never mutates state.
func (e *Engine) FindContradictions(id types.ConceptId) []types.ConceptId {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OpDuration, "find_contradictions")

	s := e.shardFor(id)
	snap := s.reconciler.Snapshot()
	var out []types.ConceptId
	for _, a := range snap.Neighbours(id) {
		if a.Metadata.Negation.Kind != types.NegationContradiction {
			continue
		}
		neighbour := a.Target
		if a.Target == id {
			neighbour = a.Source
		}
		out = append(out, neighbour)
	}
	return out
}

// Stats returns the engine's point-in-time counters, aggregated across
// every shard.
func (e *Engine) Stats() Stats {
	var st Stats
	st.Uptime = time.Since(e.startedAt)
	for _, s := range e.shards {
		snap := s.reconciler.Snapshot()
		st.Concepts += int64(snap.ConceptCount())
		for _, n := range snap.AssociationsByType() {
			st.Edges += n
		}
		st.Vectors += int64(s.vectors.Len())
		st.WALAppends += int64(s.walAppends.Load())
		st.WALDropped += int64(s.walDropped.Load())
		st.Reconciliations += int64(s.reconciliations.Load())
	}
	return st
}

// ConceptCountByState satisfies metrics.StatsSource.
func (e *Engine) ConceptCountByState() map[string]int64 {
	out := make(map[string]int64)
	for _, s := range e.shards {
		for state, n := range s.reconciler.Snapshot().ConceptsByState() {
			out[string(state)] += n
		}
	}
	return out
}

// AssociationCountByType satisfies metrics.StatsSource.
func (e *Engine) AssociationCountByType() map[string]int64 {
	out := make(map[string]int64)
	for _, s := range e.shards {
		for typ, n := range s.reconciler.Snapshot().AssociationsByType() {
			out[string(typ)] += n
		}
	}
	return out
}

// SegmentCountByLevel satisfies metrics.StatsSource.
func (e *Engine) SegmentCountByLevel() map[int]int64 {
	out := make(map[int]int64)
	for _, s := range e.shards {
		for level, n := range s.manifest.CountByLevel() {
			out[level] += n
		}
	}
	return out
}

func (e *Engine) shardFor(id types.ConceptId) *shard {
	return e.shards[e.router.ShardFor(id)]
}

func (e *Engine) clampShard(idx int) int {
	if idx < 0 || idx >= len(e.shards) {
		return 0
	}
	return idx
}

func (e *Engine) recordOpError(op string, err error) {
	kind := "internal"
	switch err.(type) {
	case *ValidationError:
		kind = "validation"
	case *CapacityError:
		kind = "capacity"
	case *FatalIoError:
		kind = "fatal_io"
	case *NotFoundError:
		kind = "not_found"
	case *TransactionAbortedError:
		kind = "transaction_aborted"
	case *CorruptStateError:
		kind = "corrupt_state"
	}
	metrics.OpErrorsTotal.WithLabelValues(op, kind).Inc()
}
