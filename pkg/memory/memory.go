// Package memory implements the engine's concurrent memory model: a
// lock-free write log that absorbs concept and association mutations, and
// an immutable, atomically-published read snapshot that background
// reconciliation folds the write log into on an adaptive interval. Readers
// always see a self-consistent snapshot and are never blocked by writers.
package memory

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/immutable"
	"github.com/rs/zerolog"

	"github.com/synapsedb/engine/pkg/log"
	"github.com/synapsedb/engine/pkg/metrics"
	"github.com/synapsedb/engine/pkg/types"
)

// opKind is the kind of mutation recorded in the write log.
type opKind uint8

const (
	opPutConcept opKind = iota
	opTombstoneConcept
	opPutAssociation
	opTombstoneAssociation
)

type writeOp struct {
	kind    opKind
	concept types.Concept
	assoc   types.Association
}

const defaultWriteLogCapacity = 8192

// ErrWriteLogFull is returned by Push when the write log has reached
// capacity and the caller must retry after the next reconciliation cycle.
var ErrWriteLogFull = &capacityError{}

type capacityError struct{}

func (*capacityError) Error() string { return "memory: write log is at capacity" }

// Snapshot is an immutable view of a shard's concepts and associations,
// safe to read concurrently from any number of goroutines without locking.
type Snapshot struct {
	concepts     *immutable.Map[types.ConceptId, types.Concept]
	associations *immutable.Map[types.ConceptId, []types.Association]
}

// GetConcept returns the concept for id, if present and not tombstoned.
func (s *Snapshot) GetConcept(id types.ConceptId) (types.Concept, bool) {
	c, ok := s.concepts.Get(id)
	if !ok || c.State == types.ConceptTombstoned {
		return types.Concept{}, false
	}
	return c, true
}

// Neighbours returns every association touching id, from either end,
// excluding tombstoned ones. An association's Source/Target fields still
// reflect its original direction; callers wanting the "other" concept
// id relative to id should compare against both fields.
func (s *Snapshot) Neighbours(id types.ConceptId) []types.Association {
	all, ok := s.associations.Get(id)
	if !ok {
		return nil
	}
	out := make([]types.Association, 0, len(all))
	for _, a := range all {
		if !a.Tombstoned {
			out = append(out, a)
		}
	}
	return out
}

// ConceptCount returns the number of live (non-tombstoned) concepts.
func (s *Snapshot) ConceptCount() int {
	n := 0
	it := s.concepts.Iterator()
	for !it.Done() {
		_, c, _ := it.Next()
		if c.State != types.ConceptTombstoned {
			n++
		}
	}
	return n
}

// ConceptsByState groups live concept ids by their lifecycle state, for
// stats reporting.
func (s *Snapshot) ConceptsByState() map[types.ConceptState]int64 {
	out := make(map[types.ConceptState]int64)
	it := s.concepts.Iterator()
	for !it.Done() {
		_, c, _ := it.Next()
		out[c.State]++
	}
	return out
}

// AssociationsByType groups live (non-tombstoned) associations by type,
// counting each association once even though it's indexed under both of
// its endpoint concept ids.
func (s *Snapshot) AssociationsByType() map[types.AssociationType]int64 {
	out := make(map[types.AssociationType]int64)
	seen := make(map[types.AssociationId]struct{})
	it := s.associations.Iterator()
	for !it.Done() {
		_, list, _ := it.Next()
		for _, a := range list {
			if a.Tombstoned {
				continue
			}
			if _, ok := seen[a.ID]; ok {
				continue
			}
			seen[a.ID] = struct{}{}
			out[a.Type]++
		}
	}
	return out
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		concepts:     immutable.NewMap[types.ConceptId, types.Concept](nil),
		associations: immutable.NewMap[types.ConceptId, []types.Association](nil),
	}
}

// WriteLog is the multi-producer/single-consumer queue of pending
// mutations that haven't yet been folded into the published read
// snapshot. A bounded channel gives backpressure for free: once full,
// Push returns ErrWriteLogFull rather than blocking the caller
// indefinitely, per the engine's fatal-vs-retryable error policy.
type WriteLog struct {
	ch chan writeOp
}

// NewWriteLog creates a write log with the given capacity (0 uses the
// default).
func NewWriteLog(capacity int) *WriteLog {
	if capacity <= 0 {
		capacity = defaultWriteLogCapacity
	}
	return &WriteLog{ch: make(chan writeOp, capacity)}
}

func (w *WriteLog) pushConcept(kind opKind, c types.Concept) error {
	select {
	case w.ch <- writeOp{kind: kind, concept: c}:
		return nil
	default:
		return ErrWriteLogFull
	}
}

func (w *WriteLog) pushAssociation(kind opKind, a types.Association) error {
	select {
	case w.ch <- writeOp{kind: kind, assoc: a}:
		return nil
	default:
		return ErrWriteLogFull
	}
}

// PutConcept enqueues a concept upsert.
func (w *WriteLog) PutConcept(c types.Concept) error { return w.pushConcept(opPutConcept, c) }

// TombstoneConcept enqueues a concept removal.
func (w *WriteLog) TombstoneConcept(id types.ConceptId) error {
	return w.pushConcept(opTombstoneConcept, types.Concept{ID: id, State: types.ConceptTombstoned})
}

// PutAssociation enqueues an association upsert.
func (w *WriteLog) PutAssociation(a types.Association) error {
	return w.pushAssociation(opPutAssociation, a)
}

// TombstoneAssociation enqueues an association removal.
func (w *WriteLog) TombstoneAssociation(a types.Association) error {
	a.Tombstoned = true
	return w.pushAssociation(opTombstoneAssociation, a)
}

// Reconciler owns one shard's write log and folds it into a fresh read
// snapshot on an adaptive ticker, the same run-loop shape as the engine's
// original background reconciliation idiom: a ticker, a stop channel, and
// per-cycle metrics timing.
type Reconciler struct {
	shardID int
	logger  zerolog.Logger
	writes  *WriteLog

	mu        sync.Mutex
	interval  time.Duration
	minInterval time.Duration
	maxInterval time.Duration

	snapshot atomic.Pointer[Snapshot]
	stopCh   chan struct{}
	wg       sync.WaitGroup

	// onTruncate, if set, is called with no arguments after a fold
	// completes.
	onTruncate func()
}

// NewReconciler creates a reconciler for one shard. minInterval and
// maxInterval bound the adaptive tick period (default 10ms-5s).
func NewReconciler(shardID int, writes *WriteLog, minInterval, maxInterval time.Duration, onTruncate func()) *Reconciler {
	r := &Reconciler{
		shardID:     shardID,
		logger:      log.WithShard(shardID),
		writes:      writes,
		interval:    minInterval,
		minInterval: minInterval,
		maxInterval: maxInterval,
		stopCh:      make(chan struct{}),
		onTruncate:  onTruncate,
	}
	r.snapshot.Store(emptySnapshot())
	return r
}

// Snapshot returns the currently published read snapshot. Safe for
// concurrent use; never blocks on the reconciliation loop.
func (r *Reconciler) Snapshot() *Snapshot {
	return r.snapshot.Load()
}

// Start begins the background reconciliation loop.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop halts the reconciliation loop and waits for it to exit.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Reconciler) run() {
	defer r.wg.Done()
	timer := time.NewTimer(r.currentInterval())
	defer timer.Stop()

	r.logger.Info().Msg("reconciler started")

	for {
		select {
		case <-timer.C:
			folded := r.cycle()
			r.adapt(folded)
			timer.Reset(r.currentInterval())
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// ForceCycle runs one fold immediately, used by Engine.Checkpoint.
func (r *Reconciler) ForceCycle() int {
	return r.cycle()
}

func (r *Reconciler) currentInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// adapt shrinks the interval toward minInterval when a cycle found work to
// do, and grows it toward maxInterval when idle, so quiet shards don't
// burn CPU waking every 10ms.
func (r *Reconciler) adapt(folded int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if folded > 0 {
		r.interval /= 2
		if r.interval < r.minInterval {
			r.interval = r.minInterval
		}
	} else {
		r.interval *= 2
		if r.interval > r.maxInterval {
			r.interval = r.maxInterval
		}
	}
	metrics.ReconciliationInterval.Set(r.interval.Seconds())
}

// cycle drains whatever is currently queued in the write log into a new
// snapshot built on top of the previous one, and atomically publishes it.
// It returns the number of operations folded.
func (r *Reconciler) cycle() int {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	prev := r.snapshot.Load()
	concepts := prev.concepts
	assocs := prev.associations

	folded := 0
drain:
	for {
		select {
		case op := <-r.writes.ch:
			switch op.kind {
			case opPutConcept:
				concepts = concepts.Set(op.concept.ID, op.concept)
			case opTombstoneConcept:
				if c, ok := concepts.Get(op.concept.ID); ok {
					c.State = types.ConceptTombstoned
					concepts = concepts.Set(op.concept.ID, c)
				}
			case opPutAssociation:
				assocs = indexBothEnds(assocs, op.assoc)
			case opTombstoneAssociation:
				assocs = indexBothEnds(assocs, op.assoc)
			}
			folded++
		default:
			break drain
		}
	}

	if folded == 0 {
		return 0
	}

	r.snapshot.Store(&Snapshot{concepts: concepts, associations: assocs})
	if r.onTruncate != nil {
		r.onTruncate()
	}
	return folded
}

// indexBothEnds records an association under both its source and target
// concept ids, so get_neighbours answers from either endpoint without a
// separate reverse index (spec invariant: add_association(x,y,...) makes
// y a neighbour of x and x a neighbour of y).
func indexBothEnds(assocs *immutable.Map[types.ConceptId, []types.Association], a types.Association) *immutable.Map[types.ConceptId, []types.Association] {
	sourceList, _ := assocs.Get(a.Source)
	assocs = assocs.Set(a.Source, appendOrReplace(sourceList, a))
	if a.Target != a.Source {
		targetList, _ := assocs.Get(a.Target)
		assocs = assocs.Set(a.Target, appendOrReplace(targetList, a))
	}
	return assocs
}

// appendOrReplace keeps at most one entry per (source, target, type)
// triple, preserving last-writer-wins semantics (by ModifiedAt) the way
// the segment compactor does for concepts. Matching by triple rather than
// by AssociationId is what makes add_association's coalescing invariant
// hold even when two writes for the same triple reach the write log
// before either is folded into a published snapshot and so were assigned
// different ids.
func appendOrReplace(list []types.Association, a types.Association) []types.Association {
	for i := range list {
		if list[i].Source == a.Source && list[i].Target == a.Target && list[i].Type == a.Type {
			if !a.ModifiedAt.Before(list[i].ModifiedAt) {
				list[i] = a
			}
			return list
		}
	}
	out := make([]types.Association, len(list), len(list)+1)
	copy(out, list)
	return append(out, a)
}
