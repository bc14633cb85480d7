package shard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/synapsedb/engine/pkg/log"
	"github.com/synapsedb/engine/pkg/metrics"
	"github.com/synapsedb/engine/pkg/storage"
	"github.com/synapsedb/engine/pkg/types"
)

// DefaultPrepareTimeout is the default for how long a transaction may
// sit prepared before the coordinator aborts it.
const DefaultPrepareTimeout = 5 * time.Second

const decisionBucket = "tx_decisions"

// Decision is the durable outcome of a transaction, persisted before the
// coordinator tells either shard to apply its half of the write. On
// recovery the coordinator consults this log instead of guessing: a
// transaction found here as Committed must be re-applied to any
// participant that hadn't yet applied it when the process crashed.
type Decision string

const (
	DecisionCommitted Decision = "committed"
	DecisionAborted   Decision = "aborted"
)

type decisionRecord struct {
	TxID      string
	Decision  Decision
	Timestamp time.Time
}

// ParticipantStore is the per-shard operation surface the coordinator
// drives through prepare/commit/abort. pkg/engine's shard wrapper
// implements this.
type ParticipantStore interface {
	Prepare(ctx context.Context, txID string, assoc types.Association) error
	Commit(ctx context.Context, txID string) error
	Abort(ctx context.Context, txID string) error
}

// Coordinator drives a two-phase commit across exactly two shard
// participants (the association's source shard and target shard) per
// transaction. Prepared-but-undecided mutations are invisible to readers
// on both sides until Decide runs — enforced by the participants, not the
// coordinator itself.
type Coordinator struct {
	decisions storage.Store
	logger    zerolog.Logger
	timeout   time.Duration

	mu      sync.Mutex
	pending map[string]*transaction
}

type transaction struct {
	id      string
	source  ParticipantStore
	target  ParticipantStore
	assoc   types.Association
	started time.Time
}

// NewCoordinator creates a coordinator backed by a bbolt decision log.
func NewCoordinator(decisions storage.Store, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultPrepareTimeout
	}
	return &Coordinator{
		decisions: decisions,
		logger:    log.WithComponent("coordinator"),
		timeout:   timeout,
		pending:   make(map[string]*transaction),
	}
}

// Begin starts a new cross-shard transaction for assoc, whose source and
// target concepts are owned by different shards.
func (c *Coordinator) Begin(source, target ParticipantStore, assoc types.Association) string {
	txID := uuid.NewString()
	c.mu.Lock()
	c.pending[txID] = &transaction{id: txID, source: source, target: target, assoc: assoc, started: time.Now()}
	c.mu.Unlock()
	return txID
}

// Run executes the full Begin -> Prepare -> Decide protocol for one
// association write and returns once it has either committed or aborted.
func (c *Coordinator) Run(ctx context.Context, source, target ParticipantStore, assoc types.Association) error {
	timer := metrics.NewTimer()
	txID := c.Begin(source, target, assoc)
	logger := log.WithTxID(txID)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.prepareBoth(ctx, txID, source, target, assoc)
	if err != nil {
		logger.Warn().Err(err).Msg("prepare failed, aborting transaction")
		c.decide(context.Background(), txID, DecisionAborted, source, target)
		timer.ObserveDuration(metrics.TxDuration)
		metrics.TxTotal.WithLabelValues("aborted").Inc()
		return fmt.Errorf("shard: transaction %s prepare failed: %w", txID, err)
	}

	if err := c.decide(ctx, txID, DecisionCommitted, source, target); err != nil {
		timer.ObserveDuration(metrics.TxDuration)
		metrics.TxTotal.WithLabelValues("aborted").Inc()
		return err
	}
	timer.ObserveDuration(metrics.TxDuration)
	metrics.TxTotal.WithLabelValues("committed").Inc()
	return nil
}

func (c *Coordinator) prepareBoth(ctx context.Context, txID string, source, target ParticipantStore, assoc types.Association) error {
	if err := source.Prepare(ctx, txID, assoc); err != nil {
		return fmt.Errorf("source prepare: %w", err)
	}
	if err := target.Prepare(ctx, txID, assoc); err != nil {
		_ = source.Abort(ctx, txID)
		return fmt.Errorf("target prepare: %w", err)
	}
	return nil
}

// decide durably records the transaction's outcome before telling either
// participant to act on it — the durable-write-before-fanout ordering
// that makes recovery correct: if the process crashes after this write
// but before telling a participant, recovery replays the same decision.
func (c *Coordinator) decide(ctx context.Context, txID string, decision Decision, source, target ParticipantStore) error {
	rec := decisionRecord{TxID: txID, Decision: decision, Timestamp: time.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("shard: marshal decision: %w", err)
	}
	if err := c.decisions.Put(decisionBucket, txID, data); err != nil {
		return fmt.Errorf("shard: persist decision: %w", err)
	}

	var applyErr error
	if decision == DecisionCommitted {
		if err := source.Commit(ctx, txID); err != nil {
			applyErr = fmt.Errorf("source commit: %w", err)
		}
		if err := target.Commit(ctx, txID); err != nil && applyErr == nil {
			applyErr = fmt.Errorf("target commit: %w", err)
		}
	} else {
		_ = source.Abort(ctx, txID)
		_ = target.Abort(ctx, txID)
	}

	c.mu.Lock()
	delete(c.pending, txID)
	c.mu.Unlock()

	return applyErr
}

// Recover re-derives each pending transaction's outcome from the decision
// log after a crash, so participants that never saw a commit/abort call
// get one now. Callers pass in resolved ParticipantStore handles for each
// in-flight transaction they know about (built from the WAL's own
// recovery, which finds any still-prepared records).
func (c *Coordinator) Recover(ctx context.Context, txID string, source, target ParticipantStore) error {
	data, found, err := c.decisions.Get(decisionBucket, txID)
	if err != nil {
		return fmt.Errorf("shard: read decision for recovery: %w", err)
	}
	if !found {
		// No decision was ever durably recorded: the transaction never
		// got past prepare, so it's safe to abort.
		return c.decide(ctx, txID, DecisionAborted, source, target)
	}

	var rec decisionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("shard: decode decision: %w", err)
	}

	if rec.Decision == DecisionCommitted {
		if err := source.Commit(ctx, txID); err != nil {
			return err
		}
		return target.Commit(ctx, txID)
	}
	_ = source.Abort(ctx, txID)
	_ = target.Abort(ctx, txID)
	return nil
}
