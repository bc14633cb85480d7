package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/synapsedb/engine/pkg/hnsw"
	"github.com/synapsedb/engine/pkg/types"
	"github.com/synapsedb/engine/pkg/vector"
)

func testConfig(t *testing.T, numShards int) Config {
	return Config{
		DataDir:   t.TempDir(),
		NumShards: numShards,
		VectorConfig: vector.Config{
			D: 8, M: 2, K: 4,
			MaxTrainIterations: 5,
			MinTrainingVectors: 5,
		},
		HNSWConfig:           hnsw.Config{M: 8, EfConstruction: 32, EfSearch: 16},
		ReconcileMinInterval: time.Millisecond,
		ReconcileMaxInterval: 10 * time.Millisecond,
		TxTimeout:            time.Second,
	}
}

func openTestEngine(t *testing.T, numShards int) *Engine {
	e, err := New(testConfig(t, numShards))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e.Close()) })
	return e
}

func TestLearnRoundTrip(t *testing.T) {
	e := openTestEngine(t, 1)

	id, err := e.Learn([]byte("hello world"), nil, 0.5, 0.9, types.SemanticMetadata{Tag: types.SemanticTagEntity})
	require.NoError(t, err)

	e.shards[0].reconciler.ForceCycle()

	c, ok := e.GetConcept(id)
	require.True(t, ok)
	require.Equal(t, []byte("hello world"), c.Content)
	require.Equal(t, float32(0.5), c.Strength)
	require.Equal(t, float32(0.9), c.Confidence)
}

func TestLearnRejectsOversizedEmbedding(t *testing.T) {
	e := openTestEngine(t, 1)

	_, err := e.Learn([]byte("x"), make([]float32, 9), 0, 0, types.SemanticMetadata{})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestLearnReplaysFromWALAfterRestart(t *testing.T) {
	cfg := testConfig(t, 1)

	e, err := New(cfg)
	require.NoError(t, err)

	id, err := e.Learn([]byte("durable content"), nil, 0, 0, types.SemanticMetadata{})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e2, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e2.Close()) })

	c, ok := e2.GetConcept(id)
	require.True(t, ok)
	require.Equal(t, []byte("durable content"), c.Content)
}

func TestAddAssociationSameShardVisibleFromBothEnds(t *testing.T) {
	e := openTestEngine(t, 1)

	src, err := e.Learn([]byte("source concept"), nil, 0, 0, types.SemanticMetadata{})
	require.NoError(t, err)
	dst, err := e.Learn([]byte("target concept"), nil, 0, 0, types.SemanticMetadata{})
	require.NoError(t, err)

	_, err = e.AddAssociation(context.Background(), src, dst, types.AssociationCausal, 0.7, types.SemanticMetadata{})
	require.NoError(t, err)
	e.shards[0].reconciler.ForceCycle()

	fromSrc := e.GetNeighbours(src, nil)
	require.Len(t, fromSrc, 1)
	require.Equal(t, dst, fromSrc[0].NeighbourID)

	fromDst := e.GetNeighbours(dst, nil)
	require.Len(t, fromDst, 1)
	require.Equal(t, src, fromDst[0].NeighbourID)
}

func TestAddAssociationCrossShardCommits(t *testing.T) {
	e := openTestEngine(t, 4)

	var srcContent, dstContent []byte
	found := false
	for i := 0; i < 256 && !found; i++ {
		a := []byte{byte(i), 1}
		b := []byte{byte(i), 2}
		if e.router.ShardFor(types.NewConceptId(a)) != e.router.ShardFor(types.NewConceptId(b)) {
			srcContent, dstContent = a, b
			found = true
		}
	}
	require.True(t, found, "expected to find a cross-shard concept pair")

	src, err := e.Learn(srcContent, nil, 0, 0, types.SemanticMetadata{})
	require.NoError(t, err)
	dst, err := e.Learn(dstContent, nil, 0, 0, types.SemanticMetadata{})
	require.NoError(t, err)

	for _, s := range e.shards {
		s.reconciler.ForceCycle()
	}

	_, err = e.AddAssociation(context.Background(), src, dst, types.AssociationSemantic, 0.3, types.SemanticMetadata{})
	require.NoError(t, err)

	for _, s := range e.shards {
		s.reconciler.ForceCycle()
	}

	require.Len(t, e.GetNeighbours(src, nil), 1)
	require.Len(t, e.GetNeighbours(dst, nil), 1)
}

func TestRemoveConceptTombstones(t *testing.T) {
	e := openTestEngine(t, 1)

	id, err := e.Learn([]byte("to be removed"), nil, 0, 0, types.SemanticMetadata{})
	require.NoError(t, err)
	e.shards[0].reconciler.ForceCycle()

	require.NoError(t, e.RemoveConcept(id))
	e.shards[0].reconciler.ForceCycle()

	_, ok := e.GetConcept(id)
	require.False(t, ok)
}

func TestRemoveAssociationIsNoopWhenAbsent(t *testing.T) {
	e := openTestEngine(t, 1)
	src, err := e.Learn([]byte("a"), nil, 0, 0, types.SemanticMetadata{})
	require.NoError(t, err)
	dst, err := e.Learn([]byte("b"), nil, 0, 0, types.SemanticMetadata{})
	require.NoError(t, err)

	require.NoError(t, e.RemoveAssociation(context.Background(), src, dst, types.AssociationCausal))
}

func TestVectorSearchFallsBackToLinearScan(t *testing.T) {
	e := openTestEngine(t, 1)

	vectors := [][]float32{
		{1, 0, 0, 0, 0, 0, 0, 0},
		{0, 1, 0, 0, 0, 0, 0, 0},
		{0, 0, 1, 0, 0, 0, 0, 0},
	}
	for i, v := range vectors {
		_, err := e.Learn([]byte{byte('a' + i)}, v, 0, 0, types.SemanticMetadata{})
		require.NoError(t, err)
	}
	e.shards[0].reconciler.ForceCycle()

	results, err := e.VectorSearch([]float32{1, 0, 0, 0, 0, 0, 0, 0}, 2, 0)
	require.NoError(t, err)
	require.LessOrEqual(t, len(results), 2)
}

func TestLearnBatchAppliesConfidenceFloorAndCap(t *testing.T) {
	e := openTestEngine(t, 1)

	targets := make([]types.ConceptId, 3)
	for i := range targets {
		id, err := e.Learn([]byte{byte('x' + i)}, nil, 0, 0, types.SemanticMetadata{})
		require.NoError(t, err)
		targets[i] = id
	}
	e.shards[0].reconciler.ForceCycle()

	candidates := []AssociationCandidate{
		{Target: targets[0], Type: types.AssociationSemantic, Confidence: 0.9},
		{Target: targets[1], Type: types.AssociationSemantic, Confidence: 0.1}, // below floor
		{Target: targets[2], Type: types.AssociationSemantic, Confidence: 0.8},
	}
	opts := LearnOptions{MinAssociationConfidence: 0.5, MaxAssociationsPerConcept: 10}

	_, ids, err := e.LearnBatch(context.Background(), []byte("batch source"), nil, 0, 0, types.SemanticMetadata{}, candidates, opts)
	require.NoError(t, err)
	require.Len(t, ids, 2)
}

func TestCheckpointTruncatesWAL(t *testing.T) {
	e := openTestEngine(t, 1)

	_, err := e.Learn([]byte("checkpoint me"), nil, 0, 0, types.SemanticMetadata{})
	require.NoError(t, err)

	require.NoError(t, e.Checkpoint())
}

func TestStatsReportsCounts(t *testing.T) {
	e := openTestEngine(t, 1)

	_, err := e.Learn([]byte("stat me"), nil, 0, 0, types.SemanticMetadata{})
	require.NoError(t, err)
	e.shards[0].reconciler.ForceCycle()

	st := e.Stats()
	require.Equal(t, int64(1), st.Concepts)
	require.Equal(t, int64(1), st.WALAppends)
}

func TestFindContradictionsMatchesNegatedAssociation(t *testing.T) {
	e := openTestEngine(t, 1)

	a, err := e.Learn([]byte("claim"), nil, 0, 0, types.SemanticMetadata{})
	require.NoError(t, err)
	b, err := e.Learn([]byte("counter-claim"), nil, 0, 0, types.SemanticMetadata{})
	require.NoError(t, err)

	_, err = e.AddAssociation(context.Background(), a, b, types.AssociationSemantic, 0.5, types.SemanticMetadata{
		Negation: types.NegationScope{Kind: types.NegationContradiction},
	})
	require.NoError(t, err)
	e.shards[0].reconciler.ForceCycle()

	matches := e.FindContradictions(a)
	require.Len(t, matches, 1)
	require.Equal(t, b, matches[0])
}
