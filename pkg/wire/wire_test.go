package wire

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/synapsedb/engine/pkg/engine"
	"github.com/synapsedb/engine/pkg/hnsw"
	"github.com/synapsedb/engine/pkg/types"
	"github.com/synapsedb/engine/pkg/vector"
)

func startTestServer(t *testing.T) (*Client, func()) {
	t.Helper()
	cfg := engine.Config{
		DataDir:   t.TempDir(),
		NumShards: 1,
		VectorConfig: vector.Config{
			D: 4, M: 2, K: 4,
			MaxTrainIterations: 5,
			MinTrainingVectors: 5,
		},
		HNSWConfig:           hnsw.Config{M: 8, EfConstruction: 32, EfSearch: 16},
		ReconcileMinInterval: time.Millisecond,
		ReconcileMaxInterval: 10 * time.Millisecond,
		TxTimeout:            time.Second,
	}
	e, err := engine.New(cfg)
	require.NoError(t, err)

	srv, err := NewServer(e, "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx) }()

	client, err := Dial(srv.Addr().String())
	require.NoError(t, err)

	cleanup := func() {
		cancel()
		client.Close()
		srv.Close()
		e.Close()
	}
	return client, cleanup
}

func TestLearnConceptRoundTrip(t *testing.T) {
	client, cleanup := startTestServer(t)
	defer cleanup()

	id, err := client.LearnConcept(LearnConceptRequest{
		Content:    []byte("hello over the wire"),
		Embedding:  []float32{1, 0, 0, 0},
		Strength:   0.5,
		Confidence: 0.8,
		Metadata:   types.SemanticMetadata{Tag: types.SemanticTagEntity},
	})
	require.NoError(t, err)
	require.NotEqual(t, types.ConceptId{}, id)

	time.Sleep(20 * time.Millisecond) // let the reconciler fold the write

	got, err := client.GetConcept(id)
	require.NoError(t, err)
	require.True(t, got.Found)
	require.Equal(t, []byte("hello over the wire"), got.Content)
	require.InDelta(t, float32(0.5), got.Strength, 0.0001)
}

func TestAddAssociationAndVectorSearchRoundTrip(t *testing.T) {
	client, cleanup := startTestServer(t)
	defer cleanup()

	src, err := client.LearnConcept(LearnConceptRequest{Content: []byte("a"), Embedding: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	dst, err := client.LearnConcept(LearnConceptRequest{Content: []byte("b"), Embedding: []float32{0, 1, 0, 0}})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = client.AddAssociation(AddAssociationRequest{Source: src, Target: dst, Type: types.AssociationSemantic, Strength: 0.7})
	require.NoError(t, err)

	results, err := client.VectorSearch(VectorSearchRequest{Query: []float32{1, 0, 0, 0}, K: 1})
	require.NoError(t, err)
	require.LessOrEqual(t, len(results.Results), 1)
}

func TestStatsAndCheckpointRoundTrip(t *testing.T) {
	client, cleanup := startTestServer(t)
	defer cleanup()

	_, err := client.LearnConcept(LearnConceptRequest{Content: []byte("counted")})
	require.NoError(t, err)

	require.NoError(t, client.Checkpoint())

	time.Sleep(20 * time.Millisecond)
	st, err := client.Stats()
	require.NoError(t, err)
	require.Equal(t, uint64(1), st.Concepts)
}

func TestUnknownConceptReturnsNotFound(t *testing.T) {
	client, cleanup := startTestServer(t)
	defer cleanup()

	resp, err := client.GetConcept(types.NewConceptId([]byte("never learned")))
	require.NoError(t, err)
	require.False(t, resp.Found)
}
