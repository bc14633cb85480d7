package hnsw

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synapsedb/engine/pkg/types"
)

func randomVector(rng *rand.Rand, d int) []float32 {
	v := make([]float32, d)
	for i := range v {
		v[i] = rng.Float32()
	}
	return v
}

func TestInsertAndSearchFindsExactMatch(t *testing.T) {
	g := New(Config{M: 8, EfConstruction: 32, EfSearch: 16})
	rng := rand.New(rand.NewSource(7))

	var target types.ConceptId
	var targetVec []float32
	for i := 0; i < 50; i++ {
		id := types.NewConceptId([]byte{byte(i)})
		v := randomVector(rng, 16)
		g.Insert(id, v)
		if i == 25 {
			target = id
			targetVec = v
		}
	}

	results := g.Search(targetVec, 5)
	require.NotEmpty(t, results)
	require.Equal(t, target, results[0].ID)
	require.InDelta(t, 0, results[0].Distance, 1e-4)
}

func TestRemoveExcludesFromSearch(t *testing.T) {
	g := New(Config{M: 8, EfConstruction: 32, EfSearch: 16})
	rng := rand.New(rand.NewSource(9))

	ids := make([]types.ConceptId, 0, 30)
	vecs := make([][]float32, 0, 30)
	for i := 0; i < 30; i++ {
		id := types.NewConceptId([]byte{byte(i)})
		v := randomVector(rng, 16)
		g.Insert(id, v)
		ids = append(ids, id)
		vecs = append(vecs, v)
	}

	g.Remove(ids[0])
	results := g.Search(vecs[0], 30)
	for _, r := range results {
		require.NotEqual(t, ids[0], r.ID)
	}
}

func TestSearchOnEmptyGraphReturnsEmpty(t *testing.T) {
	g := New(DefaultConfig())
	results := g.Search(make([]float32, 8), 5)
	require.Empty(t, results)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	g := New(Config{M: 8, EfConstruction: 32, EfSearch: 16})
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 10; i++ {
		g.Insert(types.NewConceptId([]byte{byte(i)}), randomVector(rng, 8))
	}

	path := filepath.Join(t.TempDir(), "graph.hnsw")
	require.NoError(t, g.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, len(g.nodes), len(loaded.nodes))
}
