package vector

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synapsedb/engine/pkg/types"
)

func smallConfig() Config {
	return Config{D: 8, M: 2, K: 4, MaxTrainIterations: 10, MinTrainingVectors: 5}
}

func randomVector(rng *rand.Rand, d int) []float32 {
	v := make([]float32, d)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func TestPutRejectsWrongDimension(t *testing.T) {
	s, err := NewStore(smallConfig())
	require.NoError(t, err)
	err = s.Put(types.NewConceptId([]byte("a")), make([]float32, 4))
	require.Error(t, err)
}

func TestTrainQuantizerRequiresMinimumVectors(t *testing.T) {
	s, err := NewStore(smallConfig())
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))
	s.Put(types.NewConceptId([]byte("a")), randomVector(rng, 8))

	err = s.TrainQuantizer()
	require.Error(t, err)
}

func TestTrainAndApproxSearch(t *testing.T) {
	cfg := smallConfig()
	s, err := NewStore(cfg)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(2))
	var target types.ConceptId
	for i := 0; i < 20; i++ {
		id := types.NewConceptId([]byte{byte(i)})
		v := randomVector(rng, cfg.D)
		require.NoError(t, s.Put(id, v))
		if i == 0 {
			target = id
		}
	}

	require.NoError(t, s.TrainQuantizer())
	require.True(t, s.Trained())

	raw := s.raw[target]
	results, err := s.Search(raw, 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestLinearSearchFallbackBeforeTraining(t *testing.T) {
	cfg := smallConfig()
	s, err := NewStore(cfg)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	id := types.NewConceptId([]byte("x"))
	v := randomVector(rng, cfg.D)
	require.NoError(t, s.Put(id, v))

	results, err := s.Search(v, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, id, results[0].ID)
	require.InDelta(t, 0, results[0].Distance, 1e-4)
}
