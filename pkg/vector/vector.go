// Package vector implements the engine's vector store: raw float32
// embeddings plus an optional product-quantized compressed representation
// trained once enough vectors have accumulated. Distance is always cosine
// distance (1 - cosine similarity) on re-normalized vectors.
package vector

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/synapsedb/engine/pkg/types"
)

// Config holds the vector store's fixed dimensionality and product
// quantization parameters. Immutable once the store is constructed.
type Config struct {
	D int // embedding dimensionality, default 768
	M int // number of PQ subspaces, default 48
	K int // centroids per subspace, default 256

	MaxTrainIterations int // default 25
	MinTrainingVectors  int // must be >= K+1
}

// DefaultConfig returns the default vector store parameters.
func DefaultConfig() Config {
	return Config{
		D:                  768,
		M:                  48,
		K:                  256,
		MaxTrainIterations: 25,
		MinTrainingVectors: 257,
	}
}

func (c Config) validate() error {
	if c.D <= 0 || c.M <= 0 || c.K <= 0 {
		return fmt.Errorf("vector: D, M and K must be positive")
	}
	if c.D%c.M != 0 {
		return fmt.Errorf("vector: D (%d) must be divisible by M (%d)", c.D, c.M)
	}
	if c.MinTrainingVectors < c.K+1 {
		return fmt.Errorf("vector: MinTrainingVectors must be at least K+1")
	}
	return nil
}

// Store holds raw vectors and, once trained, their PQ codes.
type Store struct {
	cfg Config

	mu   sync.RWMutex
	raw  map[types.ConceptId][]float32
	codes map[types.ConceptId][]byte // one byte per subspace once trained

	codebook *Codebook // nil until TrainQuantizer succeeds
}

// NewStore creates an empty vector store for the given configuration.
func NewStore(cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Store{
		cfg:   cfg,
		raw:   make(map[types.ConceptId][]float32),
		codes: make(map[types.ConceptId][]byte),
	}, nil
}

// subDim returns the width of one PQ subspace.
func (s *Store) subDim() int { return s.cfg.D / s.cfg.M }

// Put stores (or replaces) the raw embedding for id. If a codebook is
// already trained, the vector is also encoded immediately.
func (s *Store) Put(id types.ConceptId, embedding []float32) error {
	if len(embedding) != s.cfg.D {
		return fmt.Errorf("vector: embedding has %d dimensions, store expects %d", len(embedding), s.cfg.D)
	}
	normalized := normalize(embedding)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw[id] = normalized
	if s.codebook != nil {
		s.codes[id] = s.codebook.Encode(normalized)
	}
	return nil
}

// Delete removes a vector and its code, if present.
func (s *Store) Delete(id types.ConceptId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.raw, id)
	delete(s.codes, id)
}

// Len returns the number of stored vectors.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.raw)
}

// Trained reports whether the PQ codebook has been trained.
func (s *Store) Trained() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.codebook != nil
}

// TrainQuantizer trains a product-quantization codebook from the vectors
// currently in the store using k-means++ initialization and Lloyd's
// algorithm per subspace. It requires at least cfg.MinTrainingVectors
// vectors (spec invariant: training needs >= K+1 samples per subspace to
// avoid degenerate empty clusters). Once trained, the codebook is frozen:
// retraining replaces it wholesale, it is never incrementally updated.
func (s *Store) TrainQuantizer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.raw) < s.cfg.MinTrainingVectors {
		return fmt.Errorf("vector: need at least %d training vectors, have %d", s.cfg.MinTrainingVectors, len(s.raw))
	}

	vectors := make([][]float32, 0, len(s.raw))
	for _, v := range s.raw {
		vectors = append(vectors, v)
	}

	cb, err := trainCodebook(vectors, s.cfg)
	if err != nil {
		return err
	}
	s.codebook = cb

	for id, v := range s.raw {
		s.codes[id] = cb.Encode(v)
	}
	return nil
}

// Search returns the topK nearest concept ids to query by cosine distance.
// It uses the trained codebook's precomputed distance tables when
// available (approximate, but far cheaper than a full linear scan over
// raw vectors); otherwise it falls back to an exact linear scan.
func (s *Store) Search(query []float32, topK int) ([]ScoredID, error) {
	if len(query) != s.cfg.D {
		return nil, fmt.Errorf("vector: query has %d dimensions, store expects %d", len(query), s.cfg.D)
	}
	normalized := normalize(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.codebook != nil {
		return s.codebook.SearchApprox(normalized, s.codes, topK), nil
	}
	return linearSearch(normalized, s.raw, topK), nil
}

// ScoredID pairs a concept id with a cosine distance (lower is closer).
type ScoredID struct {
	ID       types.ConceptId
	Distance float32
}

func linearSearch(query []float32, raw map[types.ConceptId][]float32, topK int) []ScoredID {
	out := make([]ScoredID, 0, len(raw))
	for id, v := range raw {
		out = append(out, ScoredID{ID: id, Distance: cosineDistance(query, v)})
	}
	return topN(out, topK)
}

func topN(scored []ScoredID, n int) []ScoredID {
	// simple partial selection sort; result sets here are small (topK),
	// not worth pulling in a heap for.
	if n > len(scored) {
		n = len(scored)
	}
	for i := 0; i < n; i++ {
		min := i
		for j := i + 1; j < len(scored); j++ {
			if scored[j].Distance < scored[min].Distance {
				min = j
			}
		}
		scored[i], scored[min] = scored[min], scored[i]
	}
	return scored[:n]
}

func normalize(v []float32) []float32 {
	f64 := make([]float64, len(v))
	for i, x := range v {
		f64[i] = float64(x)
	}
	norm := floats.Norm(f64, 2)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// cosineDistance returns 1 - cosine_similarity for two already-normalized
// vectors, via gonum's dot product.
func cosineDistance(a, b []float32) float32 {
	af := toFloat64(a)
	bf := toFloat64(b)
	return float32(1 - floats.Dot(af, bf))
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
