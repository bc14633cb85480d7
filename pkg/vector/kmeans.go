package vector

import (
	"math/rand"

	"github.com/synapsedb/engine/pkg/types"
)

// Codebook holds M frozen sets of K centroids, one set per PQ subspace.
type Codebook struct {
	cfg       Config
	centroids [][][]float32 // [subspace][centroid][subDim]
}

// Encode quantizes a full-length vector into cfg.M bytes, one nearest
// centroid index per subspace.
func (cb *Codebook) Encode(v []float32) []byte {
	subDim := cb.cfg.D / cb.cfg.M
	code := make([]byte, cb.cfg.M)
	for m := 0; m < cb.cfg.M; m++ {
		sub := v[m*subDim : (m+1)*subDim]
		code[m] = byte(nearestCentroid(sub, cb.centroids[m]))
	}
	return code
}

// distanceTables precomputes, for a query vector, the squared distance
// from each of its M subvectors to every centroid in that subspace — the
// asymmetric distance computation (ADC) table that makes PQ search cheap:
// approximate distance to any stored code becomes M table lookups and
// additions instead of a full D-dimensional distance computation.
func (cb *Codebook) distanceTables(query []float32) [][]float32 {
	subDim := cb.cfg.D / cb.cfg.M
	tables := make([][]float32, cb.cfg.M)
	for m := 0; m < cb.cfg.M; m++ {
		sub := query[m*subDim : (m+1)*subDim]
		table := make([]float32, len(cb.centroids[m]))
		for k, centroid := range cb.centroids[m] {
			table[k] = sqDist(sub, centroid)
		}
		tables[m] = table
	}
	return tables
}

// SearchApprox ranks every coded vector by its table-lookup approximate
// distance to query and returns the topK closest.
func (cb *Codebook) SearchApprox(query []float32, codes map[types.ConceptId][]byte, topK int) []ScoredID {
	tables := cb.distanceTables(query)
	out := make([]ScoredID, 0, len(codes))
	for id, code := range codes {
		var d float32
		for m, c := range code {
			d += tables[m][c]
		}
		// Query and codes are unit-normalised, so half the squared
		// Euclidean distance is the cosine distance.
		out = append(out, ScoredID{ID: id, Distance: d / 2})
	}
	return topN(out, topK)
}

func nearestCentroid(v []float32, centroids [][]float32) int {
	best := 0
	bestDist := sqDist(v, centroids[0])
	for i := 1; i < len(centroids); i++ {
		d := sqDist(v, centroids[i])
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

func sqDist(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// trainCodebook learns M independent sets of K centroids, one per
// subspace, using k-means++ initialization followed by Lloyd's algorithm
// (at most cfg.MaxTrainIterations iterations, or until assignments stop
// changing).
func trainCodebook(vectors [][]float32, cfg Config) (*Codebook, error) {
	subDim := cfg.D / cfg.M
	cb := &Codebook{cfg: cfg, centroids: make([][][]float32, cfg.M)}

	rng := rand.New(rand.NewSource(42)) // deterministic training, matching frozen-codebook semantics

	for m := 0; m < cfg.M; m++ {
		subvectors := make([][]float32, len(vectors))
		for i, v := range vectors {
			subvectors[i] = v[m*subDim : (m+1)*subDim]
		}
		cb.centroids[m] = trainSubspace(subvectors, cfg.K, cfg.MaxTrainIterations, rng)
	}

	return cb, nil
}

// trainSubspace runs k-means++ init then Lloyd's algorithm for one
// subspace's vectors.
func trainSubspace(vectors [][]float32, k, maxIter int, rng *rand.Rand) [][]float32 {
	centroids := kmeansPlusPlusInit(vectors, k, rng)

	assignments := make([]int, len(vectors))
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, v := range vectors {
			a := nearestCentroid(v, centroids)
			if a != assignments[i] {
				assignments[i] = a
				changed = true
			}
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		dim := len(vectors[0])
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for i, v := range vectors {
			a := assignments[i]
			counts[a]++
			for d, x := range v {
				sums[a][d] += float64(x)
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue // keep previous centroid; an empty cluster isn't reseeded mid-run
			}
			newCentroid := make([]float32, dim)
			for d := 0; d < dim; d++ {
				newCentroid[d] = float32(sums[c][d] / float64(counts[c]))
			}
			centroids[c] = newCentroid
		}

		if !changed && iter > 0 {
			break
		}
	}

	return centroids
}

// kmeansPlusPlusInit seeds k centroids by the k-means++ scheme: the first
// centroid is uniform-random, each subsequent one is chosen with
// probability proportional to its squared distance from the nearest
// already-chosen centroid, spreading initial centroids out and avoiding
// the poor convergence of pure random init.
func kmeansPlusPlusInit(vectors [][]float32, k int, rng *rand.Rand) [][]float32 {
	centroids := make([][]float32, 0, k)
	first := vectors[rng.Intn(len(vectors))]
	centroids = append(centroids, append([]float32{}, first...))

	dist := make([]float64, len(vectors))
	for len(centroids) < k {
		var total float64
		for i, v := range vectors {
			d := float64(sqDist(v, centroids[len(centroids)-1]))
			if len(centroids) == 1 || d < dist[i] {
				dist[i] = d
			}
			total += dist[i]
		}
		if total == 0 {
			// all remaining points coincide with a chosen centroid; pad
			// with random picks rather than looping forever.
			centroids = append(centroids, append([]float32{}, vectors[rng.Intn(len(vectors))]...))
			continue
		}
		target := rng.Float64() * total
		var cum float64
		chosen := len(vectors) - 1
		for i, d := range dist {
			cum += d
			if cum >= target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, append([]float32{}, vectors[chosen]...))
	}
	return centroids
}
