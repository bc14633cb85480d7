// Package hnsw implements a hierarchical navigable small world graph index
// for approximate nearest-neighbour vector search, with default parameters
// M=16, efConstruction=200, efSearch=100. Removal is tombstone-based:
// deleted nodes stay in the graph (so neighbours' edge lists remain
// valid) but are filtered out of search results and never chosen as entry
// points.
package hnsw

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sync"

	"github.com/synapsedb/engine/pkg/types"
)

// Config holds the graph's construction and search parameters.
type Config struct {
	M              int // max neighbours per node per layer, default 16
	EfConstruction int // candidate list size during insert, default 200
	EfSearch       int // candidate list size during search, default 100; the one parameter mutable after construction
}

// DefaultConfig returns the default HNSW parameters.
func DefaultConfig() Config {
	return Config{M: 16, EfConstruction: 200, EfSearch: 100}
}

type node struct {
	id        types.ConceptId
	vector    []float32
	level     int
	neighbors [][]types.ConceptId // neighbors[layer]
	deleted   bool
}

// Graph is a concurrent-safe HNSW index. Reads (Search) take an RLock;
// Insert/Remove take the write lock, since mutation is exclusive while
// search is shared.
type Graph struct {
	mu  sync.RWMutex
	cfg Config

	nodes map[types.ConceptId]*node
	entry types.ConceptId
	hasEntry bool

	rng *rand.Rand
}

// New creates an empty graph.
func New(cfg Config) *Graph {
	return &Graph{
		cfg:   cfg,
		nodes: make(map[types.ConceptId]*node),
		rng:   rand.New(rand.NewSource(1)),
	}
}

// SetEfSearch adjusts the search-time candidate list size. It is the only
// parameter allowed to change after construction.
func (g *Graph) SetEfSearch(ef int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg.EfSearch = ef
}

func (g *Graph) randomLevel() int {
	level := 0
	for g.rng.Float64() < 0.5 && level < 32 {
		level++
	}
	return level
}

// Insert adds a vector to the graph. Re-inserting an existing id replaces
// its vector and rewires its edges at every layer it participates in.
func (g *Graph) Insert(id types.ConceptId, vector []float32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	level := g.randomLevel()
	n := &node{id: id, vector: vector, level: level, neighbors: make([][]types.ConceptId, level+1)}
	g.nodes[id] = n

	if !g.hasEntry {
		g.entry = id
		g.hasEntry = true
		return
	}

	entry := g.nodes[g.entry]
	cur := entry.id
	for layer := entry.level; layer > level; layer-- {
		cur = g.greedyClosest(cur, vector, layer)
	}

	for layer := min(level, entry.level); layer >= 0; layer-- {
		candidates := g.searchLayer(vector, cur, g.cfg.EfConstruction, layer)
		neighbors := selectNeighbors(candidates, g.cfg.M)
		n.neighbors[layer] = neighbors

		for _, nb := range neighbors {
			nbNode := g.nodes[nb]
			nbNode.neighbors[layer] = appendBounded(nbNode.neighbors[layer], id, nbNode.vector, g.nodes, g.cfg.M)
		}
		if len(candidates) > 0 {
			cur = candidates[0].id
		}
	}

	if level > entry.level {
		g.entry = id
	}
}

// Remove tombstones a node so it is skipped by future searches and never
// chosen as an entry point, without touching its neighbours' edge lists;
// this avoids an expensive graph-wide rewrite on every delete.
func (g *Graph) Remove(id types.ConceptId) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	n.deleted = true
	if g.entry == id {
		g.pickNewEntry()
	}
}

func (g *Graph) pickNewEntry() {
	g.hasEntry = false
	best := -1
	for id, n := range g.nodes {
		if n.deleted {
			continue
		}
		if n.level > best {
			best = n.level
			g.entry = id
			g.hasEntry = true
		}
	}
}

// Result pairs a concept id with its distance to the query vector.
type Result struct {
	ID       types.ConceptId
	Distance float32
}

// Search returns up to k nearest neighbours to the query vector. If the
// graph is empty or has no live entry point, it returns an empty result
// set; callers fall back to a linear scan over the raw vector store in
// that case.
func (g *Graph) Search(query []float32, k int) []Result {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.hasEntry {
		return nil
	}

	entry := g.nodes[g.entry]
	cur := entry.id
	for layer := entry.level; layer > 0; layer-- {
		cur = g.greedyClosest(cur, query, layer)
	}

	ef := g.cfg.EfSearch
	if k > ef {
		ef = k
	}
	candidates := g.searchLayer(query, cur, ef, 0)

	out := make([]Result, 0, k)
	for _, c := range candidates {
		if g.nodes[c.id].deleted {
			continue
		}
		out = append(out, Result{ID: c.id, Distance: c.dist})
		if len(out) == k {
			break
		}
	}
	return out
}

type scored struct {
	id   types.ConceptId
	dist float32
}

// greedyClosest walks from cur toward the nearest neighbour to query at
// the given layer until no neighbour improves on the current node.
func (g *Graph) greedyClosest(cur types.ConceptId, query []float32, layer int) types.ConceptId {
	curDist := distance(g.nodes[cur].vector, query)
	for {
		improved := false
		for _, nb := range neighborsAtLayer(g.nodes[cur], layer) {
			d := distance(g.nodes[nb].vector, query)
			if d < curDist {
				curDist = d
				cur = nb
				improved = true
			}
		}
		if !improved {
			return cur
		}
	}
}

// searchLayer performs a best-first search at one layer, maintaining a
// candidate set of size ef, and returns the candidates sorted by
// ascending distance. This is the algorithm's core "ef" exploration
// parameter: larger ef trades latency for recall.
func (g *Graph) searchLayer(query []float32, entry types.ConceptId, ef int, layer int) []scored {
	visited := map[types.ConceptId]bool{entry: true}
	entryDist := distance(g.nodes[entry].vector, query)

	candidates := []scored{{id: entry, dist: entryDist}}
	results := []scored{{id: entry, dist: entryDist}}

	for len(candidates) > 0 {
		var cur scored
		cur, candidates = popClosest(candidates)

		if len(results) >= ef && cur.dist > furthest(results).dist {
			break
		}

		for _, nb := range neighborsAtLayer(g.nodes[cur.id], layer) {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := distance(g.nodes[nb].vector, query)
			if len(results) < ef || d < furthest(results).dist {
				results = append(results, scored{id: nb, dist: d})
				candidates = append(candidates, scored{id: nb, dist: d})
				if len(results) > ef {
					results = dropFurthest(results)
				}
			}
		}
	}

	sortScored(results)
	return results
}

// popClosest removes and returns the candidate with the smallest
// distance, returning the remaining slice.
func popClosest(candidates []scored) (scored, []scored) {
	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].dist < candidates[best].dist {
			best = i
		}
	}
	c := candidates[best]
	candidates[best] = candidates[len(candidates)-1]
	return c, candidates[:len(candidates)-1]
}

func furthest(results []scored) scored {
	worst := results[0]
	for _, r := range results[1:] {
		if r.dist > worst.dist {
			worst = r
		}
	}
	return worst
}

func dropFurthest(results []scored) []scored {
	worstIdx := 0
	for i := 1; i < len(results); i++ {
		if results[i].dist > results[worstIdx].dist {
			worstIdx = i
		}
	}
	results[worstIdx] = results[len(results)-1]
	return results[:len(results)-1]
}

func sortScored(s []scored) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && (s[j].dist < s[j-1].dist ||
			(s[j].dist == s[j-1].dist && bytes.Compare(s[j].id[:], s[j-1].id[:]) < 0)); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func neighborsAtLayer(n *node, layer int) []types.ConceptId {
	if layer >= len(n.neighbors) {
		return nil
	}
	return n.neighbors[layer]
}

func selectNeighbors(candidates []scored, m int) []types.ConceptId {
	sortScored(candidates)
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	out := make([]types.ConceptId, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out
}

// appendBounded adds id to a neighbour list, then trims back to m entries
// by distance (ascending id tie-break, applied by the stable sort order
// above) if the list grew past the bound.
func appendBounded(list []types.ConceptId, id types.ConceptId, from []float32, nodes map[types.ConceptId]*node, m int) []types.ConceptId {
	list = append(list, id)
	if len(list) <= m {
		return list
	}
	cands := make([]scored, len(list))
	for i, nid := range list {
		cands[i] = scored{id: nid, dist: distance(nodes[nid].vector, from)}
	}
	return selectNeighbors(cands, m)
}

// distance returns the cosine distance (1 - cosine similarity) between a
// and b; a zero vector is at distance 1 from everything.
func distance(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Save persists the graph to path in a simple length-prefixed binary
// format: header (M, EfConstruction, node count), then one record per
// node (id, level, vector, deleted flag, neighbour ids per layer).
func (g *Graph) Save(path string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("hnsw: create snapshot: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	binary.Write(w, binary.LittleEndian, int32(g.cfg.M))
	binary.Write(w, binary.LittleEndian, int32(g.cfg.EfConstruction))
	binary.Write(w, binary.LittleEndian, int32(len(g.nodes)))

	for id, n := range g.nodes {
		w.Write(id[:])
		binary.Write(w, binary.LittleEndian, int32(n.level))
		var deleted byte
		if n.deleted {
			deleted = 1
		}
		w.WriteByte(deleted)
		binary.Write(w, binary.LittleEndian, int32(len(n.vector)))
		binary.Write(w, binary.LittleEndian, n.vector)
		for layer := 0; layer <= n.level; layer++ {
			neighbors := n.neighbors[layer]
			binary.Write(w, binary.LittleEndian, int32(len(neighbors)))
			for _, nb := range neighbors {
				w.Write(nb[:])
			}
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("hnsw: flush snapshot: %w", err)
	}
	return f.Sync()
}

// Load reads a graph snapshot written by Save.
func Load(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hnsw: open snapshot: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var m, efc, count int32
	binary.Read(r, binary.LittleEndian, &m)
	binary.Read(r, binary.LittleEndian, &efc)
	binary.Read(r, binary.LittleEndian, &count)

	g := New(Config{M: int(m), EfConstruction: int(efc), EfSearch: DefaultConfig().EfSearch})

	for i := int32(0); i < count; i++ {
		var id types.ConceptId
		readFull(r, id[:])
		var level int32
		binary.Read(r, binary.LittleEndian, &level)
		deleted, _ := r.ReadByte()
		var vecLen int32
		binary.Read(r, binary.LittleEndian, &vecLen)
		vector := make([]float32, vecLen)
		binary.Read(r, binary.LittleEndian, vector)

		n := &node{id: id, vector: vector, level: int(level), deleted: deleted == 1, neighbors: make([][]types.ConceptId, level+1)}
		for layer := int32(0); layer <= level; layer++ {
			var nLen int32
			binary.Read(r, binary.LittleEndian, &nLen)
			neighbors := make([]types.ConceptId, nLen)
			for j := int32(0); j < nLen; j++ {
				readFull(r, neighbors[j][:])
			}
			n.neighbors[layer] = neighbors
		}
		g.nodes[id] = n
		if !g.hasEntry || n.level > g.nodes[g.entry].level {
			g.entry = id
			g.hasEntry = true
		}
	}

	return g, nil
}

func readFull(r *bufio.Reader, buf []byte) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		if err != nil {
			return
		}
		n += m
	}
}
