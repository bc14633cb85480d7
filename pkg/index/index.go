// Package index implements the engine's four in-memory indexes: a
// sharded concept index, a sharded adjacency index with a small-vector
// optimization, a sharded inverted word index, and a B-tree-backed
// temporal index. All four support concurrent reads. The three sharded
// indexes take only the read or write lock of the stripe holding the key,
// never a whole-index lock; the temporal index guards its B-tree with a
// single read-write mutex.
package index

import (
	"hash/maphash"
	"runtime"
	"strings"
	"sync"
	"unicode"

	"github.com/google/btree"

	"github.com/synapsedb/engine/pkg/types"
)

func stripeCount() int {
	n := runtime.GOMAXPROCS(0) * 4
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

var seed = maphash.MakeSeed()

func stripeFor(id types.ConceptId, n int) int {
	var h maphash.Hash
	h.SetSeed(seed)
	h.Write(id[:])
	return int(h.Sum64() & uint64(n-1))
}

// ConceptIndex maps ConceptId to the shard-local position of the concept
// record (segment + offset, or "in the write log") used by get_concept to
// avoid a full snapshot scan.
type ConceptIndex struct {
	stripes []conceptStripe
}

type conceptStripe struct {
	mu   sync.RWMutex
	locs map[types.ConceptId]Location
}

// Location points at where a concept's current record lives.
type Location struct {
	SegmentID uint32
	Offset    int64
	InMemory  bool
}

// NewConceptIndex creates an empty concept index.
func NewConceptIndex() *ConceptIndex {
	n := stripeCount()
	ci := &ConceptIndex{stripes: make([]conceptStripe, n)}
	for i := range ci.stripes {
		ci.stripes[i].locs = make(map[types.ConceptId]Location)
	}
	return ci
}

func (ci *ConceptIndex) stripe(id types.ConceptId) *conceptStripe {
	return &ci.stripes[stripeFor(id, len(ci.stripes))]
}

// Put records (or overwrites) a concept's location.
func (ci *ConceptIndex) Put(id types.ConceptId, loc Location) {
	s := ci.stripe(id)
	s.mu.Lock()
	s.locs[id] = loc
	s.mu.Unlock()
}

// Get returns a concept's location, if indexed.
func (ci *ConceptIndex) Get(id types.ConceptId) (Location, bool) {
	s := ci.stripe(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locs[id]
	return loc, ok
}

// Delete removes a concept's entry; the engine calls it as soon as the
// concept is tombstoned.
func (ci *ConceptIndex) Delete(id types.ConceptId) {
	s := ci.stripe(id)
	s.mu.Lock()
	delete(s.locs, id)
	s.mu.Unlock()
}

// Len returns the total number of indexed concepts, for stats.
func (ci *ConceptIndex) Len() int {
	n := 0
	for i := range ci.stripes {
		ci.stripes[i].mu.RLock()
		n += len(ci.stripes[i].locs)
		ci.stripes[i].mu.RUnlock()
	}
	return n
}

// maxInlineNeighbours is the small-vector optimization threshold: sources
// with few outgoing edges (the overwhelming common case) avoid a slice
// header and heap allocation entirely.
const maxInlineNeighbours = 8

// neighbourSet holds a source concept's outgoing association ids, inline
// up to maxInlineNeighbours before spilling to an overflow slice.
type neighbourSet struct {
	inline    [maxInlineNeighbours]types.AssociationId
	inlineLen int
	overflow  []types.AssociationId
}

// add records id, a no-op if id is already present — add_association's
// coalescing can re-add the same association id when a repeated write for
// an existing (source, target, type) triple reuses its id, and the
// neighbour cap must count each association once regardless.
func (n *neighbourSet) add(id types.AssociationId) {
	for i := 0; i < n.inlineLen; i++ {
		if n.inline[i] == id {
			return
		}
	}
	for _, v := range n.overflow {
		if v == id {
			return
		}
	}
	if n.inlineLen < maxInlineNeighbours {
		n.inline[n.inlineLen] = id
		n.inlineLen++
		return
	}
	n.overflow = append(n.overflow, id)
}

func (n *neighbourSet) all() []types.AssociationId {
	out := make([]types.AssociationId, 0, n.inlineLen+len(n.overflow))
	out = append(out, n.inline[:n.inlineLen]...)
	out = append(out, n.overflow...)
	return out
}

func (n *neighbourSet) remove(id types.AssociationId) {
	for i := 0; i < n.inlineLen; i++ {
		if n.inline[i] == id {
			n.inline[i] = n.inline[n.inlineLen-1]
			n.inlineLen--
			return
		}
	}
	for i, v := range n.overflow {
		if v == id {
			n.overflow = append(n.overflow[:i], n.overflow[i+1:]...)
			return
		}
	}
}

// AdjacencyIndex maps a source ConceptId to the set of AssociationIds it
// owns.
type AdjacencyIndex struct {
	stripes []adjStripe
}

type adjStripe struct {
	mu   sync.RWMutex
	sets map[types.ConceptId]*neighbourSet
}

// NewAdjacencyIndex creates an empty adjacency index.
func NewAdjacencyIndex() *AdjacencyIndex {
	n := stripeCount()
	ai := &AdjacencyIndex{stripes: make([]adjStripe, n)}
	for i := range ai.stripes {
		ai.stripes[i].sets = make(map[types.ConceptId]*neighbourSet)
	}
	return ai
}

func (ai *AdjacencyIndex) stripe(id types.ConceptId) *adjStripe {
	return &ai.stripes[stripeFor(id, len(ai.stripes))]
}

// Add records that source owns association id.
func (ai *AdjacencyIndex) Add(source types.ConceptId, id types.AssociationId) {
	s := ai.stripe(source)
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[source]
	if !ok {
		set = &neighbourSet{}
		s.sets[source] = set
	}
	set.add(id)
}

// Remove drops association id from source's neighbour set.
func (ai *AdjacencyIndex) Remove(source types.ConceptId, id types.AssociationId) {
	s := ai.stripe(source)
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.sets[source]; ok {
		set.remove(id)
	}
}

// Neighbours returns up to the engine's hard cap (256) association ids
// owned by source, in no particular order; callers sort/filter as needed.
func (ai *AdjacencyIndex) Neighbours(source types.ConceptId) []types.AssociationId {
	s := ai.stripe(source)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sets[source]
	if !ok {
		return nil
	}
	return set.all()
}

// WordIndex maps a case-folded word to the set of concepts whose content
// contains it, for search_by_word.
type WordIndex struct {
	stripes []wordStripe
}

type wordStripe struct {
	mu      sync.RWMutex
	postings map[string]map[types.ConceptId]struct{}
}

func wordStripeFor(word string, n int) int {
	var h maphash.Hash
	h.SetSeed(seed)
	h.WriteString(word)
	return int(h.Sum64() & uint64(n-1))
}

// NewWordIndex creates an empty inverted word index.
func NewWordIndex() *WordIndex {
	n := stripeCount()
	wi := &WordIndex{stripes: make([]wordStripe, n)}
	for i := range wi.stripes {
		wi.stripes[i].postings = make(map[string]map[types.ConceptId]struct{})
	}
	return wi
}

// Fold normalizes a word the same way for indexing and for querying:
// Unicode case folding plus trimming of non-letter/number runes, so
// "Café" and "café" and "CAFÉ" all hit the same posting list.
func Fold(word string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(word) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (wi *WordIndex) stripe(word string) *wordStripe {
	return &wi.stripes[wordStripeFor(word, len(wi.stripes))]
}

// Index adds id to every distinct word found in content.
func (wi *WordIndex) Index(id types.ConceptId, content []byte) {
	for _, raw := range strings.Fields(string(content)) {
		word := Fold(raw)
		if word == "" {
			continue
		}
		s := wi.stripe(word)
		s.mu.Lock()
		set, ok := s.postings[word]
		if !ok {
			set = make(map[types.ConceptId]struct{})
			s.postings[word] = set
		}
		set[id] = struct{}{}
		s.mu.Unlock()
	}
}

// Unindex removes id from every distinct word found in content.
func (wi *WordIndex) Unindex(id types.ConceptId, content []byte) {
	for _, raw := range strings.Fields(string(content)) {
		word := Fold(raw)
		if word == "" {
			continue
		}
		s := wi.stripe(word)
		s.mu.Lock()
		if set, ok := s.postings[word]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(s.postings, word)
			}
		}
		s.mu.Unlock()
	}
}

// Search returns every concept id whose content contains word.
func (wi *WordIndex) Search(word string) []types.ConceptId {
	folded := Fold(word)
	s := wi.stripe(folded)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.postings[folded]
	if !ok {
		return nil
	}
	out := make([]types.ConceptId, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// tsEntry is one btree item: a (timestamp, concept) pair ordered purely by
// timestamp, with ties broken by ConceptId bytes so btree.Less gives a
// total order.
type tsEntry struct {
	unixNano int64
	id       types.ConceptId
}

func (a tsEntry) Less(than btree.Item) bool {
	b := than.(tsEntry)
	if a.unixNano != b.unixNano {
		return a.unixNano < b.unixNano
	}
	return lessConceptId(a.id, b.id)
}

func lessConceptId(a, b types.ConceptId) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// TemporalIndex orders concepts by their TemporalScope.Start, answering
// query_at_time and query_time_range in O(log N + k) via a B-tree,
// grounded in the same btree.BTree delta-index pattern used for sorted
// range scans elsewhere in the ecosystem.
type TemporalIndex struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

// NewTemporalIndex creates an empty temporal index backed by a B-tree of
// degree 32.
func NewTemporalIndex() *TemporalIndex {
	return &TemporalIndex{tree: btree.New(32)}
}

// Put indexes id at the given time.
func (ti *TemporalIndex) Put(id types.ConceptId, unixNano int64) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.tree.ReplaceOrInsert(tsEntry{unixNano: unixNano, id: id})
}

// Delete removes id's entry at the given time.
func (ti *TemporalIndex) Delete(id types.ConceptId, unixNano int64) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.tree.Delete(tsEntry{unixNano: unixNano, id: id})
}

// At returns every concept indexed at exactly unixNano.
func (ti *TemporalIndex) At(unixNano int64) []types.ConceptId {
	return ti.Range(unixNano, unixNano)
}

// Range returns every concept indexed within [fromNano, toNano], sorted by
// time ascending.
func (ti *TemporalIndex) Range(fromNano, toNano int64) []types.ConceptId {
	ti.mu.RLock()
	defer ti.mu.RUnlock()

	var out []types.ConceptId
	ti.tree.AscendRange(
		tsEntry{unixNano: fromNano},
		tsEntry{unixNano: toNano + 1},
		func(item btree.Item) bool {
			out = append(out, item.(tsEntry).id)
			return true
		},
	)
	return out
}
