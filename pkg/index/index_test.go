package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/synapsedb/engine/pkg/types"
)

func TestConceptIndexPutGetDelete(t *testing.T) {
	ci := NewConceptIndex()
	id := types.NewConceptId([]byte("a"))

	_, ok := ci.Get(id)
	require.False(t, ok)

	ci.Put(id, Location{SegmentID: 1, Offset: 42})
	loc, ok := ci.Get(id)
	require.True(t, ok)
	require.Equal(t, int64(42), loc.Offset)

	ci.Delete(id)
	_, ok = ci.Get(id)
	require.False(t, ok)
}

func TestAdjacencyIndexSpillsPastInline(t *testing.T) {
	ai := NewAdjacencyIndex()
	src := types.NewConceptId([]byte("src"))

	for i := 0; i < maxInlineNeighbours+5; i++ {
		ai.Add(src, types.AssociationId(i))
	}

	neighbours := ai.Neighbours(src)
	require.Len(t, neighbours, maxInlineNeighbours+5)

	ai.Remove(src, 0)
	require.Len(t, ai.Neighbours(src), maxInlineNeighbours+4)
}

func TestWordIndexFoldingAndSearch(t *testing.T) {
	wi := NewWordIndex()
	id := types.NewConceptId([]byte("1"))
	wi.Index(id, []byte("The Café is OPEN"))

	got := wi.Search("café")
	require.Contains(t, got, id)

	got = wi.Search("CAFE")
	require.Empty(t, got) // folding lowercases but keeps accents, so "cafe" doesn't match "café"

	wi.Unindex(id, []byte("The Café is OPEN"))
	require.Empty(t, wi.Search("café"))
}

func TestTemporalIndexRange(t *testing.T) {
	ti := NewTemporalIndex()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano()

	idA := types.NewConceptId([]byte("a"))
	idB := types.NewConceptId([]byte("b"))
	idC := types.NewConceptId([]byte("c"))

	ti.Put(idA, base)
	ti.Put(idB, base+int64(time.Hour))
	ti.Put(idC, base+int64(24*time.Hour))

	got := ti.Range(base, base+int64(time.Hour))
	require.ElementsMatch(t, []types.ConceptId{idA, idB}, got)

	require.ElementsMatch(t, []types.ConceptId{idA}, ti.At(base))

	ti.Delete(idA, base)
	require.Empty(t, ti.At(base))
}
