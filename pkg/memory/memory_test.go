package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/synapsedb/engine/pkg/types"
)

func TestWriteLogBackpressure(t *testing.T) {
	wl := NewWriteLog(1)
	require.NoError(t, wl.PutConcept(types.Concept{ID: types.NewConceptId([]byte("a"))}))
	err := wl.PutConcept(types.Concept{ID: types.NewConceptId([]byte("b"))})
	require.ErrorIs(t, err, ErrWriteLogFull)
}

func TestReconcilerFoldsWritesIntoSnapshot(t *testing.T) {
	wl := NewWriteLog(16)
	r := NewReconciler(0, wl, time.Millisecond, time.Second, nil)

	id := types.NewConceptId([]byte("hello"))
	require.NoError(t, wl.PutConcept(types.Concept{ID: id, State: types.ConceptVisible, Content: []byte("hello")}))

	folded := r.ForceCycle()
	require.Equal(t, 1, folded)

	snap := r.Snapshot()
	c, ok := snap.GetConcept(id)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), c.Content)
}

func TestReconcilerTombstoneHidesConcept(t *testing.T) {
	wl := NewWriteLog(16)
	r := NewReconciler(0, wl, time.Millisecond, time.Second, nil)

	id := types.NewConceptId([]byte("x"))
	require.NoError(t, wl.PutConcept(types.Concept{ID: id, State: types.ConceptVisible}))
	r.ForceCycle()

	require.NoError(t, wl.TombstoneConcept(id))
	r.ForceCycle()

	_, ok := r.Snapshot().GetConcept(id)
	require.False(t, ok)
}

func TestAssociationLastWriterWins(t *testing.T) {
	wl := NewWriteLog(16)
	r := NewReconciler(0, wl, time.Millisecond, time.Second, nil)

	src := types.NewConceptId([]byte("src"))
	dst := types.NewConceptId([]byte("dst"))
	now := time.Now()

	require.NoError(t, wl.PutAssociation(types.Association{ID: 1, Source: src, Target: dst, Weight: 0.1, ModifiedAt: now}))
	require.NoError(t, wl.PutAssociation(types.Association{ID: 1, Source: src, Target: dst, Weight: 0.9, ModifiedAt: now.Add(time.Second)}))
	r.ForceCycle()

	neighbours := r.Snapshot().Neighbours(src)
	require.Len(t, neighbours, 1)
	require.Equal(t, float32(0.9), neighbours[0].Weight)
}

func TestAssociationVisibleFromBothEnds(t *testing.T) {
	wl := NewWriteLog(16)
	r := NewReconciler(0, wl, time.Millisecond, time.Second, nil)

	src := types.NewConceptId([]byte("src2"))
	dst := types.NewConceptId([]byte("dst2"))

	require.NoError(t, wl.PutAssociation(types.Association{ID: 1, Source: src, Target: dst, Weight: 0.5, ModifiedAt: time.Now()}))
	r.ForceCycle()

	snap := r.Snapshot()
	require.Len(t, snap.Neighbours(src), 1)
	require.Len(t, snap.Neighbours(dst), 1)
	require.Equal(t, dst, snap.Neighbours(src)[0].Target)
	require.Equal(t, src, snap.Neighbours(dst)[0].Source)
}

func TestAssociationsByTypeCountsEachAssociationOnce(t *testing.T) {
	wl := NewWriteLog(16)
	r := NewReconciler(0, wl, time.Millisecond, time.Second, nil)

	src := types.NewConceptId([]byte("srcA"))
	dst := types.NewConceptId([]byte("dstA"))
	require.NoError(t, wl.PutAssociation(types.Association{
		ID: 7, Source: src, Target: dst, Type: types.AssociationCausal, ModifiedAt: time.Now(),
	}))
	r.ForceCycle()

	counts := r.Snapshot().AssociationsByType()
	require.Equal(t, int64(1), counts[types.AssociationCausal])
}
