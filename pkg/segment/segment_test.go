package segment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/synapsedb/engine/pkg/types"
)

func rec(id byte, modified time.Time, tombstone bool) Record {
	return Record{
		ConceptID:  types.NewConceptId([]byte{id}),
		Concept:    &types.Concept{ID: types.NewConceptId([]byte{id})},
		ModifiedAt: modified.UnixNano(),
		Tombstone:  tombstone,
	}
}

func TestWriteAndLoadSegmentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	records := []Record{rec(1, time.Now(), false), rec(2, time.Now(), false)}
	sortRecords(records)

	seg, err := WriteSegment(dir, 0, 0, records)
	require.NoError(t, err)

	loaded, err := LoadSegment(seg.Path, seg.ID, seg.Level)
	require.NoError(t, err)
	require.Len(t, loaded.Records, 2)
}

func TestManifestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	m, err := OpenManifest(dir)
	require.NoError(t, err)

	id, err := m.NextID()
	require.NoError(t, err)
	require.NoError(t, m.AddSegment(0, id))

	m2, err := OpenManifest(dir)
	require.NoError(t, err)
	require.Equal(t, []uint64{id}, m2.SegmentIDs(0))
}

func TestCompactorMergesOnThreshold(t *testing.T) {
	dir := t.TempDir()
	m, err := OpenManifest(dir)
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < mergeThreshold; i++ {
		id, err := m.NextID()
		require.NoError(t, err)
		_, err = WriteSegment(dir, id, 0, []Record{rec(byte(i), now, false)})
		require.NoError(t, err)
		require.NoError(t, m.AddSegment(0, id))
	}

	c := NewCompactor(0, dir, m)
	require.NoError(t, c.RunOnce())

	require.Empty(t, m.SegmentIDs(0))
	require.Len(t, m.SegmentIDs(1), 1)
}

func TestMergeSortedKeepsLatestModified(t *testing.T) {
	old := rec(1, time.Unix(100, 0), false)
	newer := rec(1, time.Unix(200, 0), false)

	merged := mergeSorted([]Record{old}, []Record{newer})
	require.Len(t, merged, 1)
	require.Equal(t, newer.ModifiedAt, merged[0].ModifiedAt)
}
