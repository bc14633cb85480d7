package wal

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()

	w, recs, err := Open(dir, 0)
	require.NoError(t, err)
	require.Empty(t, recs)

	seq0, err := w.Append(OpPutConcept, []byte("first"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), seq0)

	seq1, err := w.Append(OpPutConcept, []byte("second"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq1)
	require.NoError(t, w.Close())

	_, recs, err = Open(dir, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, []byte("first"), recs[0].Payload)
	require.Equal(t, []byte("second"), recs[1].Payload)
}

func TestReplayStopsCleanlyOnTornTail(t *testing.T) {
	dir := t.TempDir()

	w, _, err := Open(dir, 0)
	require.NoError(t, err)
	_, err = w.Append(OpPutConcept, []byte("good"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	path := segmentPath(dir, 0)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, recs, err := Open(dir, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, []byte("good"), recs[0].Payload)
}

func TestTruncateRemovesSealedSegments(t *testing.T) {
	dir := t.TempDir()
	w, _, err := Open(dir, 0)
	require.NoError(t, err)
	w.maxSegmentBytes = 1 // force rotation on every append

	for i := 0; i < 3; i++ {
		_, err := w.Append(OpPutConcept, []byte("x"))
		require.NoError(t, err)
	}

	require.NoError(t, w.Truncate(2))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.LessOrEqual(t, len(entries), 2)
}
