package shard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/synapsedb/engine/pkg/storage"
	"github.com/synapsedb/engine/pkg/types"
)

var errPrepareFailed = errors.New("prepare failed")

type fakeParticipant struct {
	prepared  map[string]bool
	committed map[string]bool
	aborted   map[string]bool
	failPrep  bool
}

func newFakeParticipant() *fakeParticipant {
	return &fakeParticipant{
		prepared:  make(map[string]bool),
		committed: make(map[string]bool),
		aborted:   make(map[string]bool),
	}
}

func (f *fakeParticipant) Prepare(_ context.Context, txID string, _ types.Association) error {
	if f.failPrep {
		return errPrepareFailed
	}
	f.prepared[txID] = true
	return nil
}

func (f *fakeParticipant) Commit(_ context.Context, txID string) error {
	f.committed[txID] = true
	return nil
}

func (f *fakeParticipant) Abort(_ context.Context, txID string) error {
	f.aborted[txID] = true
	return nil
}

func openTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir() + "/coordinator.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCoordinatorCommitsBothParticipants(t *testing.T) {
	store := openTestStore(t)
	c := NewCoordinator(store, time.Second)

	source := newFakeParticipant()
	target := newFakeParticipant()
	assoc := types.Association{ID: 1}

	err := c.Run(context.Background(), source, target, assoc)
	require.NoError(t, err)
	require.Len(t, source.committed, 1)
	require.Len(t, target.committed, 1)
}

func TestCoordinatorAbortsOnPrepareFailure(t *testing.T) {
	store := openTestStore(t)
	c := NewCoordinator(store, time.Second)

	source := newFakeParticipant()
	target := newFakeParticipant()
	target.failPrep = true
	assoc := types.Association{ID: 2}

	err := c.Run(context.Background(), source, target, assoc)
	require.Error(t, err)
	require.Len(t, source.aborted, 1)
	require.Empty(t, source.committed)
}

func TestCoordinatorRecoverAbortsUnknownTransaction(t *testing.T) {
	store := openTestStore(t)
	c := NewCoordinator(store, time.Second)

	source := newFakeParticipant()
	target := newFakeParticipant()
	assoc := types.Association{ID: 3}
	require.NoError(t, c.Run(context.Background(), source, target, assoc))

	// Recovering a transaction id the decision log never recorded, on a
	// fresh pair of participant handles, aborts it.
	freshSource := newFakeParticipant()
	freshTarget := newFakeParticipant()
	err := c.Recover(context.Background(), "nonexistent-tx", freshSource, freshTarget)
	require.NoError(t, err)
	require.Len(t, freshSource.aborted, 1)
}
