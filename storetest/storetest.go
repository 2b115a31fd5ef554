// Package storetest checks that a durablesaga.Store behaves like the
// in-memory one.
package storetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fortressi/durablesaga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises the Store returned by newStore. newStore is called once per
// subtest and must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) durablesaga.Store) {
	t.Run("save and load", func(t *testing.T) {
		testSaveLoad(t, newStore(t))
	})
	t.Run("save replaces", func(t *testing.T) {
		testSaveReplaces(t, newStore(t))
	})
	t.Run("load unknown", func(t *testing.T) {
		testLoadUnknown(t, newStore(t))
	})
	t.Run("delete", func(t *testing.T) {
		testDelete(t, newStore(t))
	})
	t.Run("list oldest first", func(t *testing.T) {
		testList(t, newStore(t))
	})
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Record returns a running instance record created offset after a fixed
// base time.
func Record(id string, offset time.Duration) durablesaga.InstanceRecord {
	return durablesaga.InstanceRecord{
		ID:        durablesaga.InstanceID(id),
		SagaName:  "place-order",
		Status:    durablesaga.InstanceRunning,
		Input:     json.RawMessage(`{"order_id":"` + id + `"}`),
		CreatedAt: base.Add(offset),
		UpdatedAt: base.Add(offset),
	}
}

func testSaveLoad(t *testing.T, s durablesaga.Store) {
	ctx := context.Background()
	rec := Record("inst-1", 0)

	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.SagaName, got.SagaName)
	assert.Equal(t, rec.Status, got.Status)
	assert.JSONEq(t, string(rec.Input), string(got.Input))
	assert.Nil(t, got.Outcome)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt), "created_at %v, want %v", got.CreatedAt, rec.CreatedAt)
}

func testSaveReplaces(t *testing.T, s durablesaga.Store) {
	ctx := context.Background()
	rec := Record("inst-1", 0)
	require.NoError(t, s.Save(ctx, rec))

	rec.Status = durablesaga.InstanceRolledBack
	rec.UpdatedAt = rec.UpdatedAt.Add(time.Minute)
	rec.Outcome = &durablesaga.SagaOutcome{
		Status:       durablesaga.OutcomeRolledBack,
		FailedStep:   "delivery",
		CauseMessage: "no courier available",
		Compensations: []durablesaga.CompensationResult{
			{Ordinal: 2, Activity: "RefundPayment", Succeeded: false, Error: "provider down"},
			{Ordinal: 1, Activity: "ReleaseInventory", Succeeded: true},
		},
	}
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, durablesaga.InstanceRolledBack, got.Status)
	assert.True(t, rec.UpdatedAt.Equal(got.UpdatedAt))
	require.NotNil(t, got.Outcome)
	assert.Equal(t, durablesaga.StepName("delivery"), got.Outcome.FailedStep)
	assert.Equal(t, rec.Outcome.Compensations, got.Outcome.Compensations)
	assert.True(t, got.Outcome.PartiallyRolledBack())

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testLoadUnknown(t *testing.T, s durablesaga.Store) {
	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, durablesaga.ErrInstanceNotFound)
}

func testDelete(t *testing.T, s durablesaga.Store) {
	ctx := context.Background()
	rec := Record("inst-1", 0)
	require.NoError(t, s.Save(ctx, rec))

	require.NoError(t, s.Delete(ctx, rec.ID))
	_, err := s.Load(ctx, rec.ID)
	assert.ErrorIs(t, err, durablesaga.ErrInstanceNotFound)

	assert.NoError(t, s.Delete(ctx, rec.ID))
}

func testList(t *testing.T, s durablesaga.Store) {
	ctx := context.Background()
	for _, rec := range []durablesaga.InstanceRecord{
		Record("inst-c", 2*time.Second),
		Record("inst-a", 0),
		Record("inst-b", time.Second),
	} {
		require.NoError(t, s.Save(ctx, rec))
	}

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, durablesaga.InstanceID("inst-a"), all[0].ID)
	assert.Equal(t, durablesaga.InstanceID("inst-b"), all[1].ID)
	assert.Equal(t, durablesaga.InstanceID("inst-c"), all[2].ID)
}
