package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemStoreMutateRollsBackOnError(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, Session{ID: "s1", State: StateScheduled, CreatedAt: time.Now()}))

	boom := errors.New("boom")
	_, err := store.Mutate(ctx, "s1", func(a *Aggregate) error {
		a.Session.State = StateOpen
		a.PutSignature(Signature{ID: "x", SessionID: "s1", ParticipantID: "p1"})
		return boom
	})
	require.ErrorIs(t, err, boom)

	agg, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, StateScheduled, agg.Session.State)
	require.Empty(t, agg.Signatures())
}

func TestMemStoreGetReturnsCopy(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, Session{ID: "s1", State: StateScheduled}))

	agg, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	agg.Session.State = StateOpen // must not leak into the store

	again, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, StateScheduled, again.Session.State)
}

func TestMemStoreList(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(ctx, Session{ID: "a", CourseID: "c1", State: StateScheduled, CreatedAt: base}))
	require.NoError(t, store.Create(ctx, Session{ID: "b", CourseID: "c1", State: StateOpen, CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, store.Create(ctx, Session{ID: "c", CourseID: "c2", State: StateScheduled, CreatedAt: base.Add(2 * time.Hour)}))

	all, err := store.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "c", all[0].ID) // newest first

	byCourse, err := store.List(ctx, ListFilter{CourseID: "c1"})
	require.NoError(t, err)
	require.Len(t, byCourse, 2)

	byState, err := store.List(ctx, ListFilter{CourseID: "c1", State: StateOpen})
	require.NoError(t, err)
	require.Len(t, byState, 1)
	require.Equal(t, "b", byState[0].ID)

	paged, err := store.List(ctx, ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	require.Equal(t, "b", paged[0].ID)
}

func TestMemStoreUnknownSession(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Mutate(ctx, "missing", func(a *Aggregate) error { return nil })
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Create(ctx, Session{ID: "dup"}))
	require.Error(t, store.Create(ctx, Session{ID: "dup"}))
}
