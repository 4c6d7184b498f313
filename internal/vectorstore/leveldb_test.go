package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/clinicalcopilot/internal/config"
	appErr "github.com/xxxsen/clinicalcopilot/internal/pkg/errors"
)

func newTestLevelDB(t *testing.T) Backend {
	t.Helper()
	b, err := New(config.VectorStoreConfig{Type: "LevelDB", Dir: t.TempDir()}, Deps{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestLevelDB_OpenMissing(t *testing.T) {
	b := newTestLevelDB(t)
	_, err := b.Open(context.Background(), "patient_x_12345678", false)
	require.ErrorIs(t, err, ErrCollectionNotFound)
	require.True(t, errors.Is(err, appErr.ErrNotFound))

	_, err = b.Open(context.Background(), "../escape", true)
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestLevelDB_UpsertQueryDelete(t *testing.T) {
	ctx := context.Background()
	b := newTestLevelDB(t)
	coll, err := b.Open(ctx, "patient_a_00000001", true)
	require.NoError(t, err)

	require.NoError(t, coll.Upsert(ctx, []Item{
		{ID: "a_conditions_0", Document: "Conditions: Asthma", Metadata: map[string]string{"type": "conditions"}, Embedding: []float32{1, 0, 0}},
		{ID: "a_medications_1", Document: "Medications: Albuterol", Metadata: map[string]string{"type": "medications"}, Embedding: []float32{0.8, 0.6, 0}},
		{ID: "a_allergies_2", Document: "Allergies: Penicillin", Metadata: map[string]string{"type": "allergies"}, Embedding: []float32{0, 0, 1}},
	}))
	n, err := coll.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	matches, err := coll.Query(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "a_conditions_0", matches[0].ID)
	require.Equal(t, "a_medications_1", matches[1].ID)
	require.LessOrEqual(t, matches[0].Distance, matches[1].Distance)
	require.InDelta(t, 0.2, matches[1].Distance, 1e-6)

	matches, err = coll.Query(ctx, []float32{1, 0, 0}, 5, map[string]string{"type": "allergies"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "Allergies: Penicillin", matches[0].Document)

	ids, err := coll.IDs(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a_conditions_0", "a_medications_1", "a_allergies_2"}, ids)
	require.NoError(t, coll.Delete(ctx, ids))
	n, err = coll.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	matches, err = coll.Query(ctx, []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.NotNil(t, matches)
	require.Empty(t, matches)
}

func TestLevelDB_CollectionsIsolated(t *testing.T) {
	ctx := context.Background()
	b := newTestLevelDB(t)
	a, err := b.Open(ctx, CollectionKey("A"), true)
	require.NoError(t, err)
	other, err := b.Open(ctx, CollectionKey("B"), true)
	require.NoError(t, err)

	require.NoError(t, a.Upsert(ctx, []Item{{ID: "A_conditions_0", Document: "x", Embedding: []float32{1}}}))
	matches, err := other.Query(ctx, []float32{1}, 10, nil)
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestLevelDB_ReopenAndDrop(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, err := NewLevelDB(dir, 0)
	require.NoError(t, err)
	coll, err := b.Open(ctx, "patient_k_00000002", true)
	require.NoError(t, err)
	require.NoError(t, coll.Upsert(ctx, []Item{{ID: "1", Document: "d", Embedding: []float32{1, 1}}}))
	require.NoError(t, b.Close())

	b, err = NewLevelDB(dir, 0)
	require.NoError(t, err)
	defer b.Close()
	coll, err = b.Open(ctx, "patient_k_00000002", false)
	require.NoError(t, err)
	n, err := coll.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, b.Drop(ctx, "patient_k_00000002"))
	_, err = b.Open(ctx, "patient_k_00000002", false)
	require.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(config.VectorStoreConfig{Type: "chroma"}, Deps{})
	require.ErrorIs(t, err, appErr.ErrConfiguration)
	_, err = New(config.VectorStoreConfig{Type: config.VectorStorePGVector}, Deps{})
	require.ErrorIs(t, err, appErr.ErrConfiguration)
}

func TestLevelDB_OpenHandlesBounded(t *testing.T) {
	ctx := context.Background()
	backend, err := NewLevelDB(t.TempDir(), 4)
	require.NoError(t, err)
	defer backend.Close()
	b := backend.(*levelDBBackend)

	for i := 0; i < 20; i++ {
		coll, err := b.Open(ctx, CollectionKey(fmt.Sprintf("p%d", i)), true)
		require.NoError(t, err)
		require.NoError(t, coll.Upsert(ctx, []Item{{ID: fmt.Sprintf("p%d_conditions_0", i), Document: "d", Embedding: []float32{1}}}))
		require.LessOrEqual(t, b.openCount(), 4)
	}

	coll, err := b.Open(ctx, CollectionKey("p0"), false)
	require.NoError(t, err)
	n, err := coll.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.LessOrEqual(t, b.openCount(), 4)
}

func TestLevelDB_EvictedHandleStaysOpenWhileInUse(t *testing.T) {
	ctx := context.Background()
	backend, err := NewLevelDB(t.TempDir(), 2)
	require.NoError(t, err)
	defer backend.Close()
	b := backend.(*levelDBBackend)

	key := CollectionKey("busy")
	h, err := b.acquire(key, true)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := b.Open(ctx, CollectionKey(fmt.Sprintf("other%d", i)), true)
		require.NoError(t, err)
	}
	require.True(t, h.evicted)
	require.False(t, h.closed)
	require.NoError(t, h.db.Put([]byte("item:x"), []byte(`{"id":"x"}`), nil))

	b.release(key, h)
	require.True(t, h.closed)

	coll, err := b.Open(ctx, key, false)
	require.NoError(t, err)
	n, err := coll.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestLevelDB_DropInUse(t *testing.T) {
	backend, err := NewLevelDB(t.TempDir(), 0)
	require.NoError(t, err)
	defer backend.Close()
	b := backend.(*levelDBBackend)

	key := CollectionKey("held")
	h, err := b.acquire(key, true)
	require.NoError(t, err)
	require.ErrorIs(t, b.Drop(context.Background(), key), appErr.ErrBackend)
	b.release(key, h)
	require.NoError(t, b.Drop(context.Background(), key))
	require.Zero(t, b.openCount())
}
