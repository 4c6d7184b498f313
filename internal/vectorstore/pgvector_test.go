package vectorstore

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/clinicalcopilot/internal/config"
	"github.com/xxxsen/clinicalcopilot/internal/db"
)

func newTestPGVector(t *testing.T) Backend {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("TEST_DB_PORT"))
	ctx := context.Background()
	conn, err := db.Open(ctx, config.DatabaseConfig{
		Host:     host,
		Port:     port,
		User:     os.Getenv("TEST_DB_USER"),
		Password: os.Getenv("TEST_DB_PASSWORD"),
		DBName:   os.Getenv("TEST_DB_NAME"),
	})
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(ctx, conn))
	t.Cleanup(func() { _ = conn.Close() })
	b, err := New(config.VectorStoreConfig{Type: config.VectorStorePGVector}, Deps{DB: conn})
	require.NoError(t, err)
	return b
}

func TestPGVector_RoundTrip(t *testing.T) {
	b := newTestPGVector(t)
	ctx := context.Background()
	key := CollectionKey(fmt.Sprintf("PG-Test-%d", time.Now().UnixNano()))
	t.Cleanup(func() { _ = b.Drop(ctx, key) })

	_, err := b.Open(ctx, key, false)
	require.ErrorIs(t, err, ErrCollectionNotFound)

	coll, err := b.Open(ctx, key, true)
	require.NoError(t, err)
	require.NoError(t, coll.Upsert(ctx, []Item{
		{ID: "c0", Document: "Conditions: Asthma", Metadata: map[string]string{"type": "conditions"}, Embedding: []float32{1, 0, 0}},
		{ID: "m1", Document: "Medications: Albuterol", Metadata: map[string]string{"type": "medications"}, Embedding: []float32{0.8, 0.6, 0}},
	}))

	matches, err := coll.Query(ctx, []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "c0", matches[0].ID)
	require.Equal(t, "conditions", matches[0].Metadata["type"])

	matches, err = coll.Query(ctx, []float32{1, 0, 0}, 5, map[string]string{"type": "medications"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.InDelta(t, 0.2, matches[0].Distance, 1e-4)

	ids, err := coll.IDs(ctx)
	require.NoError(t, err)
	require.NoError(t, coll.Delete(ctx, ids))
	n, err := coll.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}
