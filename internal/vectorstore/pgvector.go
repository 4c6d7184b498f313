package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/clinicalcopilot/internal/config"
	"github.com/xxxsen/clinicalcopilot/internal/pkg/dbutil"
	appErr "github.com/xxxsen/clinicalcopilot/internal/pkg/errors"
)

// pgBackend stores each collection in its own table named after the key.
// vector_collections records which tables exist.
type pgBackend struct {
	db *sqlx.DB
}

func init() {
	Register(config.VectorStorePGVector, func(cfg config.VectorStoreConfig, deps Deps) (Backend, error) {
		return NewPGVector(deps.DB)
	})
}

func NewPGVector(db *sqlx.DB) (Backend, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: pgvector store requires a database", appErr.ErrConfiguration)
	}
	return &pgBackend{db: db}, nil
}

func (b *pgBackend) Name() string {
	return config.VectorStorePGVector
}

func (b *pgBackend) exists(ctx context.Context, key string) (bool, error) {
	query, args := dbutil.Finalize(`SELECT 1 FROM vector_collections WHERE collection_key = ?`, []interface{}{key})
	var one int
	if err := b.db.QueryRowContext(ctx, query, args...).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *pgBackend) Open(ctx context.Context, key string, create bool) (Collection, error) {
	if !validKey.MatchString(key) {
		return nil, fmt.Errorf("%w: invalid collection key %q", appErr.ErrInvalid, key)
	}
	ok, err := b.exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup collection %s: %v", appErr.ErrBackend, key, err)
	}
	coll := &pgCollection{key: key, table: pq.QuoteIdentifier(key), db: b.db}
	if ok {
		return coll, nil
	}
	if !create {
		return nil, ErrCollectionNotFound
	}
	if _, err := b.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector NOT NULL
		)`, coll.table)); err != nil && !dbutil.IsConflict(err) {
		return nil, fmt.Errorf("%w: create collection %s: %v", appErr.ErrBackend, key, err)
	}
	query, args := dbutil.Finalize(`
		INSERT INTO vector_collections (collection_key, ctime) VALUES (?, ?)
		ON CONFLICT (collection_key) DO NOTHING
	`, []interface{}{key, time.Now().Unix()})
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("%w: register collection %s: %v", appErr.ErrBackend, key, err)
	}
	return coll, nil
}

func (b *pgBackend) Drop(ctx context.Context, key string) error {
	if !validKey.MatchString(key) {
		return fmt.Errorf("%w: invalid collection key %q", appErr.ErrInvalid, key)
	}
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+pq.QuoteIdentifier(key)); err != nil {
		return err
	}
	query, args := dbutil.Finalize(`DELETE FROM vector_collections WHERE collection_key = ?`, []interface{}{key})
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// Close is a no-op; the database handle belongs to the caller.
func (b *pgBackend) Close() error {
	return nil
}

type pgCollection struct {
	key   string
	table string
	db    *sqlx.DB
}

type pgMatchRow struct {
	ID       string  `db:"id"`
	Document string  `db:"document"`
	Metadata []byte  `db:"metadata"`
	Distance float64 `db:"distance"`
}

func (c *pgCollection) Key() string {
	return c.key
}

func (c *pgCollection) IDs(ctx context.Context) ([]string, error) {
	ids := []string{}
	if err := c.db.SelectContext(ctx, &ids, "SELECT id FROM "+c.table+" ORDER BY id"); err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *pgCollection) Upsert(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	query, _ := dbutil.Finalize(`
		INSERT INTO `+c.table+` (id, document, metadata, embedding)
		VALUES (?, ?, ?::jsonb, ?)
		ON CONFLICT (id) DO UPDATE SET
			document = EXCLUDED.document,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding
	`, nil)
	for _, item := range items {
		if item.ID == "" {
			return fmt.Errorf("%w: vector item id is required", appErr.ErrInvalid)
		}
		meta, err := json.Marshal(item.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, item.ID, item.Document, string(meta), pgvector.NewVector(item.Embedding)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *pgCollection) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args := dbutil.Finalize("DELETE FROM "+c.table+" WHERE id = ANY(?)", []interface{}{pq.Array(ids)})
	_, err := c.db.ExecContext(ctx, query, args...)
	return err
}

func (c *pgCollection) Query(ctx context.Context, vector []float32, k int, where map[string]string) ([]Match, error) {
	if k <= 0 {
		return []Match{}, nil
	}
	var sb strings.Builder
	args := []interface{}{pgvector.NewVector(vector)}
	sb.WriteString("SELECT id, document, metadata, embedding <=> ? AS distance FROM ")
	sb.WriteString(c.table)
	keys := make([]string, 0, len(where))
	for key := range where {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for i, key := range keys {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		sb.WriteString("metadata->>(?::text) = ?")
		args = append(args, key, where[key])
	}
	sb.WriteString(" ORDER BY distance ASC LIMIT ?")
	args = append(args, k)

	query, args := dbutil.Finalize(sb.String(), args)
	var rows []pgMatchRow
	if err := c.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(rows))
	for _, row := range rows {
		meta := map[string]string{}
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &meta); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		matches = append(matches, Match{
			ID:       row.ID,
			Document: row.Document,
			Metadata: meta,
			Distance: clampDistance(row.Distance),
		})
	}
	return matches, nil
}

func (c *pgCollection) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+c.table); err != nil {
		return 0, err
	}
	return n, nil
}
