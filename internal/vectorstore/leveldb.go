package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/xxxsen/clinicalcopilot/internal/config"
	appErr "github.com/xxxsen/clinicalcopilot/internal/pkg/errors"
)

var (
	validKey   = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	itemPrefix = []byte("item:")
)

const defaultMaxOpen = 64

// levelDBBackend keeps one LevelDB directory per collection key under dir.
// At most maxOpen idle databases stay open; the least recently used one is
// closed once the limit is exceeded. A handle in use is closed on release.
type levelDBBackend struct {
	dir   string
	mu    sync.Mutex
	live  map[string]*levelHandle
	cache *lru.Cache[string, *levelHandle]
}

type levelHandle struct {
	db      *leveldb.DB
	refs    int
	evicted bool
	closed  bool
}

func init() {
	Register(config.VectorStoreLevelDB, func(cfg config.VectorStoreConfig, deps Deps) (Backend, error) {
		return NewLevelDB(cfg.Dir, cfg.MaxOpen)
	})
}

func NewLevelDB(dir string, maxOpen int) (Backend, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: leveldb vector store dir is required", appErr.ErrConfiguration)
	}
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpen
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create vector store dir: %w", err)
	}
	b := &levelDBBackend{dir: dir, live: make(map[string]*levelHandle)}
	cache, err := lru.NewWithEvict[string, *levelHandle](maxOpen, b.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create leveldb handle cache: %w", err)
	}
	b.cache = cache
	return b, nil
}

func (b *levelDBBackend) Name() string {
	return config.VectorStoreLevelDB
}

func (b *levelDBBackend) Open(ctx context.Context, key string, create bool) (Collection, error) {
	if !validKey.MatchString(key) {
		return nil, fmt.Errorf("%w: invalid collection key %q", appErr.ErrInvalid, key)
	}
	h, err := b.acquire(key, create)
	if err != nil {
		return nil, err
	}
	b.release(key, h)
	return &levelCollection{key: key, backend: b}, nil
}

// acquire returns the open database for key, opening it when needed. The
// caller must release it.
func (b *levelDBBackend) acquire(key string, create bool) (*levelHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.live[key]; ok {
		h.refs++
		h.evicted = false
		b.cache.Add(key, h)
		return h, nil
	}
	path := filepath.Join(b.dir, key)
	if !create {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, ErrCollectionNotFound
		}
	}
	db, err := leveldb.OpenFile(path, &opt.Options{ErrorIfMissing: !create})
	if err != nil {
		return nil, fmt.Errorf("%w: open leveldb %s: %v", appErr.ErrBackend, key, err)
	}
	h := &levelHandle{db: db, refs: 1}
	b.live[key] = h
	b.cache.Add(key, h)
	return h, nil
}

func (b *levelDBBackend) release(key string, h *levelHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h.refs--
	b.closeIdleLocked(key, h)
}

// onEvict runs inside cache calls made with b.mu held.
func (b *levelDBBackend) onEvict(key string, h *levelHandle) {
	h.evicted = true
	b.closeIdleLocked(key, h)
}

func (b *levelDBBackend) closeIdleLocked(key string, h *levelHandle) {
	if h.refs > 0 || !h.evicted || h.closed {
		return
	}
	_ = h.db.Close()
	h.closed = true
	if b.live[key] == h {
		delete(b.live, key)
	}
}

// openCount reports how many databases are currently open.
func (b *levelDBBackend) openCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}

func (b *levelDBBackend) Drop(ctx context.Context, key string) error {
	if !validKey.MatchString(key) {
		return fmt.Errorf("%w: invalid collection key %q", appErr.ErrInvalid, key)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.live[key]; ok {
		if h.refs > 0 {
			return fmt.Errorf("%w: collection %s is in use", appErr.ErrBackend, key)
		}
		b.cache.Remove(key)
	}
	return os.RemoveAll(filepath.Join(b.dir, key))
}

func (b *levelDBBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for key, h := range b.live {
		if !h.closed {
			if err := h.db.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			h.closed = true
		}
		delete(b.live, key)
	}
	b.cache.Purge()
	return firstErr
}

// levelCollection borrows the backend's handle for the length of each
// call, so an idle collection holds no open files.
type levelCollection struct {
	key     string
	backend *levelDBBackend
}

func (c *levelCollection) withDB(fn func(db *leveldb.DB) error) error {
	h, err := c.backend.acquire(c.key, false)
	if err != nil {
		return err
	}
	defer c.backend.release(c.key, h)
	return fn(h.db)
}

func itemKey(id string) []byte {
	return append(append([]byte{}, itemPrefix...), id...)
}

func (c *levelCollection) Key() string {
	return c.key
}

func (c *levelCollection) IDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := c.scan(func(k []byte, _ []byte) error {
		ids = append(ids, string(k[len(itemPrefix):]))
		return nil
	})
	return ids, err
}

func (c *levelCollection) Upsert(ctx context.Context, items []Item) error {
	batch := new(leveldb.Batch)
	for _, item := range items {
		if item.ID == "" {
			return fmt.Errorf("%w: vector item id is required", appErr.ErrInvalid)
		}
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		batch.Put(itemKey(item.ID), data)
	}
	return c.withDB(func(db *leveldb.DB) error {
		return db.Write(batch, nil)
	})
}

func (c *levelCollection) Delete(ctx context.Context, ids []string) error {
	batch := new(leveldb.Batch)
	for _, id := range ids {
		batch.Delete(itemKey(id))
	}
	return c.withDB(func(db *leveldb.DB) error {
		return db.Write(batch, nil)
	})
}

func (c *levelCollection) Query(ctx context.Context, vector []float32, k int, where map[string]string) ([]Match, error) {
	if k <= 0 {
		return []Match{}, nil
	}
	var matches []Match
	err := c.scan(func(_ []byte, v []byte) error {
		var item Item
		if err := json.Unmarshal(v, &item); err != nil {
			return fmt.Errorf("decode vector item: %w", err)
		}
		if !matchesWhere(item.Metadata, where) {
			return nil
		}
		matches = append(matches, Match{
			ID:       item.ID,
			Document: item.Document,
			Metadata: item.Metadata,
			Distance: cosineDistance(vector, item.Embedding),
		})
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	if matches == nil {
		matches = []Match{}
	}
	return matches, nil
}

func (c *levelCollection) Count(ctx context.Context) (int, error) {
	n := 0
	err := c.scan(func([]byte, []byte) error {
		n++
		return nil
	})
	return n, err
}

func (c *levelCollection) scan(fn func(k, v []byte) error) error {
	return c.withDB(func(db *leveldb.DB) error {
		iter := db.NewIterator(util.BytesPrefix(itemPrefix), nil)
		defer iter.Release()
		for iter.Next() {
			if err := fn(iter.Key(), iter.Value()); err != nil {
				return err
			}
		}
		return iter.Error()
	})
}
