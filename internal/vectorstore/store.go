package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/xxxsen/clinicalcopilot/internal/config"
	appErr "github.com/xxxsen/clinicalcopilot/internal/pkg/errors"
)

// ErrCollectionNotFound is returned by Open when create is false and the
// collection has never been written.
var ErrCollectionNotFound = fmt.Errorf("vector collection %w", appErr.ErrNotFound)

type Item struct {
	ID        string            `json:"id"`
	Document  string            `json:"document"`
	Metadata  map[string]string `json:"metadata"`
	Embedding []float32         `json:"embedding"`
}

// Match is one query hit. Distance is cosine distance in [0, 1].
type Match struct {
	ID       string
	Document string
	Metadata map[string]string
	Distance float64
}

// Backend hands out collections by key. A collection handle only ever
// reads and writes its own key.
type Backend interface {
	Name() string
	Open(ctx context.Context, key string, create bool) (Collection, error)
	Drop(ctx context.Context, key string) error
	Close() error
}

type Collection interface {
	Key() string
	IDs(ctx context.Context) ([]string, error)
	Upsert(ctx context.Context, items []Item) error
	Delete(ctx context.Context, ids []string) error
	// Query returns up to k matches ordered by ascending distance. Every
	// where entry must equal the item's metadata value.
	Query(ctx context.Context, vector []float32, k int, where map[string]string) ([]Match, error)
	Count(ctx context.Context) (int, error)
}

type Deps struct {
	DB *sqlx.DB
}

type Factory func(cfg config.VectorStoreConfig, deps Deps) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.VectorStoreConfig, deps Deps) (Backend, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("%w: vector_store.type is required", appErr.ErrConfiguration)
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("%w: unsupported vector store type: %s", appErr.ErrConfiguration, cfg.Type)
	}
	return factory(cfg, deps)
}

func matchesWhere(meta map[string]string, where map[string]string) bool {
	for k, v := range where {
		if meta[k] != v {
			return false
		}
	}
	return true
}
