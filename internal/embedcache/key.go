package embedcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/xxxsen/clinicalcopilot/internal/ai"
	"github.com/xxxsen/clinicalcopilot/internal/repo"
)

type Options struct {
	Size int
	TTL  time.Duration
	Repo *repo.EmbeddingCacheRepo
}

// Wrap layers the in-memory LRU over the persistent cache, so a lookup
// checks memory, then postgres, then the provider.
func Wrap(e ai.IEmbedder, opts Options) ai.IEmbedder {
	if e == nil {
		return nil
	}
	e = WrapDBCacheToEmbedder(e, opts.Repo)
	return WrapLruCacheToEmbedder(e, opts.Size, opts.TTL)
}

type cacheKey struct {
	full        string
	contentHash string
	modelName   string
}

func buildCacheKey(modelName, taskType, text string) cacheKey {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	hash := sha256.Sum256([]byte(text))
	contentHash := hex.EncodeToString(hash[:])
	return cacheKey{
		full:        "embed:" + modelName + ":" + taskType + ":" + contentHash,
		contentHash: contentHash,
		modelName:   modelName,
	}
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
