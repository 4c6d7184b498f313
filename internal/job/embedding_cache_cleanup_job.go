package job

import (
	"context"
	"time"

	"github.com/xxxsen/clinicalcopilot/internal/embedcache"
	"github.com/xxxsen/clinicalcopilot/internal/repo"
)

const defaultCacheMaxAgeDays = 30

type EmbeddingCacheCleanupJob struct {
	repo       *repo.EmbeddingCacheRepo
	maxAgeDays int
}

func NewEmbeddingCacheCleanupJob(repo *repo.EmbeddingCacheRepo, maxAgeDays int) *EmbeddingCacheCleanupJob {
	return &EmbeddingCacheCleanupJob{repo: repo, maxAgeDays: maxAgeDays}
}

func (j *EmbeddingCacheCleanupJob) Name() string {
	return "embedding_cache_cleanup"
}

func (j *EmbeddingCacheCleanupJob) Run(ctx context.Context) error {
	if j.repo == nil {
		return nil
	}
	maxAgeDays := j.maxAgeDays
	if maxAgeDays <= 0 {
		maxAgeDays = defaultCacheMaxAgeDays
	}
	_, err := embedcache.Prune(ctx, j.repo, time.Duration(maxAgeDays)*24*time.Hour)
	return err
}
