package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/clinicalcopilot/internal/ai"
	"github.com/xxxsen/clinicalcopilot/internal/model"
	appErr "github.com/xxxsen/clinicalcopilot/internal/pkg/errors"
	"github.com/xxxsen/clinicalcopilot/internal/vectorstore"
)

// ErrGlobalIndexUnavailable is returned for any attempt to reach a shared,
// cross-patient index. None exists.
var ErrGlobalIndexUnavailable = fmt.Errorf("global index is deprecated: %w", appErr.ErrUnavailable)

type Embedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
}

// IndexService owns the per-patient vector collections. Every operation
// is scoped to a single patient id; writes to one patient are serialized
// while reads and other patients proceed independently.
type IndexService struct {
	backend  vectorstore.Backend
	embedder Embedder
	locks    *keyedLocks
}

func NewIndexService(backend vectorstore.Backend, embedder Embedder) *IndexService {
	return &IndexService{
		backend:  backend,
		embedder: embedder,
		locks:    newKeyedLocks(),
	}
}

// Index replaces everything stored for patientID with the chunks of record
// and returns how many chunks were written. Embeddings are computed before
// the patient's lock is taken and before the old chunks are removed, so a
// slow provider never blocks readers and a provider failure leaves the
// previous index intact.
func (s *IndexService) Index(ctx context.Context, patientID string, record *model.PatientRecord) (int, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return 0, fmt.Errorf("%w: patient id is required for indexing", appErr.ErrConfiguration)
	}
	items, prepErr := s.prepare(ctx, patientID, record)
	unlock := s.locks.Lock(patientID)
	defer unlock()
	if prepErr != nil {
		s.markPendingLocked(ctx, patientID)
		return 0, prepErr
	}
	return s.replaceLocked(ctx, patientID, items)
}

// prepare chunks and embeds record without touching the store.
func (s *IndexService) prepare(ctx context.Context, patientID string, record *model.PatientRecord) ([]vectorstore.Item, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("index patient: %w", ai.ErrUnavailable)
	}
	chunks := ai.Chunk(record, patientID)
	items := make([]vectorstore.Item, 0, len(chunks))
	for _, chunk := range chunks {
		vec, err := s.embedder.Embed(ctx, chunk.Text, ai.TaskRetrievalDocument)
		if err != nil {
			return nil, fmt.Errorf("%w: embed chunk %s: %v", appErr.ErrBackend, chunk.ID, err)
		}
		items = append(items, vectorstore.Item{
			ID:        chunk.ID,
			Document:  chunk.Text,
			Metadata:  chunk.Metadata(),
			Embedding: vec,
		})
	}
	return items, nil
}

// replaceLocked swaps the patient's stored chunks for items. The caller
// holds the patient's write lock.
func (s *IndexService) replaceLocked(ctx context.Context, patientID string, items []vectorstore.Item) (int, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("patient_id", patientID))
	key := vectorstore.CollectionKey(patientID)
	coll, err := s.backend.Open(ctx, key, true)
	if err != nil {
		return 0, fmt.Errorf("%w: open collection %s: %v", appErr.ErrBackend, key, err)
	}
	if len(items) == 0 {
		logger.Info("no chunks produced for patient, skip indexing")
		return 0, nil
	}
	existing, err := coll.IDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: list chunk ids: %v", appErr.ErrBackend, err)
	}
	if len(existing) > 0 {
		if err := coll.Delete(ctx, existing); err != nil {
			return 0, fmt.Errorf("%w: clear collection: %v", appErr.ErrBackend, err)
		}
		logger.Debug("cleared previous chunks", zap.Int("count", len(existing)))
	}
	if err := coll.Upsert(ctx, items); err != nil {
		return 0, fmt.Errorf("%w: insert chunks: %v", appErr.ErrBackend, err)
	}
	logger.Info("patient indexed", zap.String("collection", key), zap.Int("chunks", len(items)))
	return len(items), nil
}

// markPendingLocked makes sure the patient has a collection after a failed
// index, so an empty one is left behind for RepairMissing to pick up. The
// caller holds the patient's write lock.
func (s *IndexService) markPendingLocked(ctx context.Context, patientID string) {
	if _, err := s.backend.Open(ctx, vectorstore.CollectionKey(patientID), true); err != nil {
		logutil.GetLogger(ctx).Warn("create pending collection failed", zap.String("patient_id", patientID), zap.Error(err))
	}
}

// needsRepair reports whether the patient has a collection that holds no
// chunks. A patient without any collection was never indexed or had its
// index deleted on purpose.
func (s *IndexService) needsRepair(ctx context.Context, patientID string) (bool, error) {
	unlock := s.locks.RLock(patientID)
	defer unlock()
	coll, err := s.backend.Open(ctx, vectorstore.CollectionKey(patientID), false)
	if errors.Is(err, appErr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", appErr.ErrBackend, err)
	}
	n, err := coll.Count(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Search runs a similarity query against patientID's collection only. It
// never fails: a missing id, a missing collection or a backend error all
// produce an empty result.
func (s *IndexService) Search(ctx context.Context, patientID string, query string, k int, typeFilter string) []vectorstore.Match {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" || k <= 0 {
		return []vectorstore.Match{}
	}
	logger := logutil.GetLogger(ctx).With(zap.String("patient_id", patientID))
	unlock := s.locks.RLock(patientID)
	defer unlock()

	coll, err := s.backend.Open(ctx, vectorstore.CollectionKey(patientID), false)
	if err != nil {
		if errors.Is(err, appErr.ErrNotFound) {
			logger.Debug("patient has no index yet")
		} else {
			logger.Warn("open patient collection failed", zap.Error(err))
		}
		return []vectorstore.Match{}
	}
	if s.embedder == nil {
		logger.Warn("search skipped, embedder not configured")
		return []vectorstore.Match{}
	}
	vec, err := s.embedder.Embed(ctx, query, ai.TaskRetrievalQuery)
	if err != nil {
		logger.Warn("embed query failed", zap.Error(err))
		return []vectorstore.Match{}
	}
	var where map[string]string
	if typeFilter != "" {
		where = map[string]string{model.MetaKeyType: typeFilter}
	}
	matches, err := coll.Query(ctx, vec, k, where)
	if err != nil {
		logger.Warn("query patient collection failed", zap.Error(err))
		return []vectorstore.Match{}
	}
	return matches
}

func (s *IndexService) Count(ctx context.Context, patientID string) (int, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return 0, fmt.Errorf("%w: patient id is required", appErr.ErrInvalid)
	}
	unlock := s.locks.RLock(patientID)
	defer unlock()
	coll, err := s.backend.Open(ctx, vectorstore.CollectionKey(patientID), false)
	if errors.Is(err, appErr.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", appErr.ErrBackend, err)
	}
	return coll.Count(ctx)
}

// Delete destroys the patient's collection.
func (s *IndexService) Delete(ctx context.Context, patientID string) error {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return fmt.Errorf("%w: patient id is required", appErr.ErrInvalid)
	}
	unlock := s.locks.Lock(patientID)
	defer unlock()
	if err := s.backend.Drop(ctx, vectorstore.CollectionKey(patientID)); err != nil {
		return fmt.Errorf("%w: drop collection: %v", appErr.ErrBackend, err)
	}
	logutil.GetLogger(ctx).Info("patient index deleted", zap.String("patient_id", patientID))
	return nil
}

// GlobalCollection is kept for callers of the old shared index and always
// reports it unavailable.
func (s *IndexService) GlobalCollection(ctx context.Context) (vectorstore.Collection, error) {
	return nil, ErrGlobalIndexUnavailable
}
