package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type indexRepairer interface {
	RepairMissing(ctx context.Context) (int, error)
}

// IndexRepairJob re-indexes stored patients that have no indexed chunks.
type IndexRepairJob struct {
	ingest indexRepairer
}

func NewIndexRepairJob(ingest indexRepairer) *IndexRepairJob {
	return &IndexRepairJob{ingest: ingest}
}

func (j *IndexRepairJob) Name() string {
	return "index_repair"
}

func (j *IndexRepairJob) Run(ctx context.Context) error {
	if j.ingest == nil {
		return nil
	}
	n, err := j.ingest.RepairMissing(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logutil.GetLogger(ctx).Info("patient indexes repaired", zap.Int("count", n))
	}
	return nil
}
