package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/clinicalcopilot/internal/ai"
	"github.com/xxxsen/clinicalcopilot/internal/model"
	appErr "github.com/xxxsen/clinicalcopilot/internal/pkg/errors"
)

func recordWith(conditions ...string) *model.PatientRecord {
	r := model.NewPatientRecord()
	for _, c := range conditions {
		r.Conditions = append(r.Conditions, model.TextFact(c))
	}
	return r
}

func TestIndexService_RequiresPatientID(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.index.Index(context.Background(), "  ", recordWith("Asthma"))
	require.ErrorIs(t, err, appErr.ErrConfiguration)
}

func TestIndexService_EmptyRecordIsNoop(t *testing.T) {
	env := newTestEnv(t)
	n, err := env.index.Index(context.Background(), "p1", model.NewPatientRecord())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, env.embedder.calls)
}

func TestIndexService_Isolation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, err := env.index.Index(ctx, "patient-A", recordWith("Type 2 diabetes", "Chronic kidney disease"))
	require.NoError(t, err)
	_, err = env.index.Index(ctx, "patient-B", recordWith("Asthma"))
	require.NoError(t, err)

	for _, q := range []string{"diabetes", "kidney disease", "asthma", "conditions"} {
		for _, m := range env.index.Search(ctx, "patient-B", q, 10, "") {
			require.Equal(t, "patient-B", m.Metadata[model.MetaKeyPatientID])
			require.NotContains(t, m.Document, "diabetes")
		}
	}
	got := env.retriever.Retrieve(ctx, "diabetes", 10, "", "patient-A")
	require.Len(t, got, 2)
	require.Equal(t, "Conditions: Type 2 diabetes", got[0].Text)
}

func TestIndexService_ReplaceSemantics(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	r1 := recordWith("Asthma", "Gout", "Migraine")
	r1.Allergies = []model.Fact{model.TextFact("Penicillin")}
	n, err := env.index.Index(ctx, "p", r1)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	r2 := recordWith("Hypertension")
	n, err = env.index.Index(ctx, "p", r2)
	require.NoError(t, err)
	require.Equal(t, len(ai.Chunk(r2, "p")), n)

	count, err := env.index.Count(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	matches := env.index.Search(ctx, "p", "asthma gout migraine penicillin", 10, "")
	require.Len(t, matches, 1)
	require.Equal(t, "Conditions: Hypertension", matches[0].Document)
}

func TestIndexService_EmbedFailureKeepsPreviousIndex(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, err := env.index.Index(ctx, "p", recordWith("Asthma", "Gout"))
	require.NoError(t, err)

	env.embedder.setFail(true)
	_, err = env.index.Index(ctx, "p", recordWith("Hypertension"))
	require.ErrorIs(t, err, appErr.ErrBackend)
	require.Empty(t, env.index.Search(ctx, "p", "asthma", 5, ""))

	env.embedder.setFail(false)
	count, err := env.index.Count(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestIndexService_GracefulEmpty(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	got := env.index.Search(ctx, "never-indexed", "anything", 5, "")
	require.NotNil(t, got)
	require.Empty(t, got)
	require.Empty(t, env.index.Search(ctx, "", "anything", 5, ""))

	results := env.retriever.Retrieve(ctx, "anything", 5, "", "")
	require.NotNil(t, results)
	require.Empty(t, results)

	count, err := env.index.Count(ctx, "never-indexed")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestIndexService_TypeFilter(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	r := recordWith("Penicillin reaction history")
	r.Allergies = []model.Fact{model.TextFact("Penicillin")}
	_, err := env.index.Index(ctx, "p", r)
	require.NoError(t, err)

	got := env.retriever.Retrieve(ctx, "penicillin", 5, "allergies", "p")
	require.Len(t, got, 1)
	require.Equal(t, "allergies", got[0].Type)
	require.Equal(t, "Allergies: Penicillin", got[0].Text)
}

func TestRetrievalService_RelevanceMonotonic(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	r := recordWith("Asthma", "Severe persistent asthma", "Gout", "Asthma with exacerbation")
	r.Medications = []model.Fact{model.TextFact("Albuterol inhaler for asthma")}
	_, err := env.index.Index(ctx, "p", r)
	require.NoError(t, err)

	got := env.retriever.Retrieve(ctx, "asthma", 10, "", "p")
	require.Len(t, got, 5)
	for i := range got {
		require.GreaterOrEqual(t, got[i].Relevance, 0.0)
		require.LessOrEqual(t, got[i].Relevance, 1.0)
		require.InDelta(t, 1-got[i].Distance, got[i].Relevance, 0.0011)
		if i > 0 {
			require.LessOrEqual(t, got[i-1].Distance, got[i].Distance)
			require.GreaterOrEqual(t, got[i-1].Relevance, got[i].Relevance)
		}
	}
}

func TestIndexService_DeleteAndGlobal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, err := env.index.Index(ctx, "p", recordWith("Asthma"))
	require.NoError(t, err)
	require.NoError(t, env.index.Delete(ctx, "p"))
	count, err := env.index.Count(ctx, "p")
	require.NoError(t, err)
	require.Zero(t, count)

	_, err = env.index.GlobalCollection(ctx)
	require.ErrorIs(t, err, appErr.ErrUnavailable)
}

func TestIndexService_ConcurrentPatients(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pid := fmt.Sprintf("p%d", i%4)
			_, errs[i] = env.index.Index(ctx, pid, recordWith(fmt.Sprintf("Condition %d", i)))
			_ = env.index.Search(ctx, pid, "condition", 3, "")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	for i := 0; i < 4; i++ {
		count, err := env.index.Count(ctx, fmt.Sprintf("p%d", i))
		require.NoError(t, err)
		require.Equal(t, 1, count)
	}
	require.Empty(t, env.index.locks.locks)
}

// gatedEmbedder holds document embeddings until gate is closed.
type gatedEmbedder struct {
	inner   *wordEmbedder
	started chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (g *gatedEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if taskType == ai.TaskRetrievalDocument {
		g.once.Do(func() { close(g.started) })
		<-g.gate
	}
	return g.inner.Embed(ctx, text, taskType)
}

func TestIndexService_EmbeddingDoesNotBlockReads(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, err := env.index.Index(ctx, "p", recordWith("Asthma"))
	require.NoError(t, err)

	emb := &gatedEmbedder{inner: env.embedder, started: make(chan struct{}), gate: make(chan struct{})}
	index := NewIndexService(env.index.backend, emb)
	index.locks = env.index.locks

	indexed := make(chan error, 1)
	go func() {
		_, err := index.Index(ctx, "p", recordWith("Gout", "Migraine"))
		indexed <- err
	}()
	<-emb.started

	read := make(chan int, 1)
	go func() {
		read <- len(env.index.Search(ctx, "p", "asthma", 5, ""))
	}()
	select {
	case n := <-read:
		require.Equal(t, 1, n)
	case <-time.After(5 * time.Second):
		close(emb.gate)
		t.Fatal("search blocked while embeddings were computed")
	}

	close(emb.gate)
	require.NoError(t, <-indexed)
	count, err := env.index.Count(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestRound3(t *testing.T) {
	require.Equal(t, 0.123, round3(0.12345))
	require.Equal(t, 0.5, round3(0.4999999))
	require.Equal(t, 1.0, round3(1))
}
