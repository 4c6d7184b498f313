package service

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"unicode"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/clinicalcopilot/internal/ai"
	"github.com/xxxsen/clinicalcopilot/internal/fhir"
	"github.com/xxxsen/clinicalcopilot/internal/recordstore"
	"github.com/xxxsen/clinicalcopilot/internal/vectorstore"
)

const testDims = 64

// wordEmbedder hashes each lower-cased word into a bucket, which gives
// texts sharing words a small cosine distance.
type wordEmbedder struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (w *wordEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	w.mu.Lock()
	w.calls++
	fail := w.fail
	w.mu.Unlock()
	if fail {
		return nil, errEmbedFailed
	}
	vec := make([]float32, testDims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%testDims]++
	}
	return vec, nil
}

func (w *wordEmbedder) ModelName() string {
	return "word"
}

func (w *wordEmbedder) setFail(v bool) {
	w.mu.Lock()
	w.fail = v
	w.mu.Unlock()
}

type errString string

func (e errString) Error() string { return string(e) }

const errEmbedFailed = errString("embed failed")

type echoGenerator struct {
	err error
}

func (g *echoGenerator) Generate(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return prompt, nil
}

func (g *echoGenerator) ModelName() string {
	return "echo"
}

type testEnv struct {
	embedder  *wordEmbedder
	index     *IndexService
	retriever *RetrievalService
	records   *RecordService
	ingest    *IngestService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend, err := vectorstore.NewLevelDB(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	store, err := recordstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	emb := &wordEmbedder{}
	index := NewIndexService(backend, emb)
	records := NewRecordService(store)
	return &testEnv{
		embedder:  emb,
		index:     index,
		retriever: NewRetrievalService(index),
		records:   records,
		ingest:    NewIngestService(fhir.NewIngester(), records, index),
	}
}
