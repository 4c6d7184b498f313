package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/clinicalcopilot/internal/ai"
	"github.com/xxxsen/clinicalcopilot/internal/fhir"
	"github.com/xxxsen/clinicalcopilot/internal/recordstore"
	"github.com/xxxsen/clinicalcopilot/internal/service"
	"github.com/xxxsen/clinicalcopilot/internal/vectorstore"
)

type bagEmbedder struct{}

func (bagEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	vec := make([]float32, 64)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%64]++
	}
	return vec, nil
}

func (bagEmbedder) ModelName() string {
	return "bag"
}

type promptEcho struct{}

func (promptEcho) Generate(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
	return prompt, nil
}

func (promptEcho) ModelName() string {
	return "echo"
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// setupRouter wires the real services over a temporary LevelDB index and
// local record store. A nil generator leaves the copilot unconfigured.
func setupRouter(t *testing.T, gen ai.IGenerator, rateLimit time.Duration) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend, err := vectorstore.NewLevelDB(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	store, err := recordstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	manager := ai.NewManager(gen, bagEmbedder{}, ai.ManagerConfig{})
	index := service.NewIndexService(backend, manager)
	records := service.NewRecordService(store)
	ingest := service.NewIngestService(fhir.NewIngester(), records, index)
	copilot := ai.NewCopilot(manager)
	copilotSvc := service.NewCopilotService(records, service.NewRetrievalService(index), copilot, 10)

	router := gin.New()
	RegisterRoutes(router.Group("/api/v1"), RouterDeps{
		Health:           NewHealthHandler("leveldb", "local", copilot.Available()),
		Patients:         NewPatientHandler(ingest, records, 0),
		Index:            NewIndexHandler(ingest, index),
		Search:           NewSearchHandler(copilotSvc),
		CopilotRateLimit: rateLimit,
	})
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) apiResponse {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		payload, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var out apiResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func decodeData(t *testing.T, resp apiResponse, dst interface{}) {
	t.Helper()
	require.Zero(t, resp.Code, resp.Message)
	require.NoError(t, json.Unmarshal(resp.Data, dst))
}

const testRecord = `{
  "patient_id": "pat-1",
  "patient": [{"name": "Jane Doe", "gender": "female", "birthDate": "1980-01-01"}],
  "conditions": ["Hypertension"],
  "observations": ["Blood Pressure: 150 mmHg", "Glucose: 98.6 mg/dL"],
  "medications": [],
  "procedures": [],
  "allergies": ["Penicillin"]
}`
