package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/clinicalcopilot/internal/ai"
	appErr "github.com/xxxsen/clinicalcopilot/internal/pkg/errors"
)

func newCopilotService(env *testEnv, gen ai.IGenerator) *CopilotService {
	manager := ai.NewManager(gen, env.embedder, ai.ManagerConfig{Temperature: 0.3, MaxTokens: 2048})
	return NewCopilotService(env.records, env.retriever, ai.NewCopilot(manager), 10)
}

func TestCopilotService_AskWithContext(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, err := env.ingest.Upload(ctx, []byte(testBundle))
	require.NoError(t, err)
	svc := newCopilotService(env, &echoGenerator{})

	resp, err := svc.Ask(ctx, SearchRequest{Query: "blood pressure", PatientID: "pat-1", NResults: 2})
	require.NoError(t, err)
	require.Equal(t, 2, resp.ContextUsed)
	require.Len(t, resp.Citations, 2)
	require.Equal(t, 1, resp.Citations[0].ID)
	require.Equal(t, "Observations: Blood Pressure: 150 mmHg", resp.Citations[0].Text)
	require.Equal(t, "Patient Data - Observations", resp.Citations[0].Source)
	require.Empty(t, resp.FallbackReason)
	require.Contains(t, resp.Answer, "USER QUERY: blood pressure")
}

func TestCopilotService_FallbackWhenNotIndexed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.embedder.setFail(true)
	_, err := env.ingest.Upload(ctx, []byte(`{"patient_id": "p9", "allergies": ["Penicillin"]}`))
	require.NoError(t, err)
	svc := newCopilotService(env, &echoGenerator{})

	resp, err := svc.Ask(ctx, SearchRequest{Query: "allergies?", PatientID: "p9"})
	require.NoError(t, err)
	require.Contains(t, resp.Answer, "Penicillin")
	require.Empty(t, resp.Citations)
	require.Zero(t, resp.ContextUsed)
	require.Equal(t, fallbackReason, resp.FallbackReason)
	require.True(t, resp.ResponseMetadata.FallbackMode)
}

func TestCopilotService_GenerationErrorDegrades(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, err := env.ingest.Upload(ctx, []byte(testBundle))
	require.NoError(t, err)
	svc := newCopilotService(env, &echoGenerator{err: errString("quota exceeded")})

	resp, err := svc.Ask(ctx, SearchRequest{Query: "blood pressure", PatientID: "pat-1"})
	require.NoError(t, err)
	require.Contains(t, resp.Answer, "I apologize")
	require.Empty(t, resp.Citations)
	require.Zero(t, resp.ContextUsed)
	require.Contains(t, resp.Error, "quota exceeded")
}

func TestCopilotService_Validation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := newCopilotService(env, nil).Ask(ctx, SearchRequest{Query: "q"})
	require.ErrorIs(t, err, appErr.ErrUnavailable)

	svc := newCopilotService(env, &echoGenerator{})
	_, err = svc.Ask(ctx, SearchRequest{Query: "   "})
	require.ErrorIs(t, err, appErr.ErrInvalid)

	_, err = svc.Search(ctx, SearchRequest{Query: "q"})
	require.ErrorIs(t, err, appErr.ErrConfiguration)

	results, err := svc.Search(ctx, SearchRequest{Query: "q", PatientID: "nobody", NResults: 500})
	require.NoError(t, err)
	require.Empty(t, results)

	resp, err := svc.Ask(ctx, SearchRequest{Query: "general question"})
	require.NoError(t, err)
	require.Equal(t, fallbackReason, resp.FallbackReason)
}
