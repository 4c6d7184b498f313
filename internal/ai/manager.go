package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type ManagerConfig struct {
	Timeout     int
	Temperature float32
	TopP        float32
	MaxTokens   int
}

// Manager owns the optional generation and embedding capabilities. Either
// may be nil; calls against a missing capability return ErrUnavailable.
type Manager struct {
	generator IGenerator
	embedder  IEmbedder
	cfg       ManagerConfig
}

func NewManager(generator IGenerator, embedder IEmbedder, cfg ManagerConfig) *Manager {
	return &Manager{
		generator: generator,
		embedder:  embedder,
		cfg:       cfg,
	}
}

func (m *Manager) HasGenerator() bool {
	return m != nil && m.generator != nil
}

func (m *Manager) HasEmbedder() bool {
	return m != nil && m.embedder != nil
}

func (m *Manager) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if !m.HasEmbedder() {
		return nil, fmt.Errorf("embedder not configured: %w", ErrUnavailable)
	}
	return m.embedder.Embed(ctx, text, taskType)
}

func (m *Manager) Generate(ctx context.Context, prompt string) (string, error) {
	if !m.HasGenerator() {
		return "", fmt.Errorf("generator not configured: %w", ErrUnavailable)
	}
	return m.generateText(ctx, m.generator, prompt)
}

func (m *Manager) generateText(ctx context.Context, gen IGenerator, prompt string) (string, error) {
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(m.cfg.Timeout)*time.Second)
		defer cancel()
	}
	resp, err := gen.Generate(ctx, prompt, m.Options())
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp)
	if text == "" {
		return "", fmt.Errorf("empty ai response")
	}
	return text, nil
}

func (m *Manager) Options() GenerateOptions {
	if m == nil {
		return GenerateOptions{}
	}
	return GenerateOptions{
		Temperature: m.cfg.Temperature,
		TopP:        m.cfg.TopP,
		MaxTokens:   m.cfg.MaxTokens,
	}
}

func (m *Manager) ModelName() string {
	if !m.HasGenerator() {
		return ""
	}
	return m.generator.ModelName()
}

func (m *Manager) EmbeddingModelName() string {
	if !m.HasEmbedder() {
		return ""
	}
	return m.embedder.ModelName()
}
