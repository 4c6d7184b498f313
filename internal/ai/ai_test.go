package ai

import (
	"context"
	"errors"
	"strings"
)

type fakeGenerator struct {
	answer string
	err    error
	prompt string
	opts   GenerateOptions
	calls  int
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	f.calls++
	f.prompt = prompt
	f.opts = opts
	if f.err != nil {
		return "", f.err
	}
	if f.answer != "" {
		return f.answer, nil
	}
	return prompt, nil
}

func (f *fakeGenerator) ModelName() string {
	return "fake-model"
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), float32(strings.Count(text, " "))}, nil
}

func (f *fakeEmbedder) ModelName() string {
	return "fake-embed"
}

var errBoom = errors.New("boom")
