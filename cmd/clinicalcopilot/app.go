package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/clinicalcopilot/internal/ai"
	"github.com/xxxsen/clinicalcopilot/internal/config"
	"github.com/xxxsen/clinicalcopilot/internal/db"
	"github.com/xxxsen/clinicalcopilot/internal/embedcache"
	"github.com/xxxsen/clinicalcopilot/internal/fhir"
	"github.com/xxxsen/clinicalcopilot/internal/recordstore"
	"github.com/xxxsen/clinicalcopilot/internal/repo"
	"github.com/xxxsen/clinicalcopilot/internal/service"
	"github.com/xxxsen/clinicalcopilot/internal/vectorstore"
)

// app holds the wired services shared by every command.
type app struct {
	cfg        *config.Config
	db         *sqlx.DB
	cacheRepo  *repo.EmbeddingCacheRepo
	backend    vectorstore.Backend
	store      recordstore.Store
	copilot    *ai.Copilot
	index      *service.IndexService
	records    *service.RecordService
	ingest     *service.IngestService
	copilotSvc *service.CopilotService
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if cfg.Database.Enabled() {
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		if err := db.ApplyMigrations(ctx, conn); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		a.db = conn
		a.cacheRepo = repo.NewEmbeddingCacheRepo(conn)
	}

	backend, err := vectorstore.New(cfg.VectorStore, vectorstore.Deps{DB: a.db})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init vector store: %w", err)
	}
	a.backend = backend

	store, err := recordstore.New(cfg.RecordStore)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init record store: %w", err)
	}
	a.store = store

	generator, embedder := buildAI(ctx, cfg.AI)
	embedder = embedcache.Wrap(embedder, embedcache.Options{
		Size: cfg.EmbedCache.Size,
		TTL:  time.Duration(cfg.EmbedCache.TTLSeconds) * time.Second,
		Repo: a.cacheRepo,
	})
	manager := ai.NewManager(generator, embedder, ai.ManagerConfig{
		Timeout:     cfg.AI.Timeout,
		Temperature: cfg.AI.Temperature,
		TopP:        cfg.AI.TopP,
		MaxTokens:   cfg.AI.MaxTokens,
	})
	a.copilot = ai.NewCopilot(manager)

	a.index = service.NewIndexService(backend, manager)
	a.records = service.NewRecordService(store)
	a.ingest = service.NewIngestService(fhir.NewIngester(), a.records, a.index)
	a.copilotSvc = service.NewCopilotService(a.records, service.NewRetrievalService(a.index), a.copilot, cfg.Search.MaxTopK)

	logutil.GetLogger(ctx).Info("services ready",
		zap.String("vector_store", backend.Name()),
		zap.String("record_store", store.Type()),
		zap.Bool("generator", manager.HasGenerator()),
		zap.Bool("embedder", manager.HasEmbedder()),
		zap.Bool("db", a.db != nil),
	)
	return a, nil
}

func (a *app) Close() {
	if a.backend != nil {
		_ = a.backend.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// buildAI creates the primary and fallback generators plus the embedder.
// Providers without an api_key are skipped so the copilot reports itself
// unconfigured instead of failing every call.
func buildAI(ctx context.Context, cfg config.AIConfig) (ai.IGenerator, ai.IEmbedder) {
	log := logutil.GetLogger(ctx)
	refs := append([]config.AIModelRef{{Provider: cfg.Provider, Model: cfg.Model}}, cfg.Fallbacks...)
	var gens []ai.GeneratorEntry
	for _, ref := range refs {
		args := cfg.ProviderArgs(ref.Provider)
		if !hasAPIKey(args) {
			log.Warn("ai provider has no api_key, skip", zap.String("provider", ref.Provider))
			continue
		}
		p, err := ai.NewProvider(ref.Provider, args)
		if err != nil {
			log.Warn("init ai provider failed", zap.String("provider", ref.Provider), zap.Error(err))
			continue
		}
		gens = append(gens, ai.GeneratorEntry{
			Name:      ref.Provider + ":" + ref.Model,
			Generator: ai.NewGenerator(p, ref.Model),
		})
	}

	var embs []ai.EmbedderEntry
	args := cfg.ProviderArgs(cfg.EmbedProvider)
	if hasAPIKey(args) {
		p, err := ai.NewEmbedProvider(cfg.EmbedProvider, args)
		if err != nil {
			log.Warn("init embed provider failed", zap.String("provider", cfg.EmbedProvider), zap.Error(err))
		} else {
			embs = append(embs, ai.EmbedderEntry{
				Name:     cfg.EmbedProvider + ":" + cfg.EmbedModel,
				Embedder: ai.NewEmbedder(p, cfg.EmbedModel),
			})
		}
	} else {
		log.Warn("embed provider has no api_key, vector search disabled", zap.String("provider", cfg.EmbedProvider))
	}
	return ai.NewGroupGenerator(gens), ai.NewGroupEmbedder(embs)
}

func hasAPIKey(args interface{}) bool {
	m, ok := args.(map[string]interface{})
	if !ok {
		return args != nil
	}
	key, _ := m["api_key"].(string)
	return strings.TrimSpace(key) != ""
}
