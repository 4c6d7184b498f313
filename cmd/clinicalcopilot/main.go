package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/clinicalcopilot/internal/embedcache"
	"github.com/xxxsen/clinicalcopilot/internal/handler"
	"github.com/xxxsen/clinicalcopilot/internal/job"
	"github.com/xxxsen/clinicalcopilot/internal/middleware"
	"github.com/xxxsen/clinicalcopilot/internal/schedule"
	"github.com/xxxsen/clinicalcopilot/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "clinicalcopilot",
		Short: "patient-scoped clinical search and copilot",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	withApp := func(fn func(ctx context.Context, a *app, args []string) error) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return fn(ctx, a, args)
		}
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run http server",
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			return runServer(a)
		}),
	}

	ingestCmd := &cobra.Command{
		Use:   "ingest <dir>",
		Short: "ingest every *.json bundle in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			results, failed, err := a.ingest.IngestDir(ctx, args[0])
			if err != nil {
				return err
			}
			if err := printJSON(map[string]interface{}{
				"ingested": results,
				"success":  len(results),
				"failed":   failed,
			}); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d bundles failed", failed)
			}
			return nil
		}),
	}

	reindexCmd := &cobra.Command{
		Use:   "reindex",
		Short: "rebuild the index of every stored patient",
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			report, err := a.ingest.Reindex(ctx)
			if err != nil {
				return err
			}
			return printJSON(report)
		}),
	}

	var req service.SearchRequest
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "search one patient's indexed facts",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			req.Query = args[0]
			if req.NResults <= 0 {
				req.NResults = a.cfg.Search.TopK
			}
			results, err := a.copilotSvc.Search(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(results)
		}),
	}
	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "ask the copilot about one patient",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			req.Query = args[0]
			if req.NResults <= 0 {
				req.NResults = a.cfg.Search.TopK
			}
			resp, err := a.copilotSvc.Ask(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(resp)
		}),
	}
	for _, cmd := range []*cobra.Command{searchCmd, askCmd} {
		cmd.Flags().StringVar(&req.PatientID, "patient", "", "patient id")
		cmd.Flags().IntVar(&req.NResults, "n", 0, "number of results")
		cmd.Flags().StringVar(&req.FilterType, "type", "", "restrict results to one category")
	}

	var maxAge time.Duration
	pruneCmd := &cobra.Command{
		Use:   "prune-cache",
		Short: "delete persisted embeddings older than --max-age",
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if a.cacheRepo == nil {
				return fmt.Errorf("database is not configured")
			}
			n, err := embedcache.Prune(ctx, a.cacheRepo, maxAge)
			if err != nil {
				return err
			}
			return printJSON(map[string]int64{"deleted": n})
		}),
	}
	pruneCmd.Flags().DurationVar(&maxAge, "max-age", 30*24*time.Hour, "maximum age of cached embeddings")

	rootCmd.AddCommand(runCmd, ingestCmd, reindexCmd, searchCmd, askCmd, pruneCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

func buildScheduler(a *app) (*schedule.CronScheduler, error) {
	scheduler := schedule.NewCronScheduler()
	jobs := a.cfg.Jobs
	if jobs.IndexRepair != "" {
		if err := scheduler.AddJob(job.NewIndexRepairJob(a.ingest), jobs.IndexRepair); err != nil {
			return nil, err
		}
	}
	if jobs.CacheCleanup != "" && a.cacheRepo != nil {
		if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(a.cacheRepo, jobs.CacheMaxAgeDays), jobs.CacheCleanup); err != nil {
			return nil, err
		}
	}
	return scheduler, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runServer(a *app) error {
	cfg := a.cfg
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("vector_store", cfg.VectorStore.Type),
		zap.String("record_store", cfg.RecordStore.Type),
	)

	deps := handler.RouterDeps{
		Health:           handler.NewHealthHandler(cfg.VectorStore.Type, cfg.RecordStore.Type, a.copilot.Available()),
		Patients:         handler.NewPatientHandler(a.ingest, a.records, 0),
		Index:            handler.NewIndexHandler(a.ingest, a.index),
		Search:           handler.NewSearchHandler(a.copilotSvc),
		CopilotRateLimit: time.Duration(cfg.CopilotRateLimitMs) * time.Millisecond,
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", addr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler, err := buildScheduler(a)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()
	logutil.GetLogger(ctx).Info("scheduler started", zap.Strings("jobs", scheduler.Jobs()))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
