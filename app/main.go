package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/vuln-comb/app/api"
	"github.com/lysyi3m/vuln-comb/app/cache"
	"github.com/lysyi3m/vuln-comb/app/cfg"
	"github.com/lysyi3m/vuln-comb/app/database"
	"github.com/lysyi3m/vuln-comb/app/enrich"
	"github.com/lysyi3m/vuln-comb/app/feed"
	"github.com/lysyi3m/vuln-comb/app/ingest"
	"github.com/lysyi3m/vuln-comb/app/jobs"
	"github.com/lysyi3m/vuln-comb/app/limiter"
	"github.com/lysyi3m/vuln-comb/app/notify"
	"github.com/lysyi3m/vuln-comb/app/poc"
	"github.com/lysyi3m/vuln-comb/app/service"
	"github.com/lysyi3m/vuln-comb/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	level := slog.LevelInfo
	if appCfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("Starting Vuln Comb server", "version", appCfg.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to connect to database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	sourceRepo := database.NewSourceRepository(db)
	itemRepo := database.NewItemRepository(db)
	pocRepo := database.NewPocRepository(db)
	jobRunRepo := database.NewJobRunRepository(db)

	limiters := limiter.NewRegistry()
	budgets := map[limiter.Kind]int{
		limiter.KindEnrichment: appCfg.AIMaxRPM,
		limiter.KindJobTrigger: appCfg.JobTriggerMaxPerMinute,
		limiter.KindPocTrigger: appCfg.PocTriggerMaxPerMinute,
	}
	for kind, maxCalls := range budgets {
		if err := limiters.Register(kind, maxCalls, time.Minute); err != nil {
			slog.Error("Failed to configure rate limits", "error", err)
			os.Exit(1)
		}
	}

	pageStore := newPageStore(ctx, appCfg.RedisAddr)

	httpClient := &http.Client{Timeout: 60 * time.Second}

	reader := feed.NewReader(httpClient, pageStore, feed.NewContentExtractor(), feed.ReaderOptions{
		BaseURL:           appCfg.ReaderBaseURL,
		RequestsPerMinute: appCfg.ReaderMaxRPM,
		Timeout:           appCfg.ReaderTimeoutDuration(),
		MaxRetries:        appCfg.ReaderMaxRetries,
		Backoff:           2 * time.Second,
		UserAgent:         appCfg.UserAgent,
		CacheTTL:          appCfg.ReaderCacheTTLDuration(),
	})
	pipeline := ingest.NewPipeline(httpClient, feed.NewParser(), reader, appCfg.UserAgent)

	var enricher ingest.Enricher
	generator, err := enrich.NewGenerator(appCfg.AIProvider, appCfg.AIAPIKey, appCfg.AIBaseURL, appCfg.AIModel)
	if err != nil {
		slog.Error("Failed to configure enrichment", "error", err)
		os.Exit(1)
	}
	if generator != nil {
		enrichLimiter, err := limiters.Get(limiter.KindEnrichment)
		if err != nil {
			slog.Error("Failed to configure enrichment", "error", err)
			os.Exit(1)
		}
		enricher = enrich.NewClient(generator, enrichLimiter)
		slog.Info("Enrichment enabled", "provider", appCfg.AIProvider, "model", appCfg.AIModel, "max_rpm", appCfg.AIMaxRPM)
	} else {
		slog.Info("Enrichment disabled (AI_API_KEY not set)")
	}

	searcher, err := poc.NewSearcher(httpClient, poc.SearchOptions{
		BaseURL:  appCfg.PocSearchURL,
		MaxLinks: appCfg.PocMaxLinks,
		Delay:    appCfg.PocDelayDuration(),
	})
	if err != nil {
		slog.Error("Failed to configure PoC search", "error", err)
		os.Exit(1)
	}

	notifier, err := notify.NewDiscord(appCfg.DiscordBotToken, appCfg.DiscordChannelID)
	if err != nil {
		slog.Error("Failed to configure notifications", "error", err)
		os.Exit(1)
	}

	sourceCache := feed.NewSourceCache(appCfg.SourcesDir)
	if err := sourceCache.Run(); err != nil {
		slog.Error("Failed to load source definitions", "dir", appCfg.SourcesDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Source definitions loaded", "dir", appCfg.SourcesDir, "count", sourceCache.GetSourceCount())

	svc := service.New(service.Deps{
		Sources:  sourceRepo,
		Items:    itemRepo,
		Pipeline: pipeline,
		Enricher: enricher,
		Tracker:  jobs.NewTracker(jobRunRepo),
		Resolver: poc.NewResolver(pocRepo, searcher),
		Notifier: notifier,
		Settings: sourceCache,
	})

	scheduler := tasks.NewScheduler(sourceCache, sourceRepo, svc, appCfg.WorkerCount, appCfg.SweepSchedule)
	if err := scheduler.Start(); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer scheduler.Stop()

	if watcher, err := feed.NewWatcher(appCfg.SourcesDir); err != nil {
		slog.Warn("Source definitions will not be watched", "dir", appCfg.SourcesDir, "error", err)
	} else {
		go watcher.Run(ctx, func(change feed.SourceChange) {
			if err := scheduler.SyncSource(change); err != nil {
				slog.Error("Failed to sync source definition", "source", change.Tag, "error", err)
			}
		})
	}

	handler := api.NewHandler(svc, limiters, sourceCache, scheduler)
	server := api.NewServer(handler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:        ":" + appCfg.Port,
		Handler:     server,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	if closer, ok := pageStore.(*cache.RedisStore); ok {
		if err := closer.Close(); err != nil {
			slog.Warn("Failed to close Redis connection", "error", err)
		}
	}

	slog.Info("Vuln Comb server shutdown complete")
}

// newPageStore prefers Redis when an address is configured and falls back to memory.
func newPageStore(ctx context.Context, addr string) cache.Store {
	if addr == "" {
		return cache.NewMemoryStore()
	}

	store, err := cache.NewRedisStore(ctx, addr, "vuln-comb:")
	if err != nil {
		slog.Warn("Redis unavailable, using in-memory page cache", "addr", addr, "error", err)
		return cache.NewMemoryStore()
	}

	slog.Info("Using Redis page cache", "addr", addr)
	return store
}
