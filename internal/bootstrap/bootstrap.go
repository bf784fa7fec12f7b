package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/docvault/internal/config"
	"github.com/kirillkom/docvault/internal/core/ports"
	"github.com/kirillkom/docvault/internal/core/usecase"
	rediscache "github.com/kirillkom/docvault/internal/infrastructure/cache/redis"
	"github.com/kirillkom/docvault/internal/infrastructure/extractor/registry"
	"github.com/kirillkom/docvault/internal/infrastructure/llm/gemini"
	"github.com/kirillkom/docvault/internal/infrastructure/llm/openai"
	"github.com/kirillkom/docvault/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docvault/internal/infrastructure/repository/memory"
	"github.com/kirillkom/docvault/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docvault/internal/infrastructure/resilience"
	"github.com/kirillkom/docvault/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/docvault/internal/infrastructure/storage/supabase"
	"github.com/kirillkom/docvault/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Storage    ports.ObjectStorage
	Subscriber ports.AnalysisSubscriber

	IngestUC  *usecase.IngestDocumentUseCase
	AnalyzeUC *usecase.AnalyzeDocumentUseCase
	DrainUC   *usecase.DrainQueueUseCase
	QueryUC   *usecase.QueryUseCase

	HTTPMetrics     *metrics.HTTPServerMetrics
	AnalysisMetrics *metrics.AnalysisMetrics

	closers []func()
}

// New wires the application for one process. service names the process in
// metrics labels.
func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	repo, queue, categories, err := app.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	seed, err := config.LoadCategories(cfg.CategoriesFile)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	if err := categories.SeedCategories(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed categories: %w", err)
	}

	if cfg.RedisURL != "" {
		client, err := rediscache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		app.closers = append(app.closers, func() { _ = client.Close() })
		cache := rediscache.NewStatisticsCache(client, cfg.StatisticsCacheTTL)
		repo = rediscache.WrapDocuments(repo, cache)
		queue = rediscache.WrapQueue(queue, cache)
	}

	storage, err := newObjectStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	app.Storage = storage

	var notifier ports.AnalysisNotifier
	if cfg.NATSURL != "" {
		n, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: resilience.NewExecutor(resilience.PublishConfig()),
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.closers = append(app.closers, n.Close)
		notifier = n
		app.Subscriber = n
	} else {
		slog.Warn("nats_disabled", "reason", "NATS_URL is empty; workers rely on the queue sweep")
	}

	analyzer, err := newAnalyzer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init analyzer: %w", err)
	}

	app.HTTPMetrics = metrics.NewHTTPServerMetrics(service)
	app.AnalysisMetrics = metrics.NewAnalysisMetrics(service, app.HTTPMetrics.Registry())

	app.IngestUC = usecase.NewIngestDocumentUseCase(repo, queue, storage, notifier)
	app.AnalyzeUC = usecase.NewAnalyzeDocumentUseCase(repo, queue, storage, registry.New(cfg.MaxUploadBytes), analyzer).
		WithTimeout(cfg.AnalysisTimeout).
		WithObserver(app.AnalysisMetrics)
	app.DrainUC = usecase.NewDrainQueueUseCase(queue, app.AnalyzeUC, cfg.WorkerConcurrency)
	app.QueryUC = usecase.NewQueryUseCase(repo, queue, categories)

	ok = true
	return app, nil
}

func (a *App) openStore(ctx context.Context, cfg config.Config) (ports.DocumentRepository, ports.ProcessingQueue, ports.CategoryStore, error) {
	switch cfg.StoreBackend {
	case "memory":
		store := memory.NewStore()
		return store.Documents(), store.Queue(), store, nil
	case "postgres", "":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return nil, nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return postgres.NewDocumentRepository(db), postgres.NewQueueRepository(db), postgres.NewCategoryRepository(db), nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

func newObjectStorage(cfg config.Config) (ports.ObjectStorage, error) {
	switch cfg.StorageBackend {
	case "supabase":
		return supabase.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseBucket)
	case "localfs", "":
		return localfs.New(cfg.StoragePath, localfs.Options{
			PublicBaseURL:  cfg.PublicBaseURL,
			SigningSecret:  cfg.UploadSigningSecret,
			UploadTTL:      cfg.UploadURLTTL,
			MaxUploadBytes: cfg.MaxUploadBytes,
		})
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
}

func newAnalyzer(ctx context.Context, cfg config.Config) (ports.DocumentAnalyzer, error) {
	executor := resilience.NewExecutor(analysisPolicy(cfg))

	switch cfg.AIProvider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			slog.Warn("ai_api_key_missing", "provider", "gemini")
		}
		return gemini.New(ctx, gemini.Options{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel}, executor)
	case "openai", "":
		if cfg.OpenAIAPIKey == "" {
			slog.Warn("ai_api_key_missing", "provider", "openai")
		}
		return openai.New(openai.Options{
			BaseURL:     cfg.OpenAIBaseURL,
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.OpenAIModel,
			HTTPTimeout: cfg.AIRequestTimeout,
		}, executor), nil
	default:
		return nil, fmt.Errorf("unknown AI_PROVIDER %q", cfg.AIProvider)
	}
}

func analysisPolicy(cfg config.Config) resilience.Config {
	policy := resilience.AnalysisConfig()
	if cfg.AIRetryAttempts > 0 {
		policy.RetryMaxAttempts = cfg.AIRetryAttempts
	}
	if cfg.AIRequestTimeout > 0 {
		policy.AttemptTimeout = cfg.AIRequestTimeout
	}
	policy.BreakerEnabled = cfg.AIBreakerEnabled
	return policy
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
