package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	httpadapter "github.com/kirillkom/intake-scheduler/internal/adapters/http"
	"github.com/kirillkom/intake-scheduler/internal/config"
	"github.com/kirillkom/intake-scheduler/internal/core/domain"
	"github.com/kirillkom/intake-scheduler/internal/core/ports"
	"github.com/kirillkom/intake-scheduler/internal/core/usecase"
	"github.com/kirillkom/intake-scheduler/internal/infrastructure/auth"
	"github.com/kirillkom/intake-scheduler/internal/infrastructure/cache"
	"github.com/kirillkom/intake-scheduler/internal/infrastructure/pubsub"
	"github.com/kirillkom/intake-scheduler/internal/infrastructure/queue/nats"
	"github.com/kirillkom/intake-scheduler/internal/infrastructure/remote"
	"github.com/kirillkom/intake-scheduler/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/intake-scheduler/internal/infrastructure/resilience"
	"github.com/kirillkom/intake-scheduler/internal/infrastructure/validation"
	"github.com/kirillkom/intake-scheduler/internal/observability/metrics"
)

// API is the assembled HTTP side: job admission, dispatch, progress streams
// and entity mutations.
type API struct {
	Config  config.Config
	Handler http.Handler

	closers []func()
}

// Worker executes triggered jobs and folds late extraction results into
// batch counters.
type Worker struct {
	Config   config.Config
	Bus      *nats.Bus
	Executor *usecase.JobExecutor
	Tracker  *usecase.BatchTracker
	Metrics  *metrics.WorkerMetrics

	closers []func()
}

func NewAPI(ctx context.Context, cfg config.Config, logger *slog.Logger) (*API, error) {
	app := &API{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	dispatchMetrics := metrics.NewDispatchMetrics("api", httpMetrics.Registry())
	executor := resilience.NewExecutor(resilienceConfig(cfg), logger).
		WithObserver(metrics.NewResilienceMetrics("api", httpMetrics.Registry()))
	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func() { _ = db.Close() })

	bus, err := nats.Connect(cfg.NATSURL, nats.Options{Name: "intake-api", ResilienceExecutor: executor, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("init message bus: %w", err)
	}
	app.closers = append(app.closers, bus.Close)

	jobUpdates := pubsub.NewHub[domain.JobUpdate](logger)
	progress := pubsub.NewHub[domain.BatchProgress](logger)
	app.closers = append(app.closers, jobUpdates.Close, progress.Close)

	stopJobs, err := bus.WatchJobUpdates(func(update domain.JobUpdate) {
		jobUpdates.Publish(update.JobID, update)
	})
	if err != nil {
		return nil, fmt.Errorf("watch job updates: %w", err)
	}
	stopProgress, err := bus.WatchBatchProgress(func(p domain.BatchProgress) {
		progress.Publish(p.BatchID, p)
	})
	if err != nil {
		stopJobs()
		return nil, fmt.Errorf("watch batch progress: %w", err)
	}
	// Subscriptions must end before the hubs close.
	app.closers = append(app.closers, stopJobs, stopProgress)

	policy, err := dispatchPolicy(cfg)
	if err != nil {
		return nil, err
	}
	extractor, closeExtractor, err := newExtractor(ctx, cfg, executor, logger)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, closeExtractor)

	jobRepo := postgres.NewJobRepository(db)
	batches := postgres.NewBatchRepository(db)
	documents := postgres.NewDocumentRepository(db)

	tracker := usecase.NewBatchTracker(batches, documents, bus, progress, logger)
	dispatcher := usecase.NewBatchDispatcher(documents, extractor, tracker, policy, dispatchMetrics, logger)
	limiter := usecase.NewTenantRateLimiter(postgres.NewTenantLimitsRepository(db), jobRepo)

	validator, err := validation.NewPayloadValidator()
	if err != nil {
		return nil, fmt.Errorf("init payload validator: %w", err)
	}
	jobs := usecase.NewJobService(jobRepo, limiter, validator, bus, jobUpdates, logger)

	entities := usecase.NewEntityRegistry()
	entities.Register(usecase.EntityDocuments, usecase.NewDocumentEntities(documents, tracker))
	entities.Register(usecase.EntityBatches, usecase.NewBatchEntities(batches))

	var verifier httpadapter.TokenVerifier
	if cfg.AuthJWTSecret != "" {
		verifier = auth.NewTokenService(cfg.AuthJWTSecret, cfg.AuthIssuer)
	} else {
		logger.Warn("auth_disabled", "reason", "AUTH_JWT_SECRET is empty, requests run as anonymous")
	}

	app.Handler = httpadapter.NewRouter(cfg, httpadapter.Dependencies{
		Jobs:       jobs,
		Admission:  limiter,
		Dispatcher: dispatcher,
		Batches:    tracker,
		Entities:   entities,
		Events:     bus,
		Auth:       verifier,
		Metrics:    httpMetrics,
		Logger:     logger,
	}).Handler()

	ok = true
	return app, nil
}

func (a *API) Close() {
	closeAll(a.closers)
}

func NewWorker(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Worker, error) {
	app := &Worker{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	app.Metrics = metrics.NewWorkerMetrics("worker")
	dispatchMetrics := metrics.NewDispatchMetrics("worker", app.Metrics.Registry())
	executor := resilience.NewExecutor(resilienceConfig(cfg), logger).
		WithObserver(metrics.NewResilienceMetrics("worker", app.Metrics.Registry()))
	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func() { _ = db.Close() })

	bus, err := nats.Connect(cfg.NATSURL, nats.Options{Name: "intake-worker", ResilienceExecutor: executor, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("init message bus: %w", err)
	}
	app.closers = append(app.closers, bus.Close)
	app.Bus = bus

	policy, err := dispatchPolicy(cfg)
	if err != nil {
		return nil, err
	}
	extractor, closeExtractor, err := newExtractor(ctx, cfg, executor, logger)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, closeExtractor)

	batches := postgres.NewBatchRepository(db)
	documents := postgres.NewDocumentRepository(db)
	// The worker has no local subscribers; progress reaches the API over the bus.
	app.Tracker = usecase.NewBatchTracker(batches, documents, bus, nil, logger)
	dispatcher := usecase.NewBatchDispatcher(documents, extractor, app.Tracker, policy, dispatchMetrics, logger)

	exporter := remote.NewExporter(remote.NewClient("export", cfg.ExportURL, remote.Options{
		Timeout:  cfg.ExtractionTimeout(),
		Token:    cfg.ExtractionToken,
		Executor: executor,
	}))

	app.Executor = usecase.NewJobExecutor(postgres.NewJobRepository(db), bus, app.Metrics, logger)
	app.Executor.Handle(domain.JobTypeExtraction, usecase.ExtractionJobHandler(dispatcher))
	app.Executor.Handle(domain.JobTypeExport, usecase.ExportJobHandler(app.Tracker, exporter))

	ok = true
	return app, nil
}

func (w *Worker) Close() {
	closeAll(w.closers)
}

// closeAll runs closers in reverse registration order.
func closeAll(closers []func()) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

func openStore(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	out.RetryInitialBackoff = time.Duration(cfg.ResilienceRetryInitialBackoffMs) * time.Millisecond
	out.RetryMaxBackoff = time.Duration(cfg.ResilienceRetryMaxBackoffMs) * time.Millisecond
	out.BreakerEnabled = cfg.ResilienceBreakerEnabled
	if cfg.ResilienceBreakerMinRequests > 0 {
		out.BreakerMinRequests = uint32(cfg.ResilienceBreakerMinRequests)
	}
	out.BreakerOpenTimeout = time.Duration(cfg.ResilienceBreakerOpenTimeoutSecs) * time.Second
	return out
}

// dispatchPolicy layers env timeouts and the optional YAML profile over
// the built-in complexity table.
func dispatchPolicy(cfg config.Config) (usecase.DispatchPolicy, error) {
	policy := usecase.DefaultDispatchPolicy()
	if cfg.DispatchSimpleTimeoutSeconds > 0 {
		policy.SimpleTimeout = time.Duration(cfg.DispatchSimpleTimeoutSeconds) * time.Second
	}
	if cfg.DispatchComplexTimeoutSeconds > 0 {
		policy.ComplexTimeout = time.Duration(cfg.DispatchComplexTimeoutSeconds) * time.Second
	}
	if cfg.DispatchProfilePath == "" {
		return policy, nil
	}

	profile, err := config.LoadDispatchProfile(cfg.DispatchProfilePath)
	if err != nil {
		return usecase.DispatchPolicy{}, err
	}
	if profile.SimpleTimeout > 0 {
		policy.SimpleTimeout = profile.SimpleTimeout
	}
	if profile.ComplexTimeout > 0 {
		policy.ComplexTimeout = profile.ComplexTimeout
	}
	for fileType, rule := range profile.FileTypes {
		policy.Profiles[usecase.NormalizeFileType(fileType)] = usecase.FileTypeProfile{
			Complex: rule.Complex,
			Timeout: rule.Timeout,
		}
	}
	return policy, nil
}

// newExtractor builds the remote extractor behind a result cache: Redis
// when REDIS_ADDR is set, an in-process LRU otherwise.
func newExtractor(ctx context.Context, cfg config.Config, executor *resilience.Executor, logger *slog.Logger) (ports.Extractor, func(), error) {
	client := remote.NewClient("extraction", cfg.ExtractionURL, remote.Options{
		Timeout:  cfg.ExtractionTimeout(),
		Token:    cfg.ExtractionToken,
		Executor: executor,
	})
	extractor := remote.NewExtractor(client)

	if cfg.RedisAddr == "" {
		if cfg.ResultCacheSize <= 0 {
			return extractor, func() {}, nil
		}
		lru := cache.NewLRU[string, domain.ExtractionResult](cfg.ResultCacheSize)
		return cache.NewCachingExtractor(extractor, lru), func() {}, nil
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	resultCache := cache.NewRedisResultCache(redisClient, cache.RedisOptions{
		TTL: time.Duration(cfg.ResultCacheTTLSeconds) * time.Second,
	}, logger)
	return cache.NewCachingExtractor(extractor, resultCache), func() { _ = redisClient.Close() }, nil
}
