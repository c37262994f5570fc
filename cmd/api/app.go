package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"

	"github.com/floatchat/floatchat/internal/api"
	"github.com/floatchat/floatchat/internal/api/handlers"
	"github.com/floatchat/floatchat/internal/api/middleware"
	"github.com/floatchat/floatchat/internal/config"
	"github.com/floatchat/floatchat/internal/googleai"
	"github.com/floatchat/floatchat/internal/mcp"
	"github.com/floatchat/floatchat/internal/models"
	"github.com/floatchat/floatchat/internal/nominatim"
	"github.com/floatchat/floatchat/internal/observability"
	"github.com/floatchat/floatchat/internal/openai"
	"github.com/floatchat/floatchat/internal/ranking"
	"github.com/floatchat/floatchat/internal/repository"
	"github.com/floatchat/floatchat/internal/repository/sqlite"
	"github.com/floatchat/floatchat/internal/service"
	"github.com/floatchat/floatchat/internal/tei"
	"github.com/floatchat/floatchat/internal/workers"
	"github.com/floatchat/floatchat/pkg/database"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var errUnsupportedProvider = errors.New("unsupported provider")

const riverQueueDepthInterval = 15 * time.Second

// profileStore is what the API needs from either store driver.
type profileStore interface {
	service.BoundedProfileStore
	Ping(ctx context.Context) error
	GetProfile(ctx context.Context, id int64) (models.Profile, error)
	SetProfileEmbedding(ctx context.Context, id int64, embedding []float32) error
}

var (
	_ profileStore = (*repository.ProfilesRepository)(nil)
	_ profileStore = (*sqlite.Store)(nil)
)

// App holds all server dependencies and coordinates startup and shutdown.
type App struct {
	cfg            *config.Config
	pool           *pgxpool.Pool
	closeStore     func()
	server         *http.Server
	river          *river.Client[pgx.Tx]
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metrics        *observability.Metrics
}

// openStore connects the configured store driver. pool is nil for SQLite.
func openStore(
	ctx context.Context, cfg *config.Config, queryMetrics observability.QueryMetrics,
) (profileStore, *pgxpool.Pool, func(), error) {
	if cfg.StoreDriver == config.StoreDriverSQLite {
		var opts []sqlite.Option
		if queryMetrics != nil {
			opts = append(opts, sqlite.WithMalformedRecorder(queryMetrics))
		}

		store, err := sqlite.Open(cfg.SQLitePath, cfg.StorePageSize, slog.Default(), opts...)
		if err != nil {
			return nil, nil, nil, err
		}

		slog.Info("Using SQLite profile store", "path", cfg.SQLitePath)

		return store, nil, func() {
			if err := store.Close(); err != nil {
				slog.Error("close sqlite store", "error", err)
			}
		}, nil
	}

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, database.WithAfterConnect(pgxvec.RegisterTypes))
	if err != nil {
		return nil, nil, nil, err
	}

	return repository.NewProfilesRepository(pool, cfg.StorePageSize), pool, pool.Close, nil
}

// setupMetrics creates the meter provider and collectors when metrics are enabled.
// When NewMeterProvider returns nil (unsupported exporter), everything is nil and metrics stay off.
func setupMetrics(cfg *config.Config) (*sdkmetric.MeterProvider, http.Handler, *observability.Metrics, error) {
	mp, handler, err := observability.NewMeterProvider(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create meter provider: %w", err)
	}

	if mp == nil {
		return nil, nil, nil, nil
	}

	metrics, err := observability.NewMetrics(mp.Meter("floatchat"))
	if err != nil {
		if err2 := observability.ShutdownMeterProvider(context.Background(), mp); err2 != nil {
			slog.Error("shutdown meter provider after metrics error", "error", err2)
		}

		return nil, nil, nil, fmt.Errorf("create metrics: %w", err)
	}

	return mp, handler, metrics, nil
}

func newEmbedder(ctx context.Context, cfg *config.Config) (service.EmbeddingClient, error) {
	switch cfg.EmbeddingProvider {
	case config.EmbeddingProviderTEI:
		return tei.NewClient(tei.ClientOptions{
			BaseURL:    cfg.TEIURL,
			Dimensions: cfg.EmbeddingDimensions,
			Timeout:    cfg.EmbeddingTimeout,
		}), nil
	case config.EmbeddingProviderOpenAI:
		return openai.NewClient(cfg.EmbeddingProviderAPIKey,
			openai.WithModel(cfg.EmbeddingModel),
			openai.WithDimensions(cfg.EmbeddingDimensions),
		), nil
	case config.EmbeddingProviderGoogle:
		client, err := googleai.NewClient(ctx, cfg.EmbeddingProviderAPIKey,
			googleai.WithModel(cfg.EmbeddingModel),
			googleai.WithDimensions(cfg.EmbeddingDimensions),
		)
		if err != nil {
			return nil, fmt.Errorf("create google embedding client: %w", err)
		}

		return client, nil
	default:
		return nil, fmt.Errorf("%w: embedding provider %q", errUnsupportedProvider, cfg.EmbeddingProvider)
	}
}

// newNarrator returns nil when no narration provider is configured (templated explanations only).
func newNarrator(ctx context.Context, cfg *config.Config) (service.Narrator, error) {
	switch cfg.NarrationProvider {
	case "":
		slog.Info("narration disabled (NARRATION_PROVIDER not set), using templated explanations")

		return nil, nil //nolint:nilnil // narration is optional
	case config.EmbeddingProviderOpenAI:
		return openai.NewClient(cfg.NarrationAPIKey, openai.WithChatModel(cfg.NarrationModel)), nil
	case config.EmbeddingProviderGoogle:
		client, err := googleai.NewClient(ctx, cfg.NarrationAPIKey, googleai.WithNarrationModel(cfg.NarrationModel))
		if err != nil {
			return nil, fmt.Errorf("create google narration client: %w", err)
		}

		return client, nil
	default:
		return nil, fmt.Errorf("%w: narration provider %q", errUnsupportedProvider, cfg.NarrationProvider)
	}
}

// NewApp builds and wires all components. It does not start the HTTP server or River;
// call Run to start and block until shutdown or failure.
func NewApp(ctx context.Context, cfg *config.Config) (app *App, err error) {
	var (
		meterProvider  *sdkmetric.MeterProvider
		metricsHandler http.Handler
		metrics        *observability.Metrics
		tracerProvider *sdktrace.TracerProvider
	)

	if cfg.OtelMetricsExporter == "" {
		slog.Warn("metrics not enabled (OTEL_METRICS_EXPORTER empty or unset)")
	} else {
		meterProvider, metricsHandler, metrics, err = setupMetrics(cfg)
		if err != nil {
			return nil, err
		}
	}

	if cfg.OtelTracesExporter == "" {
		slog.Warn("tracing not enabled (OTEL_TRACES_EXPORTER empty or unset)")
	} else {
		tracerProvider, err = observability.NewTracerProvider(cfg)
		if err != nil {
			if err2 := observability.ShutdownMeterProvider(context.Background(), meterProvider); err2 != nil {
				slog.Error("shutdown meter provider after tracer provider error", "error", err2)
			}

			return nil, fmt.Errorf("create tracer provider: %w", err)
		}
	}

	defer func() {
		if err != nil {
			if err2 := shutdownObservability(context.Background(), tracerProvider, meterProvider); err2 != nil {
				slog.Error("shutdown observability after startup error", "error", err2)
			}
		}
	}()

	// request_id (and trace_id/span_id when tracing is on) appear in every log line.
	slog.SetDefault(slog.New(observability.NewTraceContextHandler(slog.Default().Handler())))

	if tracerProvider != nil {
		otel.SetTracerProvider(tracerProvider)
	}

	if meterProvider != nil {
		otel.SetMeterProvider(meterProvider)
	}

	var (
		queryMetrics     observability.QueryMetrics
		cacheMetrics     observability.CacheMetrics
		apiMetrics       observability.APIMetrics
		embeddingMetrics observability.EmbeddingMetrics
	)

	if metrics != nil {
		queryMetrics = metrics.Query
		cacheMetrics = metrics.Cache
		apiMetrics = metrics.API
		embeddingMetrics = metrics.Embeddings
	}

	store, pool, closeStore, err := openStore(ctx, cfg, queryMetrics)
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}

	defer func() {
		if err != nil {
			closeStore()
		}
	}()

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}

	slog.Info("query embeddings enabled",
		"provider", cfg.EmbeddingProvider, "model", cfg.EmbeddingModel, "dimensions", cfg.EmbeddingDimensions)

	narrator, err := newNarrator(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var geocoder service.Geocoder
	if cfg.GeocoderEnabled {
		geocoder = nominatim.NewClient(nominatim.Options{
			BaseURL:      cfg.NominatimURL,
			UserAgent:    cfg.NominatimUserAgent,
			RateLimit:    cfg.GeocodeRateLimit,
			CacheSize:    cfg.GeocodeCacheSize,
			CacheTTL:     cfg.GeocodeCacheTTL,
			Timeout:      cfg.GeocodeTimeout,
			CacheMetrics: cacheMetrics,
			Logger:       slog.Default(),
		})
	} else {
		slog.Info("geocoding disabled (GEOCODER_ENABLED=false), only explicit lat=/lon= is used")
	}

	var queryCache *service.QueryEmbeddingCache
	if cfg.EmbeddingCacheSize > 0 {
		queryCache, err = service.NewQueryEmbeddingCache(cfg.EmbeddingCacheSize)
		if err != nil {
			return nil, err
		}
	}

	queryService := service.NewQueryService(service.QueryServiceParams{
		Embedder: embedder,
		Geocoder: geocoder,
		Store:    store,
		Ranker: ranking.NewRanker(ranking.Config{
			TopK:         cfg.TopK,
			RadiusMeters: cfg.RadiusMeters,
			Workers:      cfg.RankWorkers,
			Logger:       slog.Default(),
		}),
		Assembler: service.NewAssembler(service.AssemblerParams{
			Levels:           store,
			Narrator:         narrator,
			MaxDepthLevels:   cfg.MaxDepthLevels,
			NarrationTimeout: cfg.NarrationTimeout,
			StoreTimeout:     cfg.StoreTimeout,
			Metrics:          queryMetrics,
			Logger:           slog.Default(),
		}),
		Dimensions:       cfg.EmbeddingDimensions,
		EmbeddingTimeout: cfg.EmbeddingTimeout,
		GeocodeTimeout:   cfg.GeocodeTimeout,
		StoreTimeout:     cfg.StoreTimeout,
		QueryCache:       queryCache,
		CacheMetrics:     cacheMetrics,
		Metrics:          queryMetrics,
		Logger:           slog.Default(),
	})

	var riverClient *river.Client[pgx.Tx]

	if cfg.RiverEnabled {
		riverClient, err = newRiverClient(ctx, cfg, pool, store, embedder, embeddingMetrics)
		if err != nil {
			return nil, err
		}

		slog.Info("River embedding backfill enabled",
			"workers", cfg.EmbeddingMaxConcurrent, "max_attempts", cfg.EmbeddingMaxAttempts, "rate_limit", cfg.EmbeddingRateLimit)
	}

	var mcpHandler http.Handler
	if cfg.MCPEnabled {
		mcpHandler = mcp.NewServer(queryService, version, slog.Default()).SSEHandler()

		slog.Info("MCP server enabled", "sse", "/mcp/sse", "message", "/mcp/message")
	}

	router := api.NewRouter(api.RouterParams{
		Query:          handlers.NewQueryHandler(queryService),
		Nearest:        handlers.NewNearestHandler(queryService),
		Health:         handlers.NewHealthHandler(store),
		MCP:            mcpHandler,
		MetricsHandler: metricsHandler,
		Metrics:        apiMetrics,
		MaxBodyBytes:   cfg.MaxRequestBodyBytes,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	return &App{
		cfg:            cfg,
		pool:           pool,
		closeStore:     closeStore,
		server:         newHTTPServer(cfg, router, meterProvider, tracerProvider),
		river:          riverClient,
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		metrics:        metrics,
	}, nil
}

// newRiverClient migrates the River schema and registers the profile embedding worker.
func newRiverClient(
	ctx context.Context,
	cfg *config.Config,
	pool *pgxpool.Pool,
	store profileStore,
	embedder service.EmbeddingClient,
	metrics observability.EmbeddingMetrics,
) (*river.Client[pgx.Tx], error) {
	driver := riverpgxv5.New(pool)

	migrator, err := rivermigrate.New(driver, nil)
	if err != nil {
		return nil, fmt.Errorf("create River migrator: %w", err)
	}

	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return nil, fmt.Errorf("migrate River schema: %w", err)
	}

	riverWorkers := river.NewWorkers()
	river.AddWorker(riverWorkers, workers.NewProfileEmbeddingWorker(workers.ProfileEmbeddingWorkerParams{
		Store:       store,
		Embedder:    embedder,
		Dimensions:  cfg.EmbeddingDimensions,
		RateLimiter: rate.NewLimiter(rate.Limit(cfg.EmbeddingRateLimit), 1),
		Metrics:     metrics,
		Logger:      slog.Default(),
	}))

	client, err := river.NewClient(driver, &river.Config{
		Queues: map[string]river.QueueConfig{
			service.EmbeddingsQueueName: {MaxWorkers: cfg.EmbeddingMaxConcurrent},
		},
		Workers:      riverWorkers,
		ErrorHandler: &workers.ErrorHandler{Logger: slog.Default()},
		MaxAttempts:  cfg.EmbeddingMaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("create River client: %w", err)
	}

	return client, nil
}

// newHTTPServer wraps the router. Handler chain: RequestID -> otelhttp(Logging(router))
// so access logs get trace_id/span_id from context.
func newHTTPServer(
	cfg *config.Config,
	router http.Handler,
	meterProvider *sdkmetric.MeterProvider,
	tracerProvider *sdktrace.TracerProvider,
) *http.Server {
	otelOpts := []otelhttp.Option{
		// Probes and scrapes are noise in traces.
		otelhttp.WithFilter(func(r *http.Request) bool {
			switch r.URL.Path {
			case "/health", "/ready", "/metrics":
				return false
			default:
				return true
			}
		}),
	}
	if meterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(meterProvider))
	}

	if tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(tracerProvider))
	}

	handler := otelhttp.NewHandler(middleware.Logging(router), "floatchat-api", otelOpts...)
	handler = middleware.RequestID(handler)

	const (
		readTimeout = 15 * time.Second
		idleTimeout = 60 * time.Second
	)

	// No write timeout: the MCP SSE stream is long-lived. Query work is bounded by per-stage timeouts.
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		IdleTimeout:       idleTimeout,
	}
}

// Run starts the HTTP server and River, then blocks until ctx is cancelled (e.g. signal)
// or a component fails. Caller should then call Shutdown.
func (a *App) Run(ctx context.Context) error {
	runErr := make(chan error, 1)

	riverCtx, cancelRiver := context.WithCancel(ctx)
	defer cancelRiver()

	if a.river != nil {
		if a.metrics != nil && a.metrics.Embeddings != nil {
			go runRiverQueueDepthPoller(riverCtx, a.pool, a.metrics.Embeddings)
		}

		go func() {
			if err := a.river.Start(riverCtx); err != nil && !errors.Is(err, context.Canceled) {
				select {
				case runErr <- fmt.Errorf("river: %w", err):
				default:
				}
			}
		}()
	}

	go func() {
		slog.Info("Starting server", "port", a.cfg.Port, "store", a.cfg.StoreDriver)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case runErr <- fmt.Errorf("server: %w", err):
			default:
			}
		}
	}()

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

// runRiverQueueDepthPoller periodically updates the embeddings queue depth gauge.
func runRiverQueueDepthPoller(ctx context.Context, db *pgxpool.Pool, embeddingMetrics observability.EmbeddingMetrics) {
	ticker := time.NewTicker(riverQueueDepthInterval)
	defer ticker.Stop()

	update := func() {
		var count int

		err := db.QueryRow(ctx,
			`SELECT COUNT(*) FROM river_job WHERE queue = $1 AND state IN ($2, $3, $4)`,
			service.EmbeddingsQueueName,
			rivertype.JobStateAvailable, rivertype.JobStateRetryable, rivertype.JobStateScheduled,
		).Scan(&count)
		if err != nil {
			if ctx.Err() == nil {
				slog.WarnContext(ctx, "river queue depth poll failed", "error", err)
			}

			return
		}

		embeddingMetrics.SetRiverQueueDepth(count)
	}

	update()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

// shutdownObservability shuts down tracer and meter providers. Logs secondary errors, returns the first.
func shutdownObservability(ctx context.Context, tracer *sdktrace.TracerProvider, meter *sdkmetric.MeterProvider) error {
	var first error

	if err := observability.ShutdownTracerProvider(ctx, tracer); err != nil {
		first = err
	}

	if err := observability.ShutdownMeterProvider(ctx, meter); err != nil {
		if first == nil {
			first = err
		} else {
			slog.Error("shutdown meter provider", "error", err)
		}
	}

	return first
}

// Shutdown stops the server, then River, then closes the store. Call after Run returns.
// Observability is shut down last; its error is returned only when everything else stopped cleanly.
func (a *App) Shutdown(ctx context.Context) (err error) {
	defer func() {
		obsErr := shutdownObservability(ctx, a.tracerProvider, a.meterProvider)
		if err == nil {
			err = obsErr
		} else if obsErr != nil {
			slog.Error("shutdown observability", "error", obsErr)
		}
	}()

	defer a.closeStore()

	serverErr := a.server.Shutdown(ctx)
	if serverErr != nil && !errors.Is(serverErr, http.ErrServerClosed) {
		serverErr = fmt.Errorf("server shutdown: %w", serverErr)
	} else {
		serverErr = nil
	}

	if a.river != nil {
		if stopErr := a.river.Stop(ctx); stopErr != nil {
			if serverErr != nil {
				slog.Error("river stop during server shutdown", "error", stopErr)

				return serverErr
			}

			return fmt.Errorf("river stop: %w", stopErr)
		}
	}

	return serverErr
}
