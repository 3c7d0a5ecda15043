// Package bootstrap assembles configuration, infrastructure adapters and use
// cases into runnable applications. The worker and the API server share the
// Postgres layer but carry otherwise disjoint stacks, so each binary gets its
// own constructor and only dials the systems it actually uses.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"golang.org/x/time/rate"

	httpadapter "github.com/complyte/tradeconfirm/internal/adapters/http"
	mcpadapter "github.com/complyte/tradeconfirm/internal/adapters/mcp"
	"github.com/complyte/tradeconfirm/internal/config"
	"github.com/complyte/tradeconfirm/internal/core/usecase"
	"github.com/complyte/tradeconfirm/internal/infrastructure/blobstore/localfs"
	"github.com/complyte/tradeconfirm/internal/infrastructure/extractor/textlayer"
	identityneo4j "github.com/complyte/tradeconfirm/internal/infrastructure/identity/neo4j"
	"github.com/complyte/tradeconfirm/internal/infrastructure/llm/ollama"
	natsqueue "github.com/complyte/tradeconfirm/internal/infrastructure/queue/nats"
	"github.com/complyte/tradeconfirm/internal/infrastructure/repository/postgres"
	"github.com/complyte/tradeconfirm/internal/infrastructure/resilience"
	"github.com/complyte/tradeconfirm/internal/observability/metrics"
)

// WorkerApp holds the intake worker's wired dependencies.
type WorkerApp struct {
	Config  config.Config
	Poller  *usecase.IntakePoller
	Metrics *metrics.WorkerMetrics

	closeFn func()
}

// NewWorker wires the full document pipeline: blob store, Postgres stores,
// the Neo4j identity directory, the Ollama extraction engine, the NATS
// publisher and the intake poller that drives them.
func NewWorker(ctx context.Context, cfg config.Config, logger *slog.Logger) (*WorkerApp, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	docs := postgres.NewDocumentStore(db)
	requests := postgres.NewRequestStore(db)
	reviews := postgres.NewReviewStore(db)

	blobs, err := localfs.New(cfg.BlobRoot)
	if err != nil {
		return nil, fmt.Errorf("init blob store: %w", err)
	}

	publisher, err := natsqueue.NewWithOptions(cfg.NATSURL, cfg.NATSOutcomeSubject, cfg.NATSReviewSubject, natsqueue.Options{
		ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig(), logger.With("component", "nats")),
		Logger:             logger.With("component", "nats"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
	if err != nil {
		return nil, fmt.Errorf("init neo4j driver: %w", err)
	}
	directory := identityneo4j.NewDirectory(driver)

	tolerances, err := config.LoadTolerances(cfg.TolerancesPath)
	if err != nil {
		return nil, fmt.Errorf("load tolerances: %w", err)
	}

	llmLimiter := rate.NewLimiter(rate.Limit(cfg.LLMRateRPS), cfg.LLMRateBurst)
	llmClient := ollama.New(cfg.OllamaURL, cfg.OllamaModel, llmLimiter, resilience.NewExecutor(resilience.DefaultConfig(), logger.With("component", "ollama")))
	trades := ollama.NewExtractor(llmClient, cfg.ExtractMaxAttempts, logger.With("component", "ollama"))

	workerMetrics := metrics.NewWorkerMetrics("worker")

	pipeline := usecase.NewDocumentPipeline(
		blobs, docs, requests, directory, textlayer.New(), trades, reviews, publisher,
		workerMetrics,
		logger.With("component", "pipeline"),
		usecase.PipelineConfig{
			OrgDomain:      cfg.OrgDomain,
			FuzzyThreshold: tolerances.Match.FuzzyThreshold,
			QuantityPct:    tolerances.Match.QuantityPct,
			PricePct:       tolerances.Validation.PricePct,
			ProceedsPct:    tolerances.Validation.ProceedsPct,
		},
	)

	poller := usecase.NewIntakePoller(blobs, docs, pipeline, workerMetrics, logger.With("component", "poller"), usecase.PollerConfig{
		PollInterval:        cfg.PollInterval,
		BatchSize:           cfg.PollBatchSize,
		Concurrency:         cfg.WorkerConcurrency,
		OrphanTimeout:       cfg.OrphanTimeout,
		OrphanSweepInterval: cfg.OrphanSweepInterval,
		MaxDocumentRetries:  cfg.MaxDocumentRetries,
	})

	return &WorkerApp{
		Config:  cfg,
		Poller:  poller,
		Metrics: workerMetrics,
		closeFn: func() {
			publisher.Close()
			if err := driver.Close(context.Background()); err != nil {
				logger.Warn("neo4j_close_failed", "error", err)
			}
			if err := db.Close(); err != nil {
				logger.Warn("postgres_close_failed", "error", err)
			}
		},
	}, nil
}

// Close releases the worker's connections in reverse construction order.
func (a *WorkerApp) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// APIApp holds the review API server's wired dependencies.
type APIApp struct {
	Config  config.Config
	Handler http.Handler

	closeFn func()
}

// NewAPI wires the review queue service and its HTTP and MCP surfaces. The
// API publishes review lifecycle events but never talks to the LLM or the
// identity directory.
func NewAPI(ctx context.Context, cfg config.Config, logger *slog.Logger) (*APIApp, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	docs := postgres.NewDocumentStore(db)
	requests := postgres.NewRequestStore(db)
	reviewStore := postgres.NewReviewStore(db)

	publisher, err := natsqueue.NewWithOptions(cfg.NATSURL, cfg.NATSOutcomeSubject, cfg.NATSReviewSubject, natsqueue.Options{
		ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig(), logger.With("component", "nats")),
		Logger:             logger.With("component", "nats"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	reviewService := usecase.NewReviewService(reviewStore, requests, publisher, logger.With("component", "review"))

	serverMetrics := metrics.NewHTTPServerMetrics("api")
	mcpServer := mcpadapter.New(reviewService, docs, logger.With("component", "mcp"))

	router, err := httpadapter.NewRouter(cfg, reviewService, docs, serverMetrics, mcpServer.HTTPHandler())
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}

	return &APIApp{
		Config:  cfg,
		Handler: router.Handler(),
		closeFn: func() {
			publisher.Close()
			if err := db.Close(); err != nil {
				logger.Warn("postgres_close_failed", "error", err)
			}
		},
	}, nil
}

// Close releases the API server's connections.
func (a *APIApp) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
