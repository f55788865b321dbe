package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/contractwatch/contract-indexer/internal/api"
	"github.com/contractwatch/contract-indexer/internal/auth"
	"github.com/contractwatch/contract-indexer/internal/config"
	"github.com/contractwatch/contract-indexer/internal/docstore"
	"github.com/contractwatch/contract-indexer/internal/events"
	"github.com/contractwatch/contract-indexer/internal/extraction"
	"github.com/contractwatch/contract-indexer/internal/indexer"
	"github.com/contractwatch/contract-indexer/internal/platform/postgres"
	"github.com/contractwatch/contract-indexer/internal/queue"
	"github.com/contractwatch/contract-indexer/internal/service"
)

// shutdownTimeout bounds graceful HTTP shutdown and the final queue stop,
// which requeues in-flight records.
const shutdownTimeout = 15 * time.Second

// application holds the wired components for the server's lifetime.
type application struct {
	config     *config.Config
	logger     *slog.Logger
	db         *sql.DB
	controller *queue.Controller
	router     http.Handler
	scanner    *indexer.Scanner
}

// controllerKickHandler wakes the queue controller when new documents are
// enqueued, so a running queue picks them up without waiting for the next
// poll tick.
type controllerKickHandler struct {
	controller *queue.Controller
}

func (h *controllerKickHandler) HandleEvent(_ context.Context, event *events.QueueEvent) error {
	if event.Type != events.TypeDocumentsEnqueued {
		return nil
	}
	h.controller.Kick()
	return nil
}

// newApplication connects to the database, applies migrations and wires the
// queue pipeline, admin API and optional indexer.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := postgres.MigrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	queueStore := postgres.NewPostgresQueueStore(db, logger)

	documents, err := docstore.NewStore(cfg.Documents, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set up document store: %w", err)
	}

	extractor, err := newExtractor(ctx, cfg.Extraction, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	results, err := queue.NewResultWriter(cfg.Documents, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set up result writer: %w", err)
	}

	emitter := events.NewInMemoryEventEmitter(logger)

	processor := queue.NewProcessor(queueStore, documents, extractor, results, emitter, logger)
	driver, err := queue.NewDriver(cfg.Queue, processor, queueStore, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to build queue driver: %w", err)
	}
	controller := queue.NewController(driver, queueStore, logger)
	emitter.RegisterHandler(&controllerKickHandler{controller: controller})

	queueService := service.NewQueueService(queueStore, documents, emitter, logger)

	jwtService, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set up JWT service: %w", err)
	}

	handler := api.NewQueueHandler(queueService, controller, cfg.Queue, logger)
	router := api.NewRouter(handler, jwtService)

	app := &application{
		config:     cfg,
		logger:     logger,
		db:         db,
		controller: controller,
		router:     router,
	}

	if cfg.Indexer.Enabled {
		embedder, err := indexer.NewGeminiEmbedder(ctx,
			cfg.Indexer.GeminiAPIKey, cfg.Indexer.EmbeddingModel, cfg.Indexer.Dimensions)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set up embedder: %w", err)
		}
		scanner, err := indexer.NewScanner(
			cfg.Documents.NotificationsDir, embedder, indexer.NewPgvectorStore(db), logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set up indexer scanner: %w", err)
		}
		app.scanner = scanner
	}

	return app, nil
}

// newExtractor picks the extraction backend from configuration: the remote
// HTTP service, or local extraction with Gemini analysis.
func newExtractor(ctx context.Context, cfg config.ExtractionConfig, logger *slog.Logger) (extraction.Extractor, error) {
	if cfg.Mode == "direct" {
		analyzer, err := extraction.NewGeminiAnalyzer(ctx, cfg.GeminiAPIKey, cfg.AnalysisModel, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to set up analyzer: %w", err)
		}
		return extraction.NewDirectExtractor(analyzer, logger), nil
	}
	return extraction.NewClient(cfg, logger), nil
}

// Run starts the queue controller, the optional indexer scanner and the
// HTTP server, then blocks until ctx is cancelled or the server fails.
func (app *application) Run(ctx context.Context) error {
	if err := app.controller.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue controller: %w", err)
	}

	if app.scanner != nil {
		go app.scanner.Run(ctx)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		app.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("HTTP shutdown failed", slog.String("error", err.Error()))
	}

	// Stop the queue last so in-flight records are requeued before exit.
	if err := app.controller.Stop(shutdownCtx); err != nil && !errors.Is(err, queue.ErrNotRunning) {
		app.logger.Error("queue stop failed", slog.String("error", err.Error()))
	}

	app.logger.Info("server stopped")
	return nil
}

// cleanup releases resources owned by the application.
func (app *application) cleanup() {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database", slog.String("error", err.Error()))
		}
	}
}
