package main

import (
	"context"
	"time"

	"github.com/biboandbobo2/psych-dev-backend/internal/clients/gcp"
	"github.com/biboandbobo2/psych-dev-backend/internal/clients/gemini"
	"github.com/biboandbobo2/psych-dev-backend/internal/db"
	"github.com/biboandbobo2/psych-dev-backend/internal/handlers"
	"github.com/biboandbobo2/psych-dev-backend/internal/ingestion"
	"github.com/biboandbobo2/psych-dev-backend/internal/ingestion/extractor"
	"github.com/biboandbobo2/psych-dev-backend/internal/logger"
	"github.com/biboandbobo2/psych-dev-backend/internal/middleware"
	"github.com/biboandbobo2/psych-dev-backend/internal/observability"
	"github.com/biboandbobo2/psych-dev-backend/internal/repos"
	"github.com/biboandbobo2/psych-dev-backend/internal/server"
	"github.com/biboandbobo2/psych-dev-backend/internal/services"
	"github.com/biboandbobo2/psych-dev-backend/internal/utils"
)

func main() {
	ctx := context.Background()

	log, err := logger.New(utils.GetEnv("LOG_MODE", "development", nil))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	shutdownTracing, err := observability.InitTracing(ctx, "psych-dev-backend")
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("Tracing shutdown failed", "error", err)
		}
	}()

	postgres, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Failed to initialize postgres", "error", err)
	}
	if err := postgres.AutoMigrateAll(); err != nil {
		log.Fatal("Failed to migrate postgres tables", "error", err)
	}

	bookRepo := repos.NewBookRepo(postgres.DB(), log)
	jobRepo := repos.NewIngestionJobRepo(postgres.DB(), log)
	chunkRepo := repos.NewBookChunkRepo(postgres.DB(), log)

	bucket, err := gcp.NewBucketService(log)
	if err != nil {
		log.Fatal("Failed to initialize bucket service", "error", err)
	}
	defer bucket.Close()

	geminiClient, err := gemini.NewClient(log)
	if err != nil {
		log.Fatal("Failed to initialize gemini client", "error", err)
	}

	textExtractor, err := extractor.NewDocumentAI(log)
	if err != nil {
		log.Fatal("Failed to initialize document extractor", "error", err)
	}

	embedCfg := services.DefaultEmbeddingConfig()
	embedCfg.BatchSize = utils.GetEnvAsInt("EMBED_BATCH_SIZE", embedCfg.BatchSize, log)
	embedCfg.Parallelism = utils.GetEnvAsInt("EMBED_PARALLELISM", embedCfg.Parallelism, log)
	embedder := services.NewEmbeddingService(geminiClient, embedCfg, log)

	ingestionService, err := services.NewIngestionService(services.IngestionDeps{
		Log:       log,
		Books:     bookRepo,
		Jobs:      jobRepo,
		Chunks:    chunkRepo,
		Blob:      bucket,
		Extractor: textExtractor,
		Embedder:  embedder,
		ChunkCfg:  ingestion.DefaultChunkConfig(),
	})
	if err != nil {
		log.Fatal("Failed to initialize ingestion service", "error", err)
	}

	bookService, err := services.NewBookService(services.BookDeps{
		Log:    log,
		Books:  bookRepo,
		Jobs:   jobRepo,
		Chunks: chunkRepo,
		Blob:   bucket,
	})
	if err != nil {
		log.Fatal("Failed to initialize book service", "error", err)
	}

	retrievalService, err := services.NewRetrievalService(services.RetrievalDeps{
		Log:      log,
		Books:    bookRepo,
		Chunks:   chunkRepo,
		Embedder: embedder,
		Cfg:      services.DefaultRetrievalConfig(),
	})
	if err != nil {
		log.Fatal("Failed to initialize retrieval service", "error", err)
	}

	answerCfg := services.DefaultAnswerConfig()
	answerCfg.Timeout = time.Duration(utils.GetEnvAsInt("ANSWER_TIMEOUT_SECONDS", int(answerCfg.Timeout/time.Second), log)) * time.Second
	answerService, err := services.NewAnswerService(services.AnswerDeps{
		Log:      log,
		Provider: geminiClient,
		Cfg:      answerCfg,
	})
	if err != nil {
		log.Fatal("Failed to initialize answer service", "error", err)
	}

	rateLimiter, err := middleware.NewRateLimiter(ctx, log)
	if err != nil {
		// Rate limiting degrades to a no-op when redis is unreachable.
		log.Warn("Rate limiter disabled", "error", err)
		rateLimiter = nil
	} else {
		defer rateLimiter.Close()
	}

	router := server.NewRouter(server.RouterConfig{
		Log:       log,
		Books:     handlers.NewBookHandler(log, bookService, retrievalService, answerService),
		Jobs:      handlers.NewJobHandler(log, jobRepo),
		Admin:     handlers.NewAdminBookHandler(log, ingestionService, bookService),
		RateLimit: rateLimiter,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Starting server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Server exited", "error", err)
	}
}
