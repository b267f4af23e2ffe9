package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"article-digest/internal/adapters/analyzer"
	"article-digest/internal/adapters/feed"
	"article-digest/internal/adapters/repo"
	"article-digest/internal/adapters/scraper"
	"article-digest/internal/domain"
	"article-digest/internal/infra/cache"
	"article-digest/internal/infra/config"
	"article-digest/internal/infra/db"
	applog "article-digest/internal/infra/log"
	"article-digest/internal/infra/metrics"
	openaiinfra "article-digest/internal/infra/openai"
	"article-digest/internal/infra/queue"
	"article-digest/internal/sources"
	ingestusecase "article-digest/internal/usecase/ingest"
	pipelineusecase "article-digest/internal/usecase/pipeline"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("pipeline: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	if err := repoAdapter.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("pipeline: не удалось подготовить схему")
	}

	feedClient := feed.NewClient(cfg.Pipeline.FetchTimeout)
	markdownClient := scraper.NewMarkdownClient(cfg.Pipeline.FetchTimeout)
	pageClient := scraper.NewPageClient(cfg.Pipeline.FetchTimeout)

	// Отсутствие ключа не фатально: анализатор деградирует до запасного
	// результата, и пайплайну всегда есть что сохранить.
	var openaiAnalyzer *analyzer.OpenAI
	if cfg.OpenAI.APIKey != "" {
		client := openaiinfra.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
		openaiAnalyzer = analyzer.NewOpenAI(client, cfg.OpenAI.Model)
	} else {
		logger.Warn().Msg("pipeline: OPENAI_API_KEY не задан, анализ пойдёт по запасному пути")
		openaiAnalyzer = analyzer.NewOpenAI(nil, cfg.OpenAI.Model)
	}
	analyzerAdapter := analyzer.WithFallback(openaiAnalyzer, logger.With().Str("component", "analyzer").Logger())

	var runCache domain.Cache
	var digestQueue domain.DigestQueue
	if cfg.RabbitURL != "" {
		rabbitQueue, err := queue.NewRabbitDigestQueue(cfg.RabbitURL, cfg.Queues.Digest)
		if err != nil {
			logger.Fatal().Err(err).Msg("pipeline: не удалось инициализировать очередь RabbitMQ")
		}
		defer rabbitQueue.Close()
		digestQueue = rabbitQueue
	}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		runCache = cache.NewRedis(redisClient)
		if digestQueue == nil {
			digestQueue = queue.NewRedisDigestQueue(redisClient, cfg.Queues.Digest)
		}
	}
	if digestQueue == nil {
		logger.Fatal().Msg("pipeline: не настроен транспорт триггера дайджеста (REDIS_ADDR или RABBITMQ_URL)")
	}

	ingestService := ingestusecase.NewService(
		repoAdapter,
		repoAdapter,
		feedClient,
		markdownClient,
		sources.Registry,
		logger.With().Str("component", "ingest").Logger(),
	)

	pipelineService := pipelineusecase.NewService(pipelineusecase.Deps{
		Ingestor:   ingestService,
		Articles:   repoAdapter,
		Drafts:     repoAdapter,
		Extractor:  markdownClient,
		Pages:      pageClient,
		Analyzer:   analyzerAdapter,
		Queue:      digestQueue,
		Cache:      runCache,
		Lookback:   cfg.Lookback(),
		RunLockTTL: cfg.Pipeline.RunLockTTL,
		Model:      cfg.OpenAI.Model,
		Logger:     logger.With().Str("component", "pipeline").Logger(),
	})

	// Падение вне границ статьи и источника должно быть громким.
	if err := pipelineService.RunOnce(ctx); err != nil {
		logger.Error().Err(err).Msg("pipeline: прогон завершился с ошибкой")
		os.Exit(1)
	}
	logger.Info().Msg("pipeline: прогон завершён")
}
