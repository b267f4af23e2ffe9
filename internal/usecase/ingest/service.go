package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"article-digest/internal/domain"
	"article-digest/internal/infra/metrics"
)

// При нулевом результате у нового источника забираются две самые свежие записи.
const fallbackRecentCount = 2

// Service забирает ленты источников и материализует новые статьи.
type Service struct {
	sources   domain.SourceRepo
	articles  domain.ArticleRepo
	feeds     domain.FeedClient
	extractor domain.MarkdownExtractor
	registry  []domain.SourceConfig
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService создаёт сервис сбора статей.
func NewService(
	sources domain.SourceRepo,
	articles domain.ArticleRepo,
	feeds domain.FeedClient,
	extractor domain.MarkdownExtractor,
	registry []domain.SourceConfig,
	logger zerolog.Logger,
) *Service {
	return &Service{
		sources:   sources,
		articles:  articles,
		feeds:     feeds,
		extractor: extractor,
		registry:  registry,
		logger:    logger,
		now:       time.Now,
	}
}

// FetchAll регистрирует источники из реестра и обходит их ленты по очереди.
// Ошибка одного источника не прерывает обход остальных; ошибка регистрации
// источника поднимается наверх, это сбой хранилища.
func (s *Service) FetchAll(ctx context.Context, lookback time.Duration) ([]domain.Article, error) {
	var all []domain.Article
	for _, cfg := range s.registry {
		src, err := s.sources.EnsureRegistered(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("регистрация источника %s: %w", cfg.Name, err)
		}
		if cfg.Type != domain.SourceTypeBlog || cfg.FeedURL == "" {
			continue
		}
		created := s.FetchNewArticles(ctx, src, cfg.FeedURL, lookback)
		all = append(all, created...)
		if err := s.sources.TouchLastFetched(ctx, src.ID, s.now().UTC()); err != nil {
			s.logger.Warn().Err(err).Str("source", src.Name).Msg("ingest: не удалось обновить last_fetched_at")
		}
	}
	return all, nil
}

type candidate struct {
	published time.Time
	entry     domain.FeedEntry
}

// FetchNewArticles забирает ленту одного источника и создаёт новые статьи.
// Сбой загрузки ленты логируется и даёт пустой результат только для этого
// источника. Дедупликация идёт по каноническому URL во всём хранилище.
func (s *Service) FetchNewArticles(ctx context.Context, source domain.Source, feedURL string, lookback time.Duration) []domain.Article {
	logger := s.logger.With().Str("source", source.Name).Logger()

	// Один запрос на источник: флаг истории управляет запасным добором,
	// чтобы устоявшийся источник без новинок не затягивал старьё заново.
	hasHistory, err := s.articles.HasArticles(ctx, source.ID)
	if err != nil {
		logger.Error().Err(err).Msg("ingest: не удалось проверить историю источника")
		return nil
	}

	entries, err := s.feeds.Fetch(ctx, feedURL)
	if err != nil {
		metrics.FeedFetchErrors.Inc()
		logger.Error().Err(err).Msg("ingest: лента недоступна")
		return nil
	}

	cutoff := s.now().UTC().Add(-lookback)
	logger.Debug().Int("entries", len(entries)).Time("cutoff", cutoff).Msg("ingest: лента получена")

	var created []domain.Article
	var candidates []candidate
	for _, entry := range entries {
		if entry.Link == "" {
			continue
		}

		exists, err := s.articles.ExistsByURL(ctx, entry.Link)
		if err != nil {
			logger.Error().Err(err).Str("url", entry.Link).Msg("ingest: сбой проверки дубликата")
			continue
		}
		if exists {
			logger.Debug().Str("url", entry.Link).Msg("ingest: статья уже в БД")
			continue
		}

		// Записи с датой копятся для запасного добора независимо от среза;
		// записи вовсе без даты не попадают ни в основной набор, ни в запасной.
		if entry.PublishedAt != nil {
			candidates = append(candidates, candidate{published: *entry.PublishedAt, entry: entry})
		} else {
			logger.Debug().Str("url", entry.Link).Msg("ingest: запись без даты публикации")
			continue
		}

		if entry.PublishedAt.Before(cutoff) {
			logger.Debug().Str("url", entry.Link).Time("published", *entry.PublishedAt).Msg("ingest: запись старше среза")
			continue
		}

		art, err := s.createArticle(ctx, source, entry)
		if err != nil {
			logger.Error().Err(err).Str("url", entry.Link).Msg("ingest: не удалось сохранить статью")
			continue
		}
		logger.Info().Str("title", art.Title).Msg("ingest: новая статья")
		created = append(created, art)
	}

	if len(created) == 0 && !hasHistory && len(candidates) > 0 {
		logger.Info().Msg("ingest: новый источник, забираем две последние записи")
		// Сортировка устойчива: при равных датах сохраняется порядок ленты.
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].published.After(candidates[j].published)
		})
		limit := fallbackRecentCount
		if len(candidates) < limit {
			limit = len(candidates)
		}
		for _, cand := range candidates[:limit] {
			art, err := s.createArticle(ctx, source, cand.entry)
			if err != nil {
				logger.Error().Err(err).Str("url", cand.entry.Link).Msg("ingest: не удалось сохранить статью")
				continue
			}
			logger.Info().Str("title", art.Title).Time("published", cand.published).Msg("ingest: статья из запасного добора")
			created = append(created, art)
		}
	}

	if len(candidates) == 0 && len(entries) > 0 && !hasHistory {
		logger.Warn().Msg("ingest: у нового источника нет ни одной записи с датой, ничего не добавлено")
	}

	return created
}

func (s *Service) createArticle(ctx context.Context, source domain.Source, entry domain.FeedEntry) (domain.Article, error) {
	art := domain.Article{
		SourceID:     source.ID,
		SourceItemID: entry.GUID,
		URL:          entry.Link,
		Title:        entry.Title,
		Author:       entry.Author,
		PublishedAt:  entry.PublishedAt,
		Content:      entry.Summary,
		Status:       domain.ArticleStatusNew,
	}
	saved, err := s.articles.Create(ctx, art)
	if err != nil {
		return domain.Article{}, err
	}
	metrics.ArticlesIngested.Inc()
	s.enrich(ctx, &saved)
	return saved, nil
}

// enrich пытается сразу получить markdown для свежей статьи.
// Сбои глотаются: отсутствие markdown не мешает созданию статьи.
func (s *Service) enrich(ctx context.Context, art *domain.Article) {
	if s.extractor == nil || art.MarkdownContent != "" {
		return
	}
	markdown, err := s.extractor.Extract(ctx, art.URL)
	if err != nil {
		s.logger.Debug().Err(err).Str("url", art.URL).Msg("ingest: markdown-извлечение пропущено")
		return
	}
	if err := s.articles.SetMarkdownIfEmpty(ctx, art.ID, markdown); err != nil {
		s.logger.Warn().Err(err).Str("url", art.URL).Msg("ingest: не удалось сохранить markdown")
		return
	}
	art.MarkdownContent = markdown
}
