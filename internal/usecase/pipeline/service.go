package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"article-digest/internal/domain"
	"article-digest/internal/infra/metrics"
)

const (
	promptVersion = "v3-enhanced"
	snippetLimit  = 200
	runLockKey    = "pipeline:run"
)

// Ingestor собирает новые статьи со всех источников.
type Ingestor interface {
	FetchAll(ctx context.Context, lookback time.Duration) ([]domain.Article, error)
}

// Service — оркестратор пайплайна: сбор, обогащение, анализ, сохранение,
// триггер дайджеста. Статьи обрабатываются строго по одной.
type Service struct {
	ingestor   Ingestor
	articles   domain.ArticleRepo
	drafts     domain.DraftRepo
	extractor  domain.MarkdownExtractor
	pages      domain.PageFetcher
	analyzer   domain.Analyzer
	queue      domain.DigestQueue
	cache      domain.Cache
	lookback   time.Duration
	runLockTTL time.Duration
	model      string
	logger     zerolog.Logger
	now        func() time.Time
}

// Deps перечисляет зависимости оркестратора.
type Deps struct {
	Ingestor   Ingestor
	Articles   domain.ArticleRepo
	Drafts     domain.DraftRepo
	Extractor  domain.MarkdownExtractor
	Pages      domain.PageFetcher
	Analyzer   domain.Analyzer
	Queue      domain.DigestQueue
	Cache      domain.Cache
	Lookback   time.Duration
	RunLockTTL time.Duration
	Model      string
	Logger     zerolog.Logger
}

// NewService создаёт оркестратор.
func NewService(deps Deps) *Service {
	lookback := deps.Lookback
	if lookback <= 0 {
		lookback = 48 * time.Hour
	}
	runLockTTL := deps.RunLockTTL
	if runLockTTL <= 0 {
		runLockTTL = 10 * time.Minute
	}
	return &Service{
		ingestor:   deps.Ingestor,
		articles:   deps.Articles,
		drafts:     deps.Drafts,
		extractor:  deps.Extractor,
		pages:      deps.Pages,
		analyzer:   deps.Analyzer,
		queue:      deps.Queue,
		cache:      deps.Cache,
		lookback:   lookback,
		runLockTTL: runLockTTL,
		model:      deps.Model,
		logger:     deps.Logger,
		now:        time.Now,
	}
}

// RunOnce выполняет один прогон пайплайна. При настроенном Redis прогон
// защищён замком, чтобы два процесса не обрабатывали ленты одновременно.
func (s *Service) RunOnce(ctx context.Context) error {
	if s.cache != nil {
		return s.cache.Once(ctx, runLockKey, s.runLockTTL, func() error {
			return s.run(ctx)
		})
	}
	return s.run(ctx)
}

func (s *Service) run(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.PipelineRunSeconds.Observe(time.Since(start).Seconds())
	}()

	newArticles, err := s.ingestor.FetchAll(ctx, s.lookback)
	if err != nil {
		return fmt.Errorf("сбор источников: %w", err)
	}
	s.logger.Info().Int("count", len(newArticles)).Msg("pipeline: сбор завершён")

	// Ошибка одной статьи не прерывает пакет: логируем и идём дальше.
	processed := 0
	for i := range newArticles {
		art := &newArticles[i]
		if err := s.processArticle(ctx, art); err != nil {
			metrics.ArticlesSkipped.Inc()
			s.logger.Warn().Err(err).Str("url", art.URL).Msg("pipeline: статья пропущена")
			continue
		}
		processed++
	}
	s.logger.Info().Int("processed", processed).Int("total", len(newArticles)).Msg("pipeline: обработка завершена")

	// Триггер дайджеста уходит безусловно: частично неудачный прогон
	// всё равно отправляет то, что накопилось.
	job := domain.DigestJob{
		RunID:       uuid.NewString(),
		Date:        s.now().UTC(),
		NewArticles: len(newArticles),
		Processed:   processed,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("триггер дайджеста: %w", err)
	}
	s.logger.Info().Str("run_id", job.RunID).Msg("pipeline: триггер дайджеста отправлен")
	return nil
}

// processArticle ведёт статью по машине состояний:
// new -> processed при успешном анализе; при отсутствии текста или сбое
// анализа статья остаётся new и годится для повторной обработки.
func (s *Service) processArticle(ctx context.Context, art *domain.Article) error {
	s.enrichIfEmpty(ctx, art)

	text := s.sourceText(ctx, art)
	if text == "" {
		return domain.ErrNoContent
	}

	analysis, err := s.analyzer.Analyze(ctx, text)
	if err != nil {
		return fmt.Errorf("анализ: %w", err)
	}

	snippet := firstLine(analysis.Summary, snippetLimit)
	if err := s.articles.MarkProcessed(ctx, art.ID, analysis.Summary, snippet, estimateTokens(text)); err != nil {
		return fmt.Errorf("сохранение результата: %w", err)
	}
	art.Summary = analysis.Summary
	art.Snippet = snippet
	art.Status = domain.ArticleStatusProcessed
	metrics.ArticlesProcessed.Inc()

	// Черновик создаётся вторым коммитом. Падение между коммитами оставит
	// обработанную статью без черновика; это окно видно наблюдателю через
	// ListProcessedWithoutDraft и здесь не чинится.
	draft := domain.PostDraft{
		ArticleID:         art.ID,
		PostContent:       analysis.LinkedInPost,
		XPost:             analysis.XPost,
		LaymanExplanation: analysis.LaymanExplanation,
		KeyConcept:        analysis.KeyConcept,
		Status:            domain.DraftStatusDraft,
		PromptVersion:     promptVersion,
		Model:             s.model,
	}
	if _, err := s.drafts.CreateDraft(ctx, draft); err != nil {
		return fmt.Errorf("создание черновика: %w", err)
	}
	s.logger.Info().Str("url", art.URL).Str("snippet", snippet).Msg("pipeline: статья обработана")
	return nil
}

// enrichIfEmpty делает ещё одну попытку получить markdown, если сбор его
// не принёс. Повторно для уже обогащённой статьи шаг не вызывается.
func (s *Service) enrichIfEmpty(ctx context.Context, art *domain.Article) {
	if s.extractor == nil || art.MarkdownContent != "" {
		return
	}
	markdown, err := s.extractor.Extract(ctx, art.URL)
	if err != nil {
		s.logger.Debug().Err(err).Str("url", art.URL).Msg("pipeline: markdown-извлечение пропущено")
		return
	}
	if err := s.articles.SetMarkdownIfEmpty(ctx, art.ID, markdown); err != nil {
		s.logger.Warn().Err(err).Str("url", art.URL).Msg("pipeline: не удалось сохранить markdown")
		return
	}
	art.MarkdownContent = markdown
}

// sourceText выбирает текст для анализа: markdown, затем сырой контент,
// затем свежая загрузка страницы и её excerpt как последняя ступень.
func (s *Service) sourceText(ctx context.Context, art *domain.Article) string {
	if art.MarkdownContent != "" {
		return art.MarkdownContent
	}
	if art.Content != "" {
		return art.Content
	}
	if s.pages == nil {
		return ""
	}
	page, err := s.pages.Fetch(ctx, art.URL)
	if err != nil {
		s.logger.Warn().Err(err).Str("url", art.URL).Msg("pipeline: не удалось загрузить текст статьи")
		return ""
	}
	if page.Content != "" {
		return page.Content
	}
	return page.Excerpt
}

// firstLine возвращает первую строку текста не длиннее limit рун.
func firstLine(text string, limit int) string {
	line, _, _ := strings.Cut(text, "\n")
	runes := []rune(line)
	if len(runes) <= limit {
		return line
	}
	return string(runes[:limit])
}

// estimateTokens грубо оценивает токены как четверть длины текста.
func estimateTokens(text string) int {
	return len([]rune(text)) / 4
}
