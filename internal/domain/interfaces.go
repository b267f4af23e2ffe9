package domain

import (
	"context"
	"time"
)

// SourceRepo управляет источниками.
type SourceRepo interface {
	// EnsureRegistered возвращает источник по каноническому URL,
	// создавая его при первом обращении. Повторные вызовы идемпотентны.
	EnsureRegistered(ctx context.Context, cfg SourceConfig) (Source, error)
	TouchLastFetched(ctx context.Context, sourceID string, at time.Time) error
}

// ArticleRepo управляет статьями.
type ArticleRepo interface {
	HasArticles(ctx context.Context, sourceID string) (bool, error)
	ExistsByURL(ctx context.Context, url string) (bool, error)
	Create(ctx context.Context, article Article) (Article, error)
	// SetMarkdownIfEmpty записывает markdown только если поле ещё пустое.
	SetMarkdownIfEmpty(ctx context.Context, articleID, markdown string) error
	MarkProcessed(ctx context.Context, articleID, summary, snippet string, tokensEst int) error
	ListByStatus(ctx context.Context, status string, limit int) ([]Article, error)
}

// DraftRepo управляет черновиками постов.
type DraftRepo interface {
	CreateDraft(ctx context.Context, draft PostDraft) (PostDraft, error)
	ListDraftsByStatus(ctx context.Context, status string, limit int) ([]PostDraft, error)
	// ListProcessedWithoutDraft возвращает обработанные статьи без черновика —
	// окно между двумя коммитами, видимое наблюдателю.
	ListProcessedWithoutDraft(ctx context.Context, limit int) ([]Article, error)
}

// FeedClient загружает и разбирает ленту источника.
type FeedClient interface {
	Fetch(ctx context.Context, feedURL string) ([]FeedEntry, error)
}

// MarkdownExtractor строит markdown-представление страницы статьи.
type MarkdownExtractor interface {
	Extract(ctx context.Context, url string) (string, error)
}

// PageFetcher загружает сырой текст статьи напрямую.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (FetchedPage, error)
}

// Analyzer выполняет один структурированный вызов генерации по тексту статьи.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (Analysis, error)
}

// DigestQueue публикует триггер отправки дайджеста.
type DigestQueue interface {
	Enqueue(ctx context.Context, job DigestJob) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}
