package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"article-digest/internal/domain"
	"article-digest/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.SourceRepo  = (*Postgres)(nil)
	_ domain.ArticleRepo = (*Postgres)(nil)
	_ domain.DraftRepo   = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// EnsureSchema создаёт таблицы, если их ещё нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS sources (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    type            TEXT NOT NULL,
    url             TEXT NOT NULL UNIQUE,
    feed_url        TEXT,
    meta            JSONB NOT NULL DEFAULT '{}',
    added_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_fetched_at TIMESTAMPTZ,
    active          BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS articles (
    id               TEXT PRIMARY KEY,
    source_id        TEXT NOT NULL REFERENCES sources(id),
    source_item_id   TEXT,
    url              TEXT NOT NULL,
    title            TEXT,
    author           TEXT,
    published_at     TIMESTAMPTZ,
    fetched_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    content          TEXT,
    excerpt          TEXT,
    summary          TEXT,
    snippet          TEXT,
    markdown_content TEXT,
    tokens_est       INTEGER NOT NULL DEFAULT 0,
    status           TEXT NOT NULL DEFAULT 'new',
    meta             JSONB NOT NULL DEFAULT '{}',
    CONSTRAINT uq_articles_url UNIQUE (url)
);
CREATE INDEX IF NOT EXISTS idx_articles_source ON articles(source_id);
CREATE INDEX IF NOT EXISTS idx_articles_status ON articles(status);

CREATE TABLE IF NOT EXISTS post_drafts (
    id                 TEXT PRIMARY KEY,
    article_id         TEXT NOT NULL REFERENCES articles(id),
    post_content       TEXT,
    x_post             TEXT,
    layman_explanation TEXT,
    key_concept        TEXT,
    status             TEXT NOT NULL DEFAULT 'draft',
    prompt_version     TEXT,
    model              TEXT,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_post_drafts_article ON post_drafts(article_id);
`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// EnsureRegistered реализует domain.SourceRepo.
// Поиск идёт по каноническому URL, вставка выполняется только при отсутствии.
func (p *Postgres) EnsureRegistered(ctx context.Context, cfg domain.SourceConfig) (domain.Source, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	src, err := p.scanSource(p.pool.QueryRow(ctx, `
SELECT id, name, type, url, COALESCE(feed_url, ''), meta, added_at, last_fetched_at, active
FROM sources WHERE url = $1
`, cfg.URL))
	metrics.ObserveNetworkRequest("postgres", "source_select", "sources", start, ignoreNoRows(err))
	if err == nil {
		return src, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Source{}, fmt.Errorf("выборка источника: %w", err)
	}

	src = domain.Source{
		ID:      uuid.NewString(),
		Name:    cfg.Name,
		Type:    cfg.Type,
		URL:     cfg.URL,
		FeedURL: cfg.FeedURL,
		AddedAt: time.Now().UTC(),
		Active:  true,
	}
	start = time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO sources (id, name, type, url, feed_url, added_at, active)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, TRUE)
ON CONFLICT (url) DO NOTHING
`, src.ID, src.Name, src.Type, src.URL, src.FeedURL, src.AddedAt)
	metrics.ObserveNetworkRequest("postgres", "source_insert", "sources", start, err)
	if err != nil {
		return domain.Source{}, fmt.Errorf("вставка источника: %w", err)
	}

	// Гонка двух регистраций разрешается повторной выборкой по URL.
	existing, err := p.scanSource(p.pool.QueryRow(ctx, `
SELECT id, name, type, url, COALESCE(feed_url, ''), meta, added_at, last_fetched_at, active
FROM sources WHERE url = $1
`, cfg.URL))
	if err != nil {
		return domain.Source{}, fmt.Errorf("повторная выборка источника: %w", err)
	}
	return existing, nil
}

// TouchLastFetched обновляет отметку последнего обхода источника.
func (p *Postgres) TouchLastFetched(ctx context.Context, sourceID string, at time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE sources SET last_fetched_at = $2 WHERE id = $1`, sourceID, at)
	metrics.ObserveNetworkRequest("postgres", "source_touch", "sources", start, err)
	return err
}

// HasArticles сообщает, есть ли у источника хоть одна статья.
func (p *Postgres) HasArticles(ctx context.Context, sourceID string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM articles WHERE source_id = $1)`, sourceID).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "article_history", "articles", start, err)
	if err != nil {
		return false, fmt.Errorf("проверка истории источника: %w", err)
	}
	return exists, nil
}

// ExistsByURL проверяет наличие статьи по каноническому URL во всей таблице.
func (p *Postgres) ExistsByURL(ctx context.Context, url string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM articles WHERE url = $1)`, url).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "article_exists", "articles", start, err)
	if err != nil {
		return false, fmt.Errorf("проверка URL статьи: %w", err)
	}
	return exists, nil
}

// Create сохраняет новую статью. Дубликат URL отклоняется, запись не перезаписывается.
func (p *Postgres) Create(ctx context.Context, article domain.Article) (domain.Article, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if article.ID == "" {
		article.ID = uuid.NewString()
	}
	if article.FetchedAt.IsZero() {
		article.FetchedAt = time.Now().UTC()
	}
	if article.Status == "" {
		article.Status = domain.ArticleStatusNew
	}
	meta, err := marshalMeta(article.Meta)
	if err != nil {
		return domain.Article{}, fmt.Errorf("сериализация меты: %w", err)
	}

	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO articles (id, source_id, source_item_id, url, title, author, published_at, fetched_at, content, excerpt, markdown_content, status, meta)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13)
`, article.ID, article.SourceID, article.SourceItemID, article.URL, article.Title, article.Author,
		article.PublishedAt, article.FetchedAt, article.Content, article.Excerpt, article.MarkdownContent,
		article.Status, meta)
	metrics.ObserveNetworkRequest("postgres", "article_insert", "articles", start, err)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Article{}, domain.ErrDuplicateURL
		}
		return domain.Article{}, fmt.Errorf("вставка статьи: %w", err)
	}
	return article, nil
}

// SetMarkdownIfEmpty записывает markdown только в пустое поле.
func (p *Postgres) SetMarkdownIfEmpty(ctx context.Context, articleID, markdown string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE articles SET markdown_content = $2
WHERE id = $1 AND (markdown_content IS NULL OR markdown_content = '')
`, articleID, markdown)
	metrics.ObserveNetworkRequest("postgres", "article_markdown", "articles", start, err)
	return err
}

// MarkProcessed записывает результат анализа и переводит статус вперёд.
// Обратный переход из processed невозможен.
func (p *Postgres) MarkProcessed(ctx context.Context, articleID, summary, snippet string, tokensEst int) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE articles SET summary = $2, snippet = $3, tokens_est = $4, status = $5
WHERE id = $1 AND status = $6
`, articleID, summary, snippet, tokensEst, domain.ArticleStatusProcessed, domain.ArticleStatusNew)
	metrics.ObserveNetworkRequest("postgres", "article_processed", "articles", start, err)
	return err
}

// ListByStatus возвращает статьи в заданном статусе.
func (p *Postgres) ListByStatus(ctx context.Context, status string, limit int) ([]domain.Article, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 50
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, source_id, COALESCE(source_item_id, ''), url, COALESCE(title, ''), COALESCE(author, ''),
       published_at, fetched_at, COALESCE(content, ''), COALESCE(excerpt, ''), COALESCE(summary, ''),
       COALESCE(snippet, ''), COALESCE(markdown_content, ''), tokens_est, status
FROM articles WHERE status = $1
ORDER BY fetched_at DESC
LIMIT $2
`, status, limit)
	metrics.ObserveNetworkRequest("postgres", "article_list", "articles", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка статей: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// CreateDraft сохраняет черновик поста.
func (p *Postgres) CreateDraft(ctx context.Context, draft domain.PostDraft) (domain.PostDraft, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now().UTC()
	}
	if draft.Status == "" {
		draft.Status = domain.DraftStatusDraft
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO post_drafts (id, article_id, post_content, x_post, layman_explanation, key_concept, status, prompt_version, model, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`, draft.ID, draft.ArticleID, draft.PostContent, draft.XPost, draft.LaymanExplanation,
		draft.KeyConcept, draft.Status, draft.PromptVersion, draft.Model, draft.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "draft_insert", "post_drafts", start, err)
	if err != nil {
		return domain.PostDraft{}, fmt.Errorf("вставка черновика: %w", err)
	}
	return draft, nil
}

// ListDraftsByStatus возвращает черновики в заданном статусе.
func (p *Postgres) ListDraftsByStatus(ctx context.Context, status string, limit int) ([]domain.PostDraft, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 50
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, article_id, COALESCE(post_content, ''), COALESCE(x_post, ''), COALESCE(layman_explanation, ''),
       COALESCE(key_concept, ''), status, COALESCE(prompt_version, ''), COALESCE(model, ''), created_at
FROM post_drafts WHERE status = $1
ORDER BY created_at DESC
LIMIT $2
`, status, limit)
	metrics.ObserveNetworkRequest("postgres", "draft_list", "post_drafts", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка черновиков: %w", err)
	}
	defer rows.Close()

	var drafts []domain.PostDraft
	for rows.Next() {
		var d domain.PostDraft
		if err := rows.Scan(&d.ID, &d.ArticleID, &d.PostContent, &d.XPost, &d.LaymanExplanation,
			&d.KeyConcept, &d.Status, &d.PromptVersion, &d.Model, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("чтение черновика: %w", err)
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

// ListProcessedWithoutDraft возвращает обработанные статьи без черновика.
// Такие записи появляются при падении между двумя коммитами успешного анализа.
func (p *Postgres) ListProcessedWithoutDraft(ctx context.Context, limit int) ([]domain.Article, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 50
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT a.id, a.source_id, COALESCE(a.source_item_id, ''), a.url, COALESCE(a.title, ''), COALESCE(a.author, ''),
       a.published_at, a.fetched_at, COALESCE(a.content, ''), COALESCE(a.excerpt, ''), COALESCE(a.summary, ''),
       COALESCE(a.snippet, ''), COALESCE(a.markdown_content, ''), a.tokens_est, a.status
FROM articles a
LEFT JOIN post_drafts d ON d.article_id = a.id
WHERE a.status = $1 AND d.id IS NULL
ORDER BY a.fetched_at DESC
LIMIT $2
`, domain.ArticleStatusProcessed, limit)
	metrics.ObserveNetworkRequest("postgres", "draft_gap", "post_drafts", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка статей без черновиков: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

func (p *Postgres) scanSource(row pgx.Row) (domain.Source, error) {
	var (
		src         domain.Source
		meta        []byte
		lastFetched sql.NullTime
	)
	err := row.Scan(&src.ID, &src.Name, &src.Type, &src.URL, &src.FeedURL, &meta, &src.AddedAt, &lastFetched, &src.Active)
	if err != nil {
		return domain.Source{}, err
	}
	if lastFetched.Valid {
		t := lastFetched.Time
		src.LastFetchedAt = &t
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &src.Meta)
	}
	return src, nil
}

func scanArticles(rows pgx.Rows) ([]domain.Article, error) {
	var articles []domain.Article
	for rows.Next() {
		var (
			a         domain.Article
			published sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.SourceID, &a.SourceItemID, &a.URL, &a.Title, &a.Author,
			&published, &a.FetchedAt, &a.Content, &a.Excerpt, &a.Summary,
			&a.Snippet, &a.MarkdownContent, &a.TokensEst, &a.Status); err != nil {
			return nil, fmt.Errorf("чтение статьи: %w", err)
		}
		if published.Valid {
			t := published.Time
			a.PublishedAt = &t
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

func marshalMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(meta)
}

func ignoreNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}
