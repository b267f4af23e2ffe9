package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"article-digest/internal/domain"
)

type stubStore struct {
	articles  map[string]*domain.Article
	drafts    []domain.PostDraft
	events    []string
	markErr   error
	draftErr  error
	markdowns map[string]string
}

func newStubStore(articles ...domain.Article) *stubStore {
	s := &stubStore{articles: map[string]*domain.Article{}, markdowns: map[string]string{}}
	for i := range articles {
		art := articles[i]
		s.articles[art.ID] = &art
	}
	return s
}

func (s *stubStore) HasArticles(context.Context, string) (bool, error) { return false, nil }
func (s *stubStore) ExistsByURL(context.Context, string) (bool, error) { return false, nil }
func (s *stubStore) Create(_ context.Context, a domain.Article) (domain.Article, error) {
	return a, nil
}

func (s *stubStore) SetMarkdownIfEmpty(_ context.Context, articleID, markdown string) error {
	s.markdowns[articleID] = markdown
	return nil
}

func (s *stubStore) MarkProcessed(_ context.Context, articleID, summary, snippet string, tokensEst int) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.events = append(s.events, "processed:"+articleID)
	if art, ok := s.articles[articleID]; ok && art.Status == domain.ArticleStatusNew {
		art.Summary = summary
		art.Snippet = snippet
		art.TokensEst = tokensEst
		art.Status = domain.ArticleStatusProcessed
	}
	return nil
}

func (s *stubStore) ListByStatus(context.Context, string, int) ([]domain.Article, error) {
	return nil, nil
}

func (s *stubStore) CreateDraft(_ context.Context, draft domain.PostDraft) (domain.PostDraft, error) {
	if s.draftErr != nil {
		return domain.PostDraft{}, s.draftErr
	}
	s.events = append(s.events, "draft:"+draft.ArticleID)
	s.drafts = append(s.drafts, draft)
	return draft, nil
}

func (s *stubStore) ListDraftsByStatus(context.Context, string, int) ([]domain.PostDraft, error) {
	return s.drafts, nil
}

func (s *stubStore) ListProcessedWithoutDraft(context.Context, int) ([]domain.Article, error) {
	return nil, nil
}

type stubIngestor struct {
	articles []domain.Article
	err      error
}

func (s *stubIngestor) FetchAll(context.Context, time.Duration) ([]domain.Article, error) {
	return s.articles, s.err
}

type stubAnalyzer struct {
	failURLs map[string]bool
	byText   func(text string) domain.Analysis
	calls    []string
}

func (s *stubAnalyzer) Analyze(_ context.Context, text string) (domain.Analysis, error) {
	s.calls = append(s.calls, text)
	if s.failURLs[text] {
		return domain.Analysis{}, errors.New("генерация упала")
	}
	if s.byText != nil {
		return s.byText(text), nil
	}
	return domain.Analysis{
		Summary:           "summary of " + text,
		KeyConcept:        "key",
		LinkedInPost:      "post",
		XPost:             "x",
		LaymanExplanation: "layman",
	}, nil
}

type stubQueue struct {
	jobs []domain.DigestJob
	err  error
}

func (s *stubQueue) Enqueue(_ context.Context, job domain.DigestJob) error {
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

type stubPages struct {
	page domain.FetchedPage
	err  error
}

func (s *stubPages) Fetch(context.Context, string) (domain.FetchedPage, error) {
	return s.page, s.err
}

type stubMarkdown struct {
	markdown string
	err      error
}

func (s *stubMarkdown) Extract(context.Context, string) (string, error) {
	return s.markdown, s.err
}

func newTestPipeline(store *stubStore, ingestor *stubIngestor, an domain.Analyzer, queue *stubQueue, pages domain.PageFetcher, extractor domain.MarkdownExtractor) *Service {
	return NewService(Deps{
		Ingestor:  ingestor,
		Articles:  store,
		Drafts:    store,
		Extractor: extractor,
		Pages:     pages,
		Analyzer:  an,
		Queue:     queue,
		Model:     "gpt-4o-mini",
		Logger:    zerolog.Nop(),
	})
}

func newArticle(id, content string) domain.Article {
	return domain.Article{
		ID:      id,
		URL:     "https://demo.example/" + id,
		Content: content,
		Status:  domain.ArticleStatusNew,
	}
}

func TestRunOncePerArticleIsolation(t *testing.T) {
	arts := []domain.Article{
		newArticle("a1", "text-1"),
		newArticle("a2", "text-2"),
		newArticle("a3", "text-3"),
	}
	store := newStubStore(arts...)
	an := &stubAnalyzer{failURLs: map[string]bool{"text-2": true}}
	queue := &stubQueue{}
	svc := newTestPipeline(store, &stubIngestor{articles: arts}, an, queue, nil, nil)

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if store.articles["a1"].Status != domain.ArticleStatusProcessed {
		t.Fatalf("первая статья должна быть обработана")
	}
	if store.articles["a3"].Status != domain.ArticleStatusProcessed {
		t.Fatalf("третья статья должна быть обработана несмотря на сбой второй")
	}
	if store.articles["a2"].Status != domain.ArticleStatusNew {
		t.Fatalf("упавшая статья остаётся в статусе new")
	}
	if len(store.drafts) != 2 {
		t.Fatalf("ожидали два черновика, получили %d", len(store.drafts))
	}
	if len(queue.jobs) != 1 || queue.jobs[0].Processed != 2 || queue.jobs[0].NewArticles != 3 {
		t.Fatalf("триггер дайджеста должен уйти один раз с итогами прогона")
	}
}

func TestRunOnceNoTextLeavesStatusNew(t *testing.T) {
	art := newArticle("a1", "")
	store := newStubStore(art)
	an := &stubAnalyzer{}
	queue := &stubQueue{}
	pages := &stubPages{err: errors.New("страница недоступна")}
	svc := newTestPipeline(store, &stubIngestor{articles: []domain.Article{art}}, an, queue, pages, nil)

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(an.calls) != 0 {
		t.Fatalf("без текста анализ не вызывается")
	}
	if store.articles["a1"].Status != domain.ArticleStatusNew {
		t.Fatalf("статья без текста остаётся new и годится для повтора")
	}
	if len(queue.jobs) != 1 {
		t.Fatalf("триггер дайджеста уходит даже при пустом прогоне")
	}
}

func TestRunOnceTriggerSentWithZeroArticles(t *testing.T) {
	queue := &stubQueue{}
	svc := newTestPipeline(newStubStore(), &stubIngestor{}, &stubAnalyzer{}, queue, nil, nil)

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(queue.jobs) != 1 {
		t.Fatalf("триггер дайджеста должен уйти и без новых статей")
	}
}

func TestProcessArticleCommitsArticleBeforeDraft(t *testing.T) {
	art := newArticle("a1", "text")
	store := newStubStore(art)
	svc := newTestPipeline(store, &stubIngestor{articles: []domain.Article{art}}, &stubAnalyzer{}, &stubQueue{}, nil, nil)

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	want := []string{"processed:a1", "draft:a1"}
	if len(store.events) != 2 || store.events[0] != want[0] || store.events[1] != want[1] {
		t.Fatalf("ожидали порядок коммитов %v, получили %v", want, store.events)
	}
	draft := store.drafts[0]
	if draft.PromptVersion != "v3-enhanced" || draft.Model != "gpt-4o-mini" || draft.Status != domain.DraftStatusDraft {
		t.Fatalf("черновик заполнен некорректно: %+v", draft)
	}
}

func TestStatusMonotonicity(t *testing.T) {
	art := newArticle("a1", "text")
	store := newStubStore(art)
	svc := newTestPipeline(store, &stubIngestor{articles: []domain.Article{art}}, &stubAnalyzer{}, &stubQueue{}, nil, nil)

	// Два прогона по одной статье: второй MarkProcessed не возвращает
	// статус назад и не перезаписывает результат.
	for i := 0; i < 2; i++ {
		if err := svc.RunOnce(context.Background()); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	if store.articles["a1"].Status != domain.ArticleStatusProcessed {
		t.Fatalf("статус не должен откатываться из processed")
	}
}

func TestSourceTextPriority(t *testing.T) {
	pages := &stubPages{page: domain.FetchedPage{Content: "fetched", Excerpt: "excerpt"}}
	svc := newTestPipeline(newStubStore(), &stubIngestor{}, &stubAnalyzer{}, &stubQueue{}, pages, nil)

	md := domain.Article{MarkdownContent: "md", Content: "raw"}
	if got := svc.sourceText(context.Background(), &md); got != "md" {
		t.Fatalf("markdown предпочтительнее, получили %q", got)
	}
	raw := domain.Article{Content: "raw"}
	if got := svc.sourceText(context.Background(), &raw); got != "raw" {
		t.Fatalf("сырой контент раньше загрузки, получили %q", got)
	}
	empty := domain.Article{URL: "https://demo.example/a"}
	if got := svc.sourceText(context.Background(), &empty); got != "fetched" {
		t.Fatalf("ожидали текст свежей загрузки, получили %q", got)
	}

	pages.page = domain.FetchedPage{Excerpt: "excerpt"}
	if got := svc.sourceText(context.Background(), &empty); got != "excerpt" {
		t.Fatalf("при пустом контенте берётся excerpt, получили %q", got)
	}
}

func TestEnrichIfEmptySkipsExistingMarkdown(t *testing.T) {
	extractor := &stubMarkdown{markdown: "# fresh"}
	store := newStubStore()
	svc := newTestPipeline(store, &stubIngestor{}, &stubAnalyzer{}, &stubQueue{}, nil, extractor)

	art := domain.Article{ID: "a1", MarkdownContent: "# old"}
	svc.enrichIfEmpty(context.Background(), &art)
	if art.MarkdownContent != "# old" {
		t.Fatalf("уже обогащённая статья не перезаписывается")
	}

	empty := domain.Article{ID: "a2", URL: "https://demo.example/a2"}
	svc.enrichIfEmpty(context.Background(), &empty)
	if empty.MarkdownContent != "# fresh" {
		t.Fatalf("пустая статья должна получить markdown")
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("первая строка\nвторая", 200); got != "первая строка" {
		t.Fatalf("ожидали первую строку, получили %q", got)
	}
	long := strings.Repeat("я", 250)
	if got := firstLine(long, 200); len([]rune(got)) != 200 {
		t.Fatalf("ожидали усечение до 200 рун, получили %d", len([]rune(got)))
	}
}
