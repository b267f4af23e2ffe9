package domain

import "time"

// SourceTypeBlog — единственный поддерживаемый тип источника.
const SourceTypeBlog = "blog"

// Статусы жизненного цикла статьи.
const (
	ArticleStatusNew       = "new"
	ArticleStatusProcessed = "processed"
	ArticleStatusFailed    = "failed"
)

// Статусы жизненного цикла черновика.
const (
	DraftStatusDraft   = "draft"
	DraftStatusEmailed = "emailed"
	DraftStatusPosted  = "posted"
)

// SourceConfig описывает настроенный источник статей из реестра.
type SourceConfig struct {
	Name    string
	Type    string
	URL     string
	FeedURL string
}

// Source описывает зарегистрированный источник. URL уникален во всей таблице.
type Source struct {
	ID            string
	Name          string
	Type          string
	URL           string
	FeedURL       string
	Meta          map[string]any
	AddedAt       time.Time
	LastFetchedAt *time.Time
	Active        bool
}

// Article представляет одну загруженную статью.
type Article struct {
	ID              string
	SourceID        string
	SourceItemID    string
	URL             string
	Title           string
	Author          string
	PublishedAt     *time.Time
	FetchedAt       time.Time
	Content         string
	Excerpt         string
	Summary         string
	Snippet         string
	MarkdownContent string
	TokensEst       int
	Status          string
	Meta            map[string]any
}

// Analysis содержит структурированный результат разбора статьи LLM.
type Analysis struct {
	Summary           string
	KeyConcept        string
	LinkedInPost      string
	XPost             string
	LaymanExplanation string
}

// PostDraft хранит производный контент для одной статьи.
// Создаётся один раз после успешного анализа и дальше не обновляется ядром.
type PostDraft struct {
	ID                string
	ArticleID         string
	PostContent       string
	XPost             string
	LaymanExplanation string
	KeyConcept        string
	Status            string
	PromptVersion     string
	Model             string
	CreatedAt         time.Time
}

// FeedEntry описывает одну запись ленты после разбора.
// PublishedAt равен nil, если дата отсутствует или не распарсилась.
type FeedEntry struct {
	Link        string
	Title       string
	GUID        string
	Author      string
	PublishedAt *time.Time
	Summary     string
}

// FetchedPage содержит результат прямой загрузки страницы статьи.
type FetchedPage struct {
	Title       string
	URL         string
	PublishedAt *time.Time
	Content     string
	Excerpt     string
}

// DigestJob — задача на отправку дайджеста по итогам прогона.
type DigestJob struct {
	RunID       string    `json:"run_id"`
	Date        time.Time `json:"date"`
	NewArticles int       `json:"new_articles"`
	Processed   int       `json:"processed"`
}
