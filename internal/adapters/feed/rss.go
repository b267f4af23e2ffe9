package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"article-digest/internal/domain"
	"article-digest/internal/infra/metrics"
)

const userAgent = "article-digest/1.0 (+feed reader)"

// Client загружает и разбирает RSS/Atom ленты через gofeed.
type Client struct {
	parser *gofeed.Parser
}

// NewClient создаёт клиента лент.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	parser.UserAgent = userAgent
	return &Client{parser: parser}
}

// Fetch возвращает записи ленты в порядке выдачи источника.
// Порядок дальше по пайплайну семантически не важен.
func (c *Client) Fetch(ctx context.Context, feedURL string) ([]domain.FeedEntry, error) {
	start := time.Now()
	parsed, err := c.parser.ParseURLWithContext(feedURL, ctx)
	metrics.ObserveNetworkRequest("feed", "fetch", feedURL, start, err)
	if err != nil {
		return nil, fmt.Errorf("загрузка ленты %s: %w", feedURL, err)
	}
	entries := make([]domain.FeedEntry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		entries = append(entries, mapItem(item))
	}
	return entries, nil
}

// mapItem переводит запись gofeed в доменную. Дата без таймзоны считается UTC,
// нераспарсившаяся дата приравнивается к отсутствующей.
func mapItem(item *gofeed.Item) domain.FeedEntry {
	entry := domain.FeedEntry{
		Link:    strings.TrimSpace(item.Link),
		Title:   strings.TrimSpace(item.Title),
		GUID:    item.GUID,
		Summary: firstNonEmpty(item.Description, item.Content),
	}
	if item.Author != nil {
		entry.Author = strings.TrimSpace(item.Author.Name)
	}
	if item.PublishedParsed != nil {
		ts := item.PublishedParsed.UTC()
		entry.PublishedAt = &ts
	}
	return entry
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
