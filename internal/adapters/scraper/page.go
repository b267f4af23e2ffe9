package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"article-digest/internal/domain"
	"article-digest/internal/infra/metrics"
)

// Браузерные заголовки снижают количество простых бот-блокировок.
var browserHeaders = map[string]string{
	"User-Agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
}

var publishedLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// PageClient загружает страницу статьи и извлекает её текст.
type PageClient struct {
	http *http.Client
}

var _ domain.PageFetcher = (*PageClient)(nil)

// NewPageClient создаёт клиента прямой загрузки страниц.
func NewPageClient(timeout time.Duration) *PageClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &PageClient{http: &http.Client{Timeout: timeout}}
}

// Fetch выполняет загрузку с браузерными заголовками и одну повторную
// попытку без них, затем извлекает заголовок, дату и абзацы статьи.
func (c *PageClient) Fetch(ctx context.Context, url string) (domain.FetchedPage, error) {
	resp, err := c.get(ctx, url, true)
	if err != nil {
		resp, err = c.get(ctx, url, false)
		if err != nil {
			return domain.FetchedPage{}, fmt.Errorf("загрузка страницы %s: %w", url, err)
		}
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return domain.FetchedPage{}, fmt.Errorf("разбор HTML %s: %w", url, err)
	}

	page := domain.FetchedPage{
		URL:         url,
		Title:       extractTitle(doc),
		PublishedAt: extractPublished(doc),
	}

	// Абзацы внутри <article> предпочтительнее всех <p> подряд.
	paragraphs := collectParagraphs(doc.Find("article p"))
	if len(paragraphs) == 0 {
		paragraphs = collectParagraphs(doc.Find("p"))
	}
	page.Content = strings.Join(paragraphs, "\n\n")
	if len(paragraphs) > 0 {
		page.Excerpt = paragraphs[0]
	}
	return page, nil
}

func (c *PageClient) get(ctx context.Context, url string, withHeaders bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if withHeaders {
		for k, v := range browserHeaders {
			req.Header.Set(k, v)
		}
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("scraper", "page_fetch", url, start, err)
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		err = fmt.Errorf("status %d", resp.StatusCode)
		metrics.ObserveNetworkRequest("scraper", "page_fetch", url, start, err)
		return nil, err
	}
	metrics.ObserveNetworkRequest("scraper", "page_fetch", url, start, nil)
	return resp, nil
}

func extractTitle(doc *goquery.Document) string {
	if content, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func extractPublished(doc *goquery.Document) *time.Time {
	selectors := []string{
		`meta[property="article:published_time"]`,
		`meta[name="article:published_time"]`,
		`meta[name="pubdate"]`,
		`meta[name="date"]`,
	}
	for _, sel := range selectors {
		content, ok := doc.Find(sel).Attr("content")
		if !ok || strings.TrimSpace(content) == "" {
			continue
		}
		for _, layout := range publishedLayouts {
			if ts, err := time.Parse(layout, strings.TrimSpace(content)); err == nil {
				utc := ts.UTC()
				return &utc
			}
		}
	}
	return nil
}

func collectParagraphs(sel *goquery.Selection) []string {
	var paragraphs []string
	sel.Each(func(_ int, p *goquery.Selection) {
		text := strings.TrimSpace(p.Text())
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	return paragraphs
}
