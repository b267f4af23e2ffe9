package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"article-digest/internal/domain"
	"article-digest/internal/infra/metrics"
)

// MarkdownClient извлекает markdown-представление страницы статьи.
// Markdown даёт LLM более чистый вход, чем сырые абзацы.
type MarkdownClient struct {
	http      *http.Client
	converter *md.Converter
}

var _ domain.MarkdownExtractor = (*MarkdownClient)(nil)

// NewMarkdownClient создаёт извлекатель markdown.
func NewMarkdownClient(timeout time.Duration) *MarkdownClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MarkdownClient{
		http:      &http.Client{Timeout: timeout},
		converter: md.NewConverter("", true, nil),
	}
}

// Extract загружает URL и конвертирует HTML в markdown.
// Любой сбой возвращается как ErrExtractFailed: вызывающий считает
// отсутствие markdown поводом взять текст похуже, а не ошибкой пайплайна.
func (c *MarkdownClient) Extract(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrExtractFailed, err)
	}
	req.Header.Set("User-Agent", browserHeaders["User-Agent"])

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("scraper", "markdown_fetch", url, start, err)
		return "", fmt.Errorf("%w: %v", domain.ErrExtractFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		err = fmt.Errorf("status %d", resp.StatusCode)
		metrics.ObserveNetworkRequest("scraper", "markdown_fetch", url, start, err)
		return "", fmt.Errorf("%w: %v", domain.ErrExtractFailed, err)
	}
	html, err := io.ReadAll(resp.Body)
	metrics.ObserveNetworkRequest("scraper", "markdown_fetch", url, start, err)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrExtractFailed, err)
	}

	markdown, err := c.converter.ConvertString(string(html))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrExtractFailed, err)
	}
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return "", domain.ErrExtractFailed
	}
	return markdown, nil
}
