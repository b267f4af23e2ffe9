package sources

import "article-digest/internal/domain"

// Registry перечисляет настроенные источники статей.
// Новые источники добавляются сюда; первый прогон зарегистрирует их в БД.
var Registry = []domain.SourceConfig{
	{
		Name:    "Anthropic Engineering",
		Type:    domain.SourceTypeBlog,
		URL:     "https://www.anthropic.com/engineering",
		FeedURL: "https://raw.githubusercontent.com/Olshansk/rss-feeds/main/feeds/feed_anthropic_engineering.xml",
	},
	{
		Name:    "Anthropic Research",
		Type:    domain.SourceTypeBlog,
		URL:     "https://www.anthropic.com/research",
		FeedURL: "https://raw.githubusercontent.com/Olshansk/rss-feeds/main/feeds/feed_anthropic_research.xml",
	},
	{
		Name:    "Ars Technica",
		Type:    domain.SourceTypeBlog,
		URL:     "https://arstechnica.com/",
		FeedURL: "https://feeds.arstechnica.com/arstechnica/index",
	},
	{
		Name:    "Surge AI Blog",
		Type:    domain.SourceTypeBlog,
		URL:     "https://www.surgehq.ai/blog",
		FeedURL: "https://raw.githubusercontent.com/Olshansk/rss-feeds/main/feeds/feed_blogsurgeai.xml",
	},
}
