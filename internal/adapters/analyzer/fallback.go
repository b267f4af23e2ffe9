package analyzer

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"article-digest/internal/domain"
)

const fallbackSummaryLimit = 400

// Сигнальные значения key_concept для запасного результата.
const (
	// KeyConceptUnavailable проставляется, когда генерация не сконфигурирована.
	KeyConceptUnavailable = "No API key configured"
	// KeyConceptFailed проставляется при ошибке вызова генерации.
	KeyConceptFailed = "Analysis failed - API error"
)

// Fallback оборачивает анализатор детерминированным запасным результатом:
// пайплайн всегда получает что-то пригодное для сохранения, даже когда
// генерация не настроена или падает. Вызывающим, которым нужна строгая
// видимость сбоя, следует использовать внутренний анализатор напрямую.
type Fallback struct {
	inner  domain.Analyzer
	logger zerolog.Logger
}

var _ domain.Analyzer = (*Fallback)(nil)

// WithFallback создаёт обёртку.
func WithFallback(inner domain.Analyzer, logger zerolog.Logger) *Fallback {
	return &Fallback{inner: inner, logger: logger}
}

// Analyze никогда не возвращает ошибку: сбой внутреннего анализатора
// заменяется детерминированным результатом из усечённого входа.
func (f *Fallback) Analyze(ctx context.Context, text string) (domain.Analysis, error) {
	analysis, err := f.inner.Analyze(ctx, text)
	if err == nil {
		return analysis, nil
	}

	truncated := truncateWithEllipsis(sanitize(text), fallbackSummaryLimit)
	result := domain.Analysis{
		Summary:           truncated,
		KeyConcept:        KeyConceptFailed,
		LinkedInPost:      "Check out this article:\n\n" + truncated,
		LaymanExplanation: truncated,
	}
	if errors.Is(err, domain.ErrAnalyzerUnavailable) {
		result.KeyConcept = KeyConceptUnavailable
		result.LinkedInPost = "Interesting article worth checking out:\n\n" + truncated
		f.logger.Debug().Msg("analyzer: генерация не сконфигурирована, используется запасной результат")
	} else {
		f.logger.Warn().Err(err).Msg("analyzer: сбой генерации, используется запасной результат")
	}
	return result, nil
}

// truncateWithEllipsis обрезает текст до limit рун с многоточием при усечении.
func truncateWithEllipsis(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
