package domain

import "errors"

// Типовые ошибки границ пайплайна. Оркестратор различает их через errors.Is
// вместо глухого перехвата всех ошибок подряд.
var (
	// ErrAnalyzerUnavailable возвращается, когда генерация не сконфигурирована.
	ErrAnalyzerUnavailable = errors.New("анализатор недоступен: не задан API-ключ")
	// ErrNoContent возвращается, когда по статье не удалось получить текст.
	ErrNoContent = errors.New("нет текста для анализа")
	// ErrDuplicateURL возвращается при попытке создать статью с существующим URL.
	ErrDuplicateURL = errors.New("статья с таким URL уже существует")
	// ErrExtractFailed возвращается, когда markdown-извлечение не удалось.
	ErrExtractFailed = errors.New("не удалось извлечь markdown")
)
