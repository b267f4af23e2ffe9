package analyzer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"article-digest/internal/domain"
)

type failingAnalyzer struct {
	err error
}

func (f *failingAnalyzer) Analyze(context.Context, string) (domain.Analysis, error) {
	return domain.Analysis{}, f.err
}

func TestFallbackUnavailableShortText(t *testing.T) {
	// Анализатор без клиента — генерация не сконфигурирована.
	fb := WithFallback(NewOpenAI(nil, ""), zerolog.Nop())

	got, err := fb.Analyze(context.Background(), "short text")
	if err != nil {
		t.Fatalf("запасной путь не возвращает ошибку: %v", err)
	}
	if got.Summary != "short text" {
		t.Fatalf("короткий вход остаётся без изменений, получили %q", got.Summary)
	}
	if got.KeyConcept != KeyConceptUnavailable {
		t.Fatalf("ожидали сигнальное значение %q, получили %q", KeyConceptUnavailable, got.KeyConcept)
	}
	if got.LaymanExplanation != "short text" {
		t.Fatalf("объяснение равно усечённому входу")
	}
	if !strings.Contains(got.LinkedInPost, "short text") {
		t.Fatalf("шаблонный пост должен содержать усечённый вход")
	}
}

func TestFallbackDeterministic(t *testing.T) {
	fb := WithFallback(NewOpenAI(nil, ""), zerolog.Nop())

	first, _ := fb.Analyze(context.Background(), "same input")
	second, _ := fb.Analyze(context.Background(), "same input")
	if first != second {
		t.Fatalf("повторный вызов с тем же входом обязан дать идентичный результат")
	}
}

func TestFallbackTruncatesLongText(t *testing.T) {
	fb := WithFallback(NewOpenAI(nil, ""), zerolog.Nop())

	long := strings.Repeat("a", 500)
	got, _ := fb.Analyze(context.Background(), long)
	want := strings.Repeat("a", 400) + "..."
	if got.Summary != want {
		t.Fatalf("ожидали усечение до 400 символов с многоточием")
	}
}

func TestFallbackCallErrorSentinel(t *testing.T) {
	fb := WithFallback(&failingAnalyzer{err: errors.New("rate limited")}, zerolog.Nop())

	got, err := fb.Analyze(context.Background(), "text")
	if err != nil {
		t.Fatalf("запасной путь не возвращает ошибку: %v", err)
	}
	if got.KeyConcept != KeyConceptFailed {
		t.Fatalf("при ошибке вызова ожидали сигнальное значение %q, получили %q", KeyConceptFailed, got.KeyConcept)
	}
}

func TestStrictAnalyzerSurfacesUnavailable(t *testing.T) {
	// Строгий вызов без обёртки отдаёт типовую ошибку вместо запасного результата.
	a := NewOpenAI(nil, "")
	_, err := a.Analyze(context.Background(), "text")
	if !errors.Is(err, domain.ErrAnalyzerUnavailable) {
		t.Fatalf("ожидали ErrAnalyzerUnavailable, получили %v", err)
	}
}

func TestSanitizeStripsNulBytes(t *testing.T) {
	if got := sanitize("a\x00b\x00c"); got != "abc" {
		t.Fatalf("NUL-байты должны вычищаться, получили %q", got)
	}
}

func TestClipRunes(t *testing.T) {
	long := strings.Repeat("д", maxInputChars+100)
	clipped := clipRunes(long, maxInputChars)
	if len([]rune(clipped)) != maxInputChars {
		t.Fatalf("ожидали обрезку до %d рун", maxInputChars)
	}
	if clipRunes("short", maxInputChars) != "short" {
		t.Fatalf("короткий вход не обрезается")
	}
}
