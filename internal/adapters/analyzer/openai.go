package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"article-digest/internal/domain"
	openai "article-digest/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Вход обрезается, чтобы не упереться в лимит токенов (~8k символов ≈ ~2k токенов).
const maxInputChars = 8000

// OpenAI выполняет один структурированный вызов Chat Completions на статью.
// Один вызов возвращает сразу резюме, ключевую идею и оба поста.
type OpenAI struct {
	client chatClient
	model  string
}

var _ domain.Analyzer = (*OpenAI)(nil)

// NewOpenAI создаёт анализатор. Нулевой клиент означает отсутствие конфигурации.
func NewOpenAI(client chatClient, model string) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAI{client: client, model: model}
}

// Model возвращает тег модели для записи в черновики.
func (a *OpenAI) Model() string {
	return a.model
}

type analysisPayload struct {
	Summary           string `json:"summary"`
	KeyConcept        string `json:"key_concept"`
	LinkedInPost      string `json:"linkedin_post"`
	XPost             string `json:"x_post"`
	LaymanExplanation string `json:"layman_explanation"`
}

const systemPrompt = "You are an expert content analyzer and writer. " +
	"Your task is to analyze articles and create engaging content for different audiences. " +
	"Be concise, accurate, and compelling in all your outputs."

const responseContract = `Return a JSON object with exactly these fields:
"summary" - concise 2-3 sentence summary of the article suitable for digest emails;
"key_concept" - the single most important idea from the article in one clear sentence;
"linkedin_post" - professional LinkedIn post (150-200 words), third-person perspective, no hashtags;
"x_post" - punchy X/Twitter post under 260 characters, no link in the content;
"layman_explanation" - detailed explanation for non-technical readers (200-300 words) ending with a dedicated analogy.`

// Analyze реализует domain.Analyzer. При отсутствии конфигурации возвращает
// ErrAnalyzerUnavailable, прочие сбои оборачиваются как есть.
func (a *OpenAI) Analyze(ctx context.Context, text string) (domain.Analysis, error) {
	if a.client == nil {
		return domain.Analysis{}, domain.ErrAnalyzerUnavailable
	}

	clipped := clipRunes(text, maxInputChars)
	req := openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: 0.3,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt},
			{
				Role:    openai.RoleUser,
				Content: fmt.Sprintf("Analyze this article comprehensively. %s\n\nArticle:\n%s", responseContract, clipped),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("вызов генерации: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Analysis{}, fmt.Errorf("вызов генерации: пустой ответ")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	var parsed analysisPayload
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return domain.Analysis{}, fmt.Errorf("распаковка ответа LLM: %w", err)
	}

	// NUL-байты роняют вставку в Postgres, вычищаем их во всех полях одинаково.
	return domain.Analysis{
		Summary:           sanitize(parsed.Summary),
		KeyConcept:        sanitize(parsed.KeyConcept),
		LinkedInPost:      sanitize(parsed.LinkedInPost),
		XPost:             sanitize(parsed.XPost),
		LaymanExplanation: sanitize(parsed.LaymanExplanation),
	}, nil
}

func sanitize(text string) string {
	return strings.ReplaceAll(text, "\x00", "")
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
