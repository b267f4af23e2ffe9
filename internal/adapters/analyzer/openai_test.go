package analyzer

import (
	"context"
	"strings"
	"testing"

	openai "article-digest/internal/infra/openai"
)

type stubChatClient struct {
	content string
	err     error
	lastReq openai.ChatCompletionRequest
}

func (s *stubChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.lastReq = req
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatMessage{Role: "assistant", Content: s.content}},
		},
	}, nil
}

func TestAnalyzeParsesStructuredResponse(t *testing.T) {
	client := &stubChatClient{content: `{
		"summary": "кратко",
		"key_concept": "идея",
		"linkedin_post": "пост",
		"x_post": "твит",
		"layman_explanation": "просто\u0000"
	}`}
	a := NewOpenAI(client, "gpt-4o-mini")

	got, err := a.Analyze(context.Background(), "text")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.Summary != "кратко" || got.KeyConcept != "идея" {
		t.Fatalf("поля ответа разобраны неверно: %+v", got)
	}
	if got.LaymanExplanation != "просто" {
		t.Fatalf("NUL-байт должен быть вычищен, получили %q", got.LaymanExplanation)
	}
	if client.lastReq.ResponseFormat == nil || client.lastReq.ResponseFormat.Type != openai.ResponseFormatTypeJSONObject {
		t.Fatalf("запрос обязан требовать json_object")
	}
}

func TestAnalyzeClipsInput(t *testing.T) {
	client := &stubChatClient{content: `{"summary":"s","key_concept":"k","linkedin_post":"l","x_post":"x","layman_explanation":"e"}`}
	a := NewOpenAI(client, "gpt-4o-mini")

	long := strings.Repeat("a", maxInputChars+5000)
	if _, err := a.Analyze(context.Background(), long); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	userMsg := client.lastReq.Messages[len(client.lastReq.Messages)-1].Content
	if strings.Contains(userMsg, long) {
		t.Fatalf("вход должен быть обрезан перед отправкой")
	}
}

func TestAnalyzeMalformedResponse(t *testing.T) {
	client := &stubChatClient{content: "not json"}
	a := NewOpenAI(client, "gpt-4o-mini")

	if _, err := a.Analyze(context.Background(), "text"); err == nil {
		t.Fatalf("кривой JSON должен давать ошибку для запасного пути выше")
	}
}
