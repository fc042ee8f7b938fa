package minutes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"minuteflow/internal/upstream/openai"
)

type Message struct {
	Role    string
	Content string
}

type Prompt struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

type Completion struct {
	Text  string
	Usage *TokenUsage
}

// Backend sends one bounded, non-streaming completion request using the
// caller's credential.
type Backend interface {
	Name() string
	Complete(ctx context.Context, credential string, prompt Prompt) (Completion, error)
}

type ChatClient interface {
	ChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ChatBackend serves any OpenAI-compatible chat completions endpoint, such as
// the Hugging Face router or Groq.
type ChatBackend struct {
	name   string
	client ChatClient
}

func NewChatBackend(name string, client ChatClient) *ChatBackend {
	return &ChatBackend{name: name, client: client}
}

func (b *ChatBackend) Name() string {
	return b.name
}

// Check verifies the endpoint answers /models with the given credential.
func (b *ChatBackend) Check(ctx context.Context, credential string) error {
	checker, ok := b.client.(interface {
		CheckModels(ctx context.Context) error
	})
	if !ok {
		return nil
	}
	return checker.CheckModels(openai.WithRequestAPIKey(ctx, credential))
}

func (b *ChatBackend) Complete(ctx context.Context, credential string, prompt Prompt) (Completion, error) {
	messages := make([]openai.ChatMessage, 0, len(prompt.Messages))
	for _, m := range prompt.Messages {
		messages = append(messages, openai.ChatMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := b.client.ChatCompletion(openai.WithRequestAPIKey(ctx, credential), openai.ChatCompletionRequest{
		Model:       prompt.Model,
		Messages:    messages,
		MaxTokens:   prompt.MaxTokens,
		Temperature: prompt.Temperature,
	})
	if err != nil {
		return Completion{}, err
	}

	out := Completion{Text: resp.Content}
	if resp.Usage != nil {
		out.Usage = &TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// GeminiBackend calls the Gemini API. A client is created per request because
// the API key belongs to the caller.
type GeminiBackend struct {
	baseURL    string
	httpClient *http.Client
}

// NewGeminiBackend reports every Gemini HTTP exchange to observer, when set,
// under the "gemini_generate_content" endpoint label.
func NewGeminiBackend(baseURL string, httpClient *http.Client, observer openai.ObserverFunc) *GeminiBackend {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if observer != nil {
		observed := *httpClient
		observed.Transport = &observingTransport{
			base:     httpClient.Transport,
			endpoint: "gemini_generate_content",
			observer: observer,
		}
		httpClient = &observed
	}
	return &GeminiBackend{baseURL: strings.TrimSpace(baseURL), httpClient: httpClient}
}

type observingTransport struct {
	base     http.RoundTripper
	endpoint string
	observer openai.ObserverFunc
}

func (t *observingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	started := time.Now()
	resp, err := base.RoundTrip(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	t.observer(t.endpoint, status, time.Since(started))
	return resp, err
}

func (b *GeminiBackend) Name() string {
	return "Gemini"
}

func (b *GeminiBackend) Complete(ctx context.Context, credential string, prompt Prompt) (Completion, error) {
	cfg := &genai.ClientConfig{
		APIKey:     credential,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: b.httpClient,
	}
	if b.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: b.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return Completion{}, fmt.Errorf("create client: %w", err)
	}

	gen := &genai.GenerateContentConfig{MaxOutputTokens: int32(prompt.MaxTokens)}
	if prompt.Temperature != nil {
		gen.Temperature = genai.Ptr(float32(*prompt.Temperature))
	}
	var contents []*genai.Content
	for _, m := range prompt.Messages {
		if m.Role == "system" {
			gen.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
			continue
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
	}

	result, err := client.Models.GenerateContent(ctx, prompt.Model, contents, gen)
	if err != nil {
		return Completion{}, fmt.Errorf("generate content: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return Completion{}, errors.New("empty response from Gemini")
	}

	var text strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			text.WriteString(part.Text)
		}
	}
	if text.Len() == 0 {
		return Completion{}, errors.New("empty response from Gemini")
	}

	out := Completion{Text: text.String()}
	if u := result.UsageMetadata; u != nil {
		out.Usage = &TokenUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}
