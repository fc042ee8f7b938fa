package model

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id,omitempty"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

type ReadyResponse struct {
	OK          bool   `json:"ok"`
	ServiceName string `json:"service_name,omitempty"`
	Backend     string `json:"backend,omitempty"`
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type TextMinutesRequest struct {
	Transcript string `json:"transcript"`
}

type DocumentRequest struct {
	Minutes string `json:"minutes"`
}

type Document struct {
	FileName      string `json:"file_name"`
	MediaType     string `json:"media_type"`
	ContentBase64 string `json:"content_base64"`
}

type MinutesTimings struct {
	Transcription int64 `json:"transcription"`
	Summarization int64 `json:"summarization"`
	Rendering     int64 `json:"rendering"`
	Total         int64 `json:"total"`
}

const (
	SummarizationSucceeded = "succeeded"
	SummarizationFailed    = "failed"
)

type MinutesResponse struct {
	Transcript          string         `json:"transcript"`
	Minutes             string         `json:"minutes"`
	SummarizationStatus string         `json:"summarization_status"`
	Usage               *TokenUsage    `json:"usage,omitempty"`
	Document            *Document      `json:"document,omitempty"`
	Stages              []string       `json:"stages"`
	TimingsMS           MinutesTimings `json:"timings_ms"`
}
