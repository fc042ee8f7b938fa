package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"minuteflow/internal/audio"
	"minuteflow/internal/config"
	"minuteflow/internal/document"
	"minuteflow/internal/minutes"
	"minuteflow/internal/model"
	"minuteflow/internal/pipeline"
	"minuteflow/internal/transcription"
)

type stubPipeline struct {
	outcome    pipeline.Outcome
	err        error
	calls      int
	credential string
	transcript string
	fileName   string
	fileBody   string
}

func (s *stubPipeline) FromAudio(_ context.Context, in audio.Input, credential string) (pipeline.Outcome, error) {
	s.calls++
	s.credential = credential
	s.fileName = in.FileName
	body, _ := io.ReadAll(in.File)
	s.fileBody = string(body)
	return s.outcome, s.err
}

func (s *stubPipeline) FromText(_ context.Context, transcript, credential string) (pipeline.Outcome, error) {
	s.calls++
	s.credential = credential
	s.transcript = transcript
	return s.outcome, s.err
}

type stubReady struct {
	err        error
	credential string
}

func (s *stubReady) Ready(_ context.Context, credential string) error {
	s.credential = credential
	return s.err
}

func testConfig(apiKey string) config.Config {
	return config.Config{
		MaxUploadBytes: 1024 * 1024,
		LLM:            config.LLMConfig{DisplayName: "Groq", APIKey: apiKey},
	}
}

func newTestHandler(t *testing.T, cfg config.Config, p PipelineService, ready ReadyChecker) http.Handler {
	t.Helper()
	if ready == nil {
		ready = &stubReady{}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(cfg, logger, Dependencies{
		Pipeline: p,
		Renderer: document.NewRenderer(),
		Ready:    ready,
		Now:      func() time.Time { return time.Unix(1700000000, 0) },
	})
}

func renderedOutcome(t *testing.T, md string) pipeline.Outcome {
	t.Helper()
	doc, err := document.NewRenderer().Render(md)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	return pipeline.Outcome{
		Transcript: "Alice will send the report.",
		Minutes:    minutes.Success(md, &minutes.TokenUsage{PromptTokens: 40, CompletionTokens: 8, TotalTokens: 48}),
		Document:   &doc,
		FileName:   "meeting_minutes_1700000000.pdf",
		Stages:     []pipeline.Stage{pipeline.StageIdle, pipeline.StageValidating, pipeline.StageSummarizing, pipeline.StageRendering, pipeline.StageDone},
	}
}

func multipartAudio(t *testing.T, fileName, body string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = io.WriteString(part, body)
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) model.ErrorResponse {
	t.Helper()
	var resp model.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v body=%s", err, w.Body.String())
	}
	return resp
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t, testConfig(""), &stubPipeline{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestTextMinutesReturnsDocument(t *testing.T) {
	md := "## Action Items\n- Alice: send the report"
	p := &stubPipeline{outcome: renderedOutcome(t, md)}
	h := newTestHandler(t, testConfig("server-key"), p, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/minutes/text", strings.NewReader(`{"transcript":"Alice will send the report."}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	var resp model.MinutesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Minutes != md || resp.SummarizationStatus != model.SummarizationSucceeded {
		t.Fatalf("unexpected minutes: %+v", resp)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 48 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
	if resp.Document == nil || resp.Document.FileName != "meeting_minutes_1700000000.pdf" || resp.Document.MediaType != "application/pdf" {
		t.Fatalf("unexpected document: %+v", resp.Document)
	}
	pdf, err := base64.StdEncoding.DecodeString(resp.Document.ContentBase64)
	if err != nil || !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Fatalf("document is not a PDF: %v", err)
	}
	if p.credential != "server-key" || p.transcript != "Alice will send the report." {
		t.Fatalf("unexpected pipeline input: %q %q", p.credential, p.transcript)
	}
	if len(resp.Stages) != 5 || resp.Stages[4] != "done" {
		t.Fatalf("unexpected stages: %v", resp.Stages)
	}
}

func TestTextMinutesFailureOmitsDocument(t *testing.T) {
	p := &stubPipeline{outcome: pipeline.Outcome{
		Transcript: "hello",
		Minutes:    minutes.Fail("Groq", errors.New("rate limited")),
	}}
	h := newTestHandler(t, testConfig("server-key"), p, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/minutes/text", strings.NewReader(`{"transcript":"hello"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	var resp model.MinutesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SummarizationStatus != model.SummarizationFailed || resp.Document != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Minutes != "An error occurred with the Groq API: rate limited" {
		t.Fatalf("unexpected minutes text: %q", resp.Minutes)
	}
	if strings.Contains(w.Body.String(), `"document"`) {
		t.Fatalf("document must be omitted: %s", w.Body.String())
	}
}

func TestTextMinutesRejectsBlankTranscript(t *testing.T) {
	p := &stubPipeline{}
	h := newTestHandler(t, testConfig("server-key"), p, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/minutes/text", strings.NewReader(`{"transcript":"  \n "}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if p.calls != 0 {
		t.Fatal("pipeline must not run for a blank transcript")
	}
}

func TestTextMinutesRejectsUnknownFields(t *testing.T) {
	h := newTestHandler(t, testConfig("server-key"), &stubPipeline{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/minutes/text", strings.NewReader(`{"transcript":"hi","model":"x"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", w.Code)
	}
}

func TestCredentialRequiredWhenNoServerKey(t *testing.T) {
	p := &stubPipeline{}
	h := newTestHandler(t, testConfig(""), p, nil)

	for _, path := range []string{"/v1/minutes/text", "/v1/minutes/audio"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"transcript":"hi"}`))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: unexpected status: %d body=%s", path, w.Code, w.Body.String())
		}
		if resp := decodeError(t, w); resp.Error.Code != "missing_credential" || !strings.Contains(resp.Error.Message, "Groq") {
			t.Fatalf("%s: unexpected error: %+v", path, resp.Error)
		}
	}
	if p.calls != 0 {
		t.Fatal("pipeline must not run without a credential")
	}
}

func TestBearerTokenOverridesServerKey(t *testing.T) {
	p := &stubPipeline{outcome: renderedOutcome(t, "ok")}
	h := newTestHandler(t, testConfig("server-key"), p, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/minutes/text", strings.NewReader(`{"transcript":"hi"}`))
	req.Header.Set("Authorization", "Bearer caller-key")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if p.credential != "caller-key" {
		t.Fatalf("unexpected credential: %q", p.credential)
	}
}

func TestMalformedAuthorizationRejected(t *testing.T) {
	h := newTestHandler(t, testConfig("server-key"), &stubPipeline{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/minutes/text", strings.NewReader(`{"transcript":"hi"}`))
	req.Header.Set("Authorization", "Basic abc")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", w.Code)
	}
}

func TestAudioMinutesMultipart(t *testing.T) {
	p := &stubPipeline{outcome: renderedOutcome(t, "## Summary")}
	h := newTestHandler(t, testConfig(""), p, nil)

	body, contentType := multipartAudio(t, "standup.m4a", "audio-bytes")
	req := httptest.NewRequest(http.MethodPost, "/v1/minutes/audio", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer hf_token")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if p.fileName != "standup.m4a" || p.fileBody != "audio-bytes" || p.credential != "hf_token" {
		t.Fatalf("unexpected pipeline input: %q %q %q", p.fileName, p.fileBody, p.credential)
	}
}

func TestAudioMinutesErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unsupported", audio.ErrUnsupportedFormat, http.StatusUnsupportedMediaType, "unsupported_audio_format"},
		{"transcription", &transcription.Error{Op: "decode", Err: errors.New("bad stream")}, http.StatusUnprocessableEntity, "transcription_failed"},
		{"empty", pipeline.ErrEmptyTranscript, http.StatusBadRequest, "empty_transcript"},
		{"credential", pipeline.ErrMissingCredential, http.StatusUnauthorized, "missing_credential"},
		{"other", errors.New("disk full"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, testConfig("server-key"), &stubPipeline{err: tc.err}, nil)
			body, contentType := multipartAudio(t, "call.wav", "x")
			req := httptest.NewRequest(http.MethodPost, "/v1/minutes/audio", body)
			req.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tc.status {
				t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
			}
			if resp := decodeError(t, w); resp.Error.Code != tc.code {
				t.Fatalf("unexpected code: %q", resp.Error.Code)
			}
		})
	}
}

func TestAudioMinutesRejectsOversizeUpload(t *testing.T) {
	cfg := testConfig("server-key")
	cfg.MaxUploadBytes = 64
	p := &stubPipeline{}
	h := newTestHandler(t, cfg, p, nil)

	body, contentType := multipartAudio(t, "call.wav", strings.Repeat("a", 1024))
	req := httptest.NewRequest(http.MethodPost, "/v1/minutes/audio", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if p.calls != 0 {
		t.Fatal("pipeline must not run for an oversize upload")
	}
}

func TestDocumentsRendersPDFWithoutCredential(t *testing.T) {
	h := newTestHandler(t, testConfig(""), &stubPipeline{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", strings.NewReader(`{"minutes":"## Action Items\n- Zoë: café budget"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("unexpected content type: %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="meeting_minutes_1700000000.pdf"` {
		t.Fatalf("unexpected content disposition: %q", cd)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")) {
		t.Fatal("body is not a PDF")
	}
}

func TestDocumentsRejectsErrorText(t *testing.T) {
	h := newTestHandler(t, testConfig(""), &stubPipeline{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", strings.NewReader(`{"minutes":"An error occurred: timeout"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
}

func TestReadyzSkipsBackendCheckWithoutAnyCredential(t *testing.T) {
	ready := &stubReady{err: io.EOF}
	h := newTestHandler(t, testConfig(""), &stubPipeline{}, ready)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if ready.credential != "" {
		t.Fatal("backend must not be checked without a credential")
	}
}

func TestReadyzReportsBackendFailure(t *testing.T) {
	ready := &stubReady{err: errors.New("connection refused")}
	h := newTestHandler(t, testConfig("server-key"), &stubPipeline{}, ready)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if ready.credential != "server-key" {
		t.Fatalf("unexpected credential: %q", ready.credential)
	}
}
