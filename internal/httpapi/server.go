package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"minuteflow/internal/audio"
	"minuteflow/internal/config"
	"minuteflow/internal/document"
	"minuteflow/internal/minutes"
	"minuteflow/internal/model"
	"minuteflow/internal/pipeline"
	"minuteflow/internal/transcription"
	"minuteflow/internal/upstream/openai"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type PipelineService interface {
	FromAudio(ctx context.Context, in audio.Input, credential string) (pipeline.Outcome, error)
	FromText(ctx context.Context, transcript, credential string) (pipeline.Outcome, error)
}

type DocumentRenderer interface {
	Render(text string) (document.Document, error)
}

type ReadyChecker interface {
	Ready(ctx context.Context, credential string) error
}

type MetricsObserver interface {
	ObserveHTTP(route, method string, status int, duration time.Duration)
	DocumentRendered()
}

type Dependencies struct {
	Pipeline       PipelineService
	Renderer       DocumentRenderer
	Ready          ReadyChecker
	Metrics        MetricsObserver
	MetricsHandler http.Handler
	// Now stamps standalone document file names; defaults to time.Now.
	Now func() time.Time
}

type server struct {
	cfg          config.Config
	logger       *slog.Logger
	pipeline     PipelineService
	renderer     DocumentRenderer
	ready        ReadyChecker
	metrics      MetricsObserver
	metricsRoute http.Handler
	now          func() time.Time
}

type ctxKey string

const (
	requestIDHeader   = "X-Request-Id"
	requestIDContext  = ctxKey("request_id")
	credentialContext = ctxKey("credential")
	maxJSONBodyBytes  = 8 << 20
	serviceName       = "minuteflow"
)

func NewServer(cfg config.Config, logger *slog.Logger, deps Dependencies) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Pipeline == nil || deps.Renderer == nil || deps.Ready == nil {
		panic("httpapi: pipeline, renderer and readiness dependencies are required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &server{
		cfg:          cfg,
		logger:       logger,
		pipeline:     deps.Pipeline,
		renderer:     deps.Renderer,
		ready:        deps.Ready,
		metrics:      deps.Metrics,
		metricsRoute: deps.MetricsHandler,
		now:          deps.Now,
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.authMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.metricsRoute != nil {
		r.Handle("/metrics", s.metricsRoute)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/minutes/audio", s.handleAudioMinutes)
		r.Post("/minutes/text", s.handleTextMinutes)
		r.Post("/documents", s.handleDocuments)
	})

	return r
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{OK: true})
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	resp := model.ReadyResponse{OK: true, ServiceName: serviceName, Backend: s.cfg.LLM.DisplayName}
	credential := s.credential(r)
	if credential == "" {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.ready.Ready(ctx, credential); err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "not_ready", "LLM backend check failed", detailsForError(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleAudioMinutes(w http.ResponseWriter, r *http.Request) {
	file, header, form, err := s.readMultipartAudio(w, r)
	if err != nil {
		s.handleMultipartReadError(w, r, err)
		return
	}
	defer cleanupMultipartForm(form)
	defer func() { _ = file.Close() }()

	out, err := s.pipeline.FromAudio(r.Context(), audio.Input{File: file, FileName: header.Filename}, s.credential(r))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMinutesResponse(out))
}

func (s *server) handleTextMinutes(w http.ResponseWriter, r *http.Request) {
	var req model.TextMinutesRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		s.writeError(w, r, http.StatusBadRequest, "empty_transcript", "transcript is required", nil)
		return
	}

	out, err := s.pipeline.FromText(r.Context(), req.Transcript, s.credential(r))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMinutesResponse(out))
}

// handleDocuments renders previously generated minutes without calling the
// LLM again.
func (s *server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	var req model.DocumentRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Minutes) == "" {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "minutes are required", nil)
		return
	}
	if result := minutes.Parse(req.Minutes); !result.OK() {
		s.writeError(w, r, http.StatusUnprocessableEntity, "summarization_failed", "minutes contain an error message, nothing to render", nil)
		return
	}

	doc, err := s.renderer.Render(req.Minutes)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.DocumentRendered()
	}

	w.Header().Set("Content-Type", document.MediaType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", document.FileName(s.now())))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Bytes())
}

func (s *server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	defer func() { _ = r.Body.Close() }()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		s.handleJSONDecodeError(w, r, err)
		return false
	}
	if err := ensureBodyFullyConsumed(decoder); err != nil {
		s.handleJSONDecodeError(w, r, err)
		return false
	}
	return true
}

// credential prefers the caller's bearer token over the configured key.
func (s *server) credential(r *http.Request) string {
	if token := credentialFromContext(r.Context()); token != "" {
		return token
	}
	return s.cfg.LLM.APIKey
}

func (s *server) readMultipartAudio(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, *multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(minInt64(s.cfg.MaxUploadBytes, 8<<20)); err != nil {
		return nil, nil, nil, err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, r.MultipartForm, err
	}
	return file, header, r.MultipartForm, nil
}

func (s *server) handleMultipartReadError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", fmt.Sprintf("request exceeds %d bytes", s.cfg.MaxUploadBytes), nil)
		return
	}
	if strings.Contains(strings.ToLower(err.Error()), "no such file") || strings.Contains(strings.ToLower(err.Error()), "missing") {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "multipart field 'file' is required", nil)
		return
	}
	s.writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid multipart form data", nil)
}

func (s *server) handleJSONDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", "JSON body too large", nil)
		return
	}
	s.writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body", nil)
}

func (s *server) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	message := "request failed"
	details := detailsForError(err)

	var upstreamErr *openai.Error
	var transcriptionErr *transcription.Error
	switch {
	case errors.Is(err, pipeline.ErrMissingCredential):
		status = http.StatusUnauthorized
		code = "missing_credential"
		message = "an API credential is required"
	case errors.Is(err, pipeline.ErrEmptyTranscript):
		status = http.StatusBadRequest
		code = "empty_transcript"
		message = "transcript is empty"
	case errors.Is(err, audio.ErrUnsupportedFormat):
		status = http.StatusUnsupportedMediaType
		code = "unsupported_audio_format"
		message = "supported audio formats: " + strings.Join(audio.SupportedExtensions(), ", ")
	case errors.As(err, &transcriptionErr):
		status = http.StatusUnprocessableEntity
		code = "transcription_failed"
		message = "audio could not be transcribed"
	case errors.As(err, &upstreamErr):
		status = http.StatusBadGateway
		code = "upstream_request_failed"
		message = "upstream request failed"
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		code = "timeout"
		message = "request timed out"
	case errors.Is(err, context.Canceled):
		status = 499
		code = "canceled"
		message = "request canceled"
	}

	s.writeError(w, r, status, code, message, details)
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	if rid := requestIDFromContext(r.Context()); rid != "" {
		w.Header().Set(requestIDHeader, rid)
	}
	writeJSON(w, status, model.ErrorResponse{
		Error:     model.APIError{Code: code, Message: message, Details: details},
		RequestID: requestIDFromContext(r.Context()),
	})
}

func (s *server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = newRequestID()
		}
		w.Header().Set(requestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDContext, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		duration := time.Since(started)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, r.Method, status, duration)
		}

		s.logger.Info("http_request",
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", duration.Milliseconds(),
		)
	})
}

func (s *server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", "request_id", requestIDFromContext(r.Context()), "panic", rec)
				s.writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, hasHeader, ok := extractBearerToken(r.Header.Get("Authorization"))
		if hasHeader && !ok {
			s.writeError(w, r, http.StatusUnauthorized, "unauthorized", "Authorization must be Bearer <api_key>", nil)
			return
		}
		if requiresCredential(r.URL.Path) && token == "" && s.cfg.LLM.APIKey == "" {
			s.writeError(w, r, http.StatusUnauthorized, "missing_credential", fmt.Sprintf("missing %s API key bearer token", s.cfg.LLM.DisplayName), nil)
			return
		}
		if token != "" {
			r = r.WithContext(context.WithValue(r.Context(), credentialContext, token))
		}
		next.ServeHTTP(w, r)
	})
}

// requiresCredential reports whether the route calls the LLM backend.
// Rendering a document needs no key.
func requiresCredential(path string) bool {
	return strings.HasPrefix(path, "/v1/minutes/")
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func ensureBodyFullyConsumed(decoder *json.Decoder) error {
	var extra any
	if err := decoder.Decode(&extra); err != io.EOF {
		if err == nil {
			return fmt.Errorf("multiple JSON values")
		}
		return err
	}
	return nil
}

func cleanupMultipartForm(form *multipart.Form) {
	if form != nil {
		_ = form.RemoveAll()
	}
}

func credentialFromContext(ctx context.Context) string {
	value, _ := ctx.Value(credentialContext).(string)
	return value
}

func requestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(requestIDContext).(string)
	return value
}

func extractBearerToken(header string) (token string, hasHeader bool, ok bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false, true
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", true, false
	}
	token = strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", true, false
	}
	return token, true, true
}

func newRequestID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

func toMinutesResponse(out pipeline.Outcome) model.MinutesResponse {
	resp := model.MinutesResponse{
		Transcript:          out.Transcript,
		Minutes:             out.Minutes.Text(),
		SummarizationStatus: model.SummarizationSucceeded,
		Stages:              make([]string, 0, len(out.Stages)),
		TimingsMS: model.MinutesTimings{
			Transcription: out.Timings.Transcription.Milliseconds(),
			Summarization: out.Timings.Summarization.Milliseconds(),
			Rendering:     out.Timings.Rendering.Milliseconds(),
			Total:         out.Timings.Total.Milliseconds(),
		},
	}
	if !out.Minutes.OK() {
		resp.SummarizationStatus = model.SummarizationFailed
	}
	if u := out.Minutes.Usage; u != nil {
		resp.Usage = &model.TokenUsage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	if out.Document != nil {
		resp.Document = &model.Document{
			FileName:      out.FileName,
			MediaType:     document.MediaType,
			ContentBase64: base64.StdEncoding.EncodeToString(out.Document.Bytes()),
		}
	}
	for _, stage := range out.Stages {
		resp.Stages = append(resp.Stages, stage.String())
	}
	return resp
}

func detailsForError(err error) map[string]any {
	if err == nil {
		return nil
	}
	details := map[string]any{"error": err.Error()}
	var upstreamErr *openai.Error
	if errors.As(err, &upstreamErr) {
		details["upstream_status"] = upstreamErr.StatusCode
		if upstreamErr.Body != "" {
			details["upstream_body"] = upstreamErr.Body
		}
	}
	return details
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
