package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"minuteflow/internal/audio"
	"minuteflow/internal/document"
	"minuteflow/internal/minutes"
)

var (
	ErrMissingCredential = errors.New("an API credential is required")
	ErrEmptyTranscript   = errors.New("transcript is empty")
)

type Stage string

const (
	StageIdle           Stage = "idle"
	StageAcquiringInput Stage = "acquiring_input"
	StageValidating     Stage = "validating"
	StageTranscribing   Stage = "transcribing"
	StageSummarizing    Stage = "summarizing"
	StageRendering      Stage = "rendering"
	StageDone           Stage = "done"
	StageFailed         Stage = "failed"
)

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

type Generator interface {
	Generate(ctx context.Context, credential, transcript string) minutes.Result
}

type Renderer interface {
	Render(text string) (document.Document, error)
}

// Observer is told about the outcomes worth counting.
type Observer interface {
	TranscriptionFailed()
	SummarizationFailed()
	DocumentRendered()
}

type Timings struct {
	Transcription time.Duration
	Summarization time.Duration
	Rendering     time.Duration
	Total         time.Duration
}

type Outcome struct {
	Transcript string
	Minutes    minutes.Result
	// Document is nil when the minutes failed and rendering was skipped.
	Document *document.Document
	FileName string
	Stages   []Stage
	Timings  Timings
}

func (o Outcome) Rendered() bool {
	return o.Document != nil
}

type Option func(*Service)

func WithTempDir(dir string) Option {
	return func(s *Service) {
		s.tempDir = dir
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(s *Service) {
		s.observer = observer
	}
}

type Service struct {
	transcriber Transcriber
	generator   Generator
	renderer    Renderer
	tempDir     string
	now         func() time.Time
	logger      *slog.Logger
	observer    Observer
}

// New wires the stages. transcriber may be nil when only text input is served.
func New(transcriber Transcriber, generator Generator, renderer Renderer, opts ...Option) *Service {
	s := &Service{
		transcriber: transcriber,
		generator:   generator,
		renderer:    renderer,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// FromAudio transcribes the recording, generates minutes and renders them.
// Missing credentials and unsupported files are rejected before any work.
func (s *Service) FromAudio(ctx context.Context, in audio.Input, credential string) (Outcome, error) {
	started := time.Now()
	out := Outcome{Stages: []Stage{StageIdle, StageAcquiringInput}}

	credential = strings.TrimSpace(credential)
	if credential == "" {
		return out.fail(started, ErrMissingCredential)
	}
	if err := in.Validate(); err != nil {
		return out.fail(started, err)
	}
	if s.transcriber == nil {
		return out.fail(started, errors.New("audio transcription is not configured"))
	}

	err := audio.WithTempFile(ctx, s.tempDir, in, func(ctx context.Context, path string) error {
		out.Stages = append(out.Stages, StageTranscribing)
		transcribeStarted := time.Now()
		transcript, err := s.transcriber.Transcribe(ctx, path)
		out.Timings.Transcription = time.Since(transcribeStarted)
		if err != nil {
			return err
		}
		out.Transcript = strings.TrimSpace(transcript)
		return nil
	})
	if err != nil {
		if out.Stages[len(out.Stages)-1] == StageTranscribing {
			s.notify(Observer.TranscriptionFailed)
			s.logger.Warn("transcription failed", "file_name", in.FileName, "error", err)
		}
		return out.fail(started, err)
	}
	if out.Transcript == "" {
		return out.fail(started, ErrEmptyTranscript)
	}

	s.summarizeAndRender(ctx, &out, credential)
	out.Timings.Total = time.Since(started)
	return out, nil
}

// FromText generates minutes for a pasted transcript and renders them.
func (s *Service) FromText(ctx context.Context, transcript, credential string) (Outcome, error) {
	started := time.Now()
	out := Outcome{Stages: []Stage{StageIdle, StageValidating}}

	if strings.TrimSpace(transcript) == "" {
		return out.fail(started, ErrEmptyTranscript)
	}
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return out.fail(started, ErrMissingCredential)
	}
	out.Transcript = transcript

	s.summarizeAndRender(ctx, &out, credential)
	out.Timings.Total = time.Since(started)
	return out, nil
}

// fail records the terminal Failed stage after the stage that failed.
func (o Outcome) fail(started time.Time, err error) (Outcome, error) {
	o.Stages = append(o.Stages, StageFailed)
	o.Timings.Total = time.Since(started)
	return o, err
}

func (s *Service) summarizeAndRender(ctx context.Context, out *Outcome, credential string) {
	out.Stages = append(out.Stages, StageSummarizing)
	summarizeStarted := time.Now()
	out.Minutes = s.generator.Generate(ctx, credential, out.Transcript)
	out.Timings.Summarization = time.Since(summarizeStarted)

	if !out.Minutes.OK() {
		s.notify(Observer.SummarizationFailed)
		s.logger.Warn("summarization failed, skipping document", "error", out.Minutes.Failure())
		out.Stages = append(out.Stages, StageDone)
		return
	}

	out.Stages = append(out.Stages, StageRendering)
	renderStarted := time.Now()
	doc, err := s.renderer.Render(out.Minutes.Markdown())
	out.Timings.Rendering = time.Since(renderStarted)
	if err != nil {
		// The renderer substitutes what it cannot encode, so this only
		// happens on a broken writer. The minutes are still shown.
		s.logger.Error("document rendering failed", "error", err)
		out.Stages = append(out.Stages, StageDone)
		return
	}
	out.Document = &doc
	out.FileName = document.FileName(s.now())
	s.notify(Observer.DocumentRendered)
	out.Stages = append(out.Stages, StageDone)
}

func (s *Service) notify(event func(Observer)) {
	if s.observer != nil {
		event(s.observer)
	}
}

func (s Stage) String() string {
	return string(s)
}

// Describe renders a short status line for the outcome.
func (o Outcome) Describe() string {
	switch {
	case o.Rendered():
		return fmt.Sprintf("minutes generated, document %s ready", o.FileName)
	case !o.Minutes.OK():
		return "summarization failed, no document produced"
	default:
		return "minutes generated, document unavailable"
	}
}
