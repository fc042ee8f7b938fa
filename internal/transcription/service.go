package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Error is a transcription failure: the model could not be loaded or failed
// while decoding. It ends the pipeline run.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transcription %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Service struct {
	loader  *Loader
	timeout time.Duration
	logger  *slog.Logger
}

// New builds the transcriber. A zero timeout leaves cancellation to the caller
// and the model.
func New(loader *Loader, timeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{loader: loader, timeout: timeout, logger: logger}
}

// Warm loads the model ahead of the first request.
func (s *Service) Warm(ctx context.Context) error {
	if _, err := s.loader.Model(ctx); err != nil {
		return &Error{Op: "load", Err: err}
	}
	return nil
}

// Transcribe decodes the whole file and returns every segment text joined by
// single spaces, trimmed. It blocks until the model is done.
func (s *Service) Transcribe(ctx context.Context, audioPath string) (string, error) {
	model, err := s.loader.Model(ctx)
	if err != nil {
		return "", &Error{Op: "load", Err: err}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now()
	parts := make([]string, 0, 64)
	for seg, err := range model.Segments(ctx, audioPath) {
		if err != nil {
			return "", &Error{Op: "decode", Err: err}
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}

	s.logger.Debug("transcription finished", "segments", len(parts), "duration_ms", time.Since(started).Milliseconds())
	return strings.Join(parts, " "), nil
}
