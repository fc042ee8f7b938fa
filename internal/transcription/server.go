package transcription

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"time"

	"minuteflow/internal/upstream/openai"
)

// SpeechServerClient is the subset of the OpenAI-compatible client used to
// reach a local speech server.
type SpeechServerClient interface {
	Transcribe(ctx context.Context, file io.Reader, fileName string, in openai.TranscriptionRequest) (openai.Transcription, error)
	CheckModels(ctx context.Context) error
}

// ServerConfig describes a local OpenAI-compatible speech server, for example
// a faster-whisper server started with the base model in int8 on CPU.
type ServerConfig struct {
	Model    string
	Settings Settings
}

type speechServer struct {
	cfg    ServerConfig
	client SpeechServerClient
}

// LoadServer checks that the server is reachable before any upload is
// accepted.
func LoadServer(cfg ServerConfig, client SpeechServerClient) LoadFunc {
	return func(ctx context.Context) (Model, error) {
		if err := client.CheckModels(ctx); err != nil {
			return nil, fmt.Errorf("speech server: %w", err)
		}
		return &speechServer{cfg: cfg, client: client}, nil
	}
}

func (s *speechServer) Segments(ctx context.Context, audioPath string) iter.Seq2[Segment, error] {
	return func(yield func(Segment, error) bool) {
		f, err := os.Open(audioPath)
		if err != nil {
			yield(Segment{}, fmt.Errorf("open audio: %w", err))
			return
		}
		defer f.Close()

		language := s.cfg.Settings.Language
		if language == "auto" {
			language = ""
		}
		result, err := s.client.Transcribe(ctx, f, filepath.Base(audioPath), openai.TranscriptionRequest{
			Model:          s.cfg.Model,
			Language:       language,
			ResponseFormat: "verbose_json",
		})
		if err != nil {
			yield(Segment{}, err)
			return
		}

		if len(result.Segments) == 0 {
			if result.Text != "" {
				yield(Segment{Text: result.Text}, nil)
			}
			return
		}
		for _, seg := range result.Segments {
			if !yield(Segment{
				Start: seconds(seg.Start),
				End:   seconds(seg.End),
				Text:  seg.Text,
			}, nil) {
				return
			}
		}
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
