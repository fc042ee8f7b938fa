package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"minuteflow/internal/executor"
)

// WhisperCPPConfig points at a whisper.cpp CLI build and a ggml model file.
// The "int8" compute profile corresponds to a q8_0 quantized model.
type WhisperCPPConfig struct {
	BinaryPath string
	FFmpegPath string
	ModelPath  string
	Settings   Settings
}

type whisperCPP struct {
	cfg  WhisperCPPConfig
	exec executor.Executor
}

// LoadWhisperCPP verifies the binaries and model file. whisper-cli maps the
// weights on each run, so there is nothing else to keep in memory.
func LoadWhisperCPP(cfg WhisperCPPConfig, exec executor.Executor) LoadFunc {
	return func(ctx context.Context) (Model, error) {
		bin, err := exec.LookPath(cfg.BinaryPath)
		if err != nil {
			return nil, fmt.Errorf("whisper binary %q: %w", cfg.BinaryPath, err)
		}
		ffmpeg, err := exec.LookPath(cfg.FFmpegPath)
		if err != nil {
			return nil, fmt.Errorf("ffmpeg binary %q: %w", cfg.FFmpegPath, err)
		}
		info, err := os.Stat(cfg.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("whisper model: %w", err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("whisper model %q is a directory", cfg.ModelPath)
		}
		cfg.BinaryPath = bin
		cfg.FFmpegPath = ffmpeg
		return &whisperCPP{cfg: cfg, exec: exec}, nil
	}
}

func (w *whisperCPP) Segments(ctx context.Context, audioPath string) iter.Seq2[Segment, error] {
	return func(yield func(Segment, error) bool) {
		workDir, err := os.MkdirTemp("", "whisper-*")
		if err != nil {
			yield(Segment{}, fmt.Errorf("create work dir: %w", err))
			return
		}
		defer os.RemoveAll(workDir)

		wavPath := filepath.Join(workDir, "audio.wav")
		if err := w.normalize(ctx, audioPath, wavPath); err != nil {
			yield(Segment{}, err)
			return
		}

		outputPrefix := filepath.Join(workDir, "transcript")
		if _, err := w.exec.Execute(ctx, w.cfg.BinaryPath, w.args(wavPath, outputPrefix)...); err != nil {
			yield(Segment{}, fmt.Errorf("whisper transcribe: %w", err))
			return
		}

		data, err := os.ReadFile(outputPrefix + ".json")
		if err != nil {
			yield(Segment{}, fmt.Errorf("read whisper output: %w", err))
			return
		}
		segments, err := parseWhisperJSON(data)
		if err != nil {
			yield(Segment{}, err)
			return
		}
		for _, seg := range segments {
			if !yield(seg, nil) {
				return
			}
		}
	}
}

// normalize converts any supported container to 16kHz mono PCM, the only
// input whisper.cpp decodes reliably.
func (w *whisperCPP) normalize(ctx context.Context, src, dst string) error {
	args := []string{
		"-nostdin",
		"-i", src,
		"-vn",
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		"-y",
		dst,
	}
	if _, err := w.exec.Execute(ctx, w.cfg.FFmpegPath, args...); err != nil {
		return fmt.Errorf("ffmpeg normalize audio: %w", err)
	}
	return nil
}

func (w *whisperCPP) args(wavPath, outputPrefix string) []string {
	s := w.cfg.Settings
	args := []string{
		"-m", w.cfg.ModelPath,
		"-f", wavPath,
		"-bs", strconv.Itoa(s.BeamSize),
		"-t", strconv.Itoa(s.Threads),
		"-l", s.Language,
		"-oj",
		"-of", outputPrefix,
		"-np",
	}
	if s.Device == "cpu" {
		args = append(args, "-ng")
	}
	return args
}

type whisperJSON struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func parseWhisperJSON(data []byte) ([]Segment, error) {
	var parsed whisperJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("invalid whisper output: %w", err)
	}
	segments := make([]Segment, 0, len(parsed.Transcription))
	for _, t := range parsed.Transcription {
		segments = append(segments, Segment{
			Start: time.Duration(t.Offsets.From) * time.Millisecond,
			End:   time.Duration(t.Offsets.To) * time.Millisecond,
			Text:  t.Text,
		})
	}
	return segments, nil
}
