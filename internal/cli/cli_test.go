package cli

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"minuteflow/internal/app"
	"minuteflow/internal/config"
)

func testEnv(t *testing.T, baseURL, apiKey string, stdin string) (Env, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cfg := config.Config{
		ListenAddr:     ":0",
		MaxUploadBytes: 1 << 20,
		RequestTimeout: 5 * time.Second,
		TempDir:        t.TempDir(),
		LLM: config.LLMConfig{
			Backend:     config.BackendHuggingFace,
			DisplayName: "Hugging Face",
			BaseURL:     baseURL,
			Model:       "meta-llama/Meta-Llama-3-8B-Instruct",
			APIKey:      apiKey,
			Template:    "executive",
		},
		Speech: config.SpeechConfig{
			Backend:       config.SpeechWhisperCPP,
			WhisperBinary: "minuteflow-test-missing-whisper",
			FFmpegBinary:  "minuteflow-test-missing-ffmpeg",
			ModelPath:     filepath.Join(t.TempDir(), "missing.bin"),
			BeamSize:      5,
			Threads:       1,
		},
	}
	return Env{
		Stdin:      strings.NewReader(stdin),
		Stdout:     &stdout,
		Stderr:     &stderr,
		LoadConfig: func() (config.Config, error) { return cfg, nil },
		Build: func(cfg config.Config, _ *slog.Logger) (*app.App, error) {
			return app.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
		},
	}, &stdout, &stderr
}

func run(env Env, args ...string) error {
	cmd := NewRootCommand(env)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func chatServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestGenerateFromStdinWritesPDF(t *testing.T) {
	ts := chatServer(t, http.StatusOK, `{"choices":[{"message":{"content":"## Action Items\n- Alice: draft the agenda"}}]}`)
	env, stdout, stderr := testEnv(t, ts.URL, "", "Alice will draft the agenda.")
	outDir := t.TempDir()

	if err := run(env, "generate", "--transcript", "-", "--api-key", "hf_test", "--out", outDir); err != nil {
		t.Fatalf("generate error = %v stderr=%s", err, stderr.String())
	}
	if !strings.Contains(stderr.String(), "minutes generated, document meeting_minutes_") {
		t.Fatalf("status line missing: %q", stderr.String())
	}
	if !strings.Contains(stdout.String(), "Alice: draft the agenda") {
		t.Fatalf("minutes not printed: %q", stdout.String())
	}
	matches, _ := filepath.Glob(filepath.Join(outDir, "meeting_minutes_*.pdf"))
	if len(matches) != 1 {
		t.Fatalf("expected one PDF, found %v", matches)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil || !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("invalid PDF: %v", err)
	}
}

func TestGenerateWithoutCredentialFails(t *testing.T) {
	env, _, _ := testEnv(t, "http://127.0.0.1:1", "", "hello")
	err := run(env, "generate", "--transcript", "-")
	if err == nil || !strings.Contains(err.Error(), "--api-key") {
		t.Fatalf("expected credential error, got %v", err)
	}
}

func TestGenerateSummarizationFailurePrintsErrorText(t *testing.T) {
	ts := chatServer(t, http.StatusServiceUnavailable, `{"error":"model loading"}`)
	env, stdout, stderr := testEnv(t, ts.URL, "hf_env", "hello")
	outDir := t.TempDir()

	err := run(env, "generate", "--transcript", "-", "--out", outDir)
	if !errors.Is(err, errSummarizationFailed) {
		t.Fatalf("expected summarization failure, got %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "An error occurred with the Hugging Face API:") {
		t.Fatalf("unexpected output: %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "summarization failed, no document produced") {
		t.Fatalf("status line missing: %q", stderr.String())
	}
	if matches, _ := filepath.Glob(filepath.Join(outDir, "*.pdf")); len(matches) != 0 {
		t.Fatalf("no PDF may be written: %v", matches)
	}
}

func TestGenerateRequiresExactlyOneInput(t *testing.T) {
	env, _, _ := testEnv(t, "http://127.0.0.1:1", "key", "")
	if err := run(env, "generate"); err == nil {
		t.Fatal("expected error without input")
	}
}

func TestGenerateAudioReportsTranscriptionFailure(t *testing.T) {
	env, _, _ := testEnv(t, "http://127.0.0.1:1", "key", "")
	path := filepath.Join(t.TempDir(), "call.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	err := run(env, "generate", "--audio", path)
	if err == nil || !strings.Contains(err.Error(), "transcription load failed") {
		t.Fatalf("expected transcription error, got %v", err)
	}
}

func TestRenderWritesNamedFile(t *testing.T) {
	env, _, _ := testEnv(t, "", "", "")
	dir := t.TempDir()
	src := filepath.Join(dir, "minutes.md")
	if err := os.WriteFile(src, []byte("## Summary\nShipped."), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	dest := filepath.Join(dir, "out.pdf")

	if err := run(env, "render", src, "--out", dest); err != nil {
		t.Fatalf("render error = %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil || !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("invalid PDF: %v", err)
	}
}

func TestRenderRefusesErrorText(t *testing.T) {
	env, _, _ := testEnv(t, "", "", "")
	src := filepath.Join(t.TempDir(), "minutes.md")
	if err := os.WriteFile(src, []byte("An error occurred: timeout"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := run(env, "render", src); err == nil {
		t.Fatal("expected error")
	}
}

func TestTemplatesListsBuiltins(t *testing.T) {
	env, stdout, _ := testEnv(t, "", "", "")
	if err := run(env, "templates"); err != nil {
		t.Fatalf("templates error = %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, "executive (active)") || !strings.Contains(out, "decisions") {
		t.Fatalf("unexpected listing: %q", out)
	}
}

func TestDoctorFailsWithoutSpeechModel(t *testing.T) {
	env, stdout, _ := testEnv(t, "", "", "")
	if err := run(env, "doctor", "--api-key", "hf_test"); err == nil {
		t.Fatal("expected doctor failure")
	}
	out := stdout.String()
	if !strings.Contains(out, "[FAIL] speech model") || !strings.Contains(out, "[ok  ] credential") {
		t.Fatalf("unexpected report: %q", out)
	}
}
