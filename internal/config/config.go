package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	BackendHuggingFace = "huggingface"
	BackendGroq        = "groq"
	BackendGemini      = "gemini"

	SpeechWhisperCPP = "whispercpp"
	SpeechServer     = "server"

	defaultEnvFile = ".env"
)

// Profile holds the defaults for one LLM backend.
type Profile struct {
	Name        string
	DisplayName string
	BaseURL     string
	Model       string
	Template    string
	KeyEnv      string
}

var profiles = map[string]Profile{
	BackendHuggingFace: {
		Name:        BackendHuggingFace,
		DisplayName: "Hugging Face",
		BaseURL:     "https://router.huggingface.co/v1",
		Model:       "meta-llama/Meta-Llama-3-8B-Instruct",
		Template:    "executive",
		KeyEnv:      "HF_API_TOKEN",
	},
	BackendGroq: {
		Name:        BackendGroq,
		DisplayName: "Groq",
		BaseURL:     "https://api.groq.com/openai/v1",
		Model:       "llama-3.1-8b-instant",
		Template:    "decisions",
		KeyEnv:      "GROQ_API_KEY",
	},
	BackendGemini: {
		Name:        BackendGemini,
		DisplayName: "Gemini",
		Model:       "gemini-2.5-flash",
		Template:    "executive",
		KeyEnv:      "GEMINI_API_KEY",
	},
}

func LookupProfile(name string) (Profile, bool) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

func BackendNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type Config struct {
	ListenAddr     string
	LogLevel       string
	MaxUploadBytes int64
	RequestTimeout time.Duration
	TempDir        string
	LLM            LLMConfig
	Speech         SpeechConfig
}

type LLMConfig struct {
	Backend       string
	DisplayName   string
	BaseURL       string
	Model         string
	APIKey        string
	Template      string
	TemplatesFile string
	MaxTokens     int
	Temperature   *float64
	Timeout       time.Duration
}

type SpeechConfig struct {
	Backend       string
	WhisperBinary string
	FFmpegBinary  string
	ModelPath     string
	ServerURL     string
	ServerAPIKey  string
	ServerModel   string
	Size          string
	Device        string
	ComputeType   string
	Language      string
	BeamSize      int
	Threads       int
	Timeout       time.Duration
	Warm          bool
}

type envConfig struct {
	ListenAddr            string `env:"LISTEN_ADDR" envDefault:":8080"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
	MaxUploadBytes        int64  `env:"MAX_UPLOAD_BYTES" envDefault:"104857600"`
	RequestTimeoutSeconds int    `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"120"`
	TempDir               string `env:"TEMP_DIR"`

	LLMBackend              string `env:"LLM_BACKEND" envDefault:"huggingface"`
	LLMBaseURL              string `env:"LLM_BASE_URL"`
	LLMModel                string `env:"LLM_MODEL"`
	LLMAPIKey               string `env:"LLM_API_KEY"`
	HFAPIToken              string `env:"HF_API_TOKEN"`
	GroqAPIKey              string `env:"GROQ_API_KEY"`
	GeminiAPIKey            string `env:"GEMINI_API_KEY"`
	LLMTemplate             string `env:"LLM_TEMPLATE"`
	TemplatesFile           string `env:"TEMPLATES_FILE"`
	LLMMaxTokens            int    `env:"LLM_MAX_TOKENS" envDefault:"0"`
	LLMTemperature          string `env:"LLM_TEMPERATURE"`
	SummarizeTimeoutSeconds int    `env:"SUMMARIZE_TIMEOUT_SECONDS" envDefault:"0"`

	SpeechBackend               string `env:"SPEECH_BACKEND" envDefault:"whispercpp"`
	WhisperBinary               string `env:"WHISPER_BINARY" envDefault:"whisper-cli"`
	FFmpegBinary                string `env:"FFMPEG_BINARY" envDefault:"ffmpeg"`
	WhisperModelPath            string `env:"WHISPER_MODEL_PATH" envDefault:"models/ggml-base.bin"`
	SpeechServerURL             string `env:"SPEECH_SERVER_URL" envDefault:"http://localhost:8000/v1"`
	SpeechServerAPIKey          string `env:"SPEECH_SERVER_API_KEY"`
	SpeechServerModel           string `env:"SPEECH_SERVER_MODEL" envDefault:"Systran/faster-whisper-base"`
	SpeechModelSize             string `env:"SPEECH_MODEL_SIZE" envDefault:"base"`
	SpeechDevice                string `env:"SPEECH_DEVICE" envDefault:"cpu"`
	SpeechComputeType           string `env:"SPEECH_COMPUTE_TYPE" envDefault:"int8"`
	SpeechLanguage              string `env:"SPEECH_LANGUAGE" envDefault:"auto"`
	SpeechBeamSize              int    `env:"SPEECH_BEAM_SIZE" envDefault:"5"`
	SpeechThreads               int    `env:"SPEECH_THREADS" envDefault:"4"`
	TranscriptionTimeoutSeconds int    `env:"TRANSCRIPTION_TIMEOUT_SECONDS" envDefault:"0"`
	SpeechWarm                  bool   `env:"SPEECH_WARM" envDefault:"false"`
}

// Load reads the process environment on top of an optional dotenv file.
// Variables already set in the environment always win over the file.
func Load() (Config, error) {
	environ, err := environment()
	if err != nil {
		return Config{}, err
	}
	return parse(environ)
}

func environment() (map[string]string, error) {
	path, explicit := os.LookupEnv("MINUTEFLOW_ENV_FILE")
	path = strings.TrimSpace(path)
	if path == "" {
		path, explicit = defaultEnvFile, false
	}

	environ := map[string]string{}
	fileEnv, err := godotenv.Read(path)
	switch {
	case err == nil:
		for k, v := range fileEnv {
			environ[k] = v
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}

	for k, v := range cenv.ToMap(os.Environ()) {
		environ[k] = v
	}
	return environ, nil
}

func parse(environ map[string]string) (Config, error) {
	var raw envConfig
	if err := cenv.ParseWithOptions(&raw, cenv.Options{Environment: environ}); err != nil {
		return Config{}, err
	}

	backend := strings.ToLower(strings.TrimSpace(raw.LLMBackend))
	profile, ok := profiles[backend]
	if !ok {
		return Config{}, fmt.Errorf("LLM_BACKEND must be one of %s", strings.Join(BackendNames(), ", "))
	}

	temperature, err := parseTemperature(raw.LLMTemperature)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:     strings.TrimSpace(raw.ListenAddr),
		LogLevel:       strings.ToLower(strings.TrimSpace(raw.LogLevel)),
		MaxUploadBytes: raw.MaxUploadBytes,
		RequestTimeout: time.Duration(raw.RequestTimeoutSeconds) * time.Second,
		TempDir:        strings.TrimSpace(raw.TempDir),
		LLM: LLMConfig{
			Backend:       backend,
			DisplayName:   profile.DisplayName,
			BaseURL:       strings.TrimRight(firstNonEmpty(raw.LLMBaseURL, profile.BaseURL), "/"),
			Model:         firstNonEmpty(raw.LLMModel, profile.Model),
			APIKey:        firstNonEmpty(raw.LLMAPIKey, backendKey(raw, backend)),
			Template:      firstNonEmpty(raw.LLMTemplate, profile.Template),
			TemplatesFile: strings.TrimSpace(raw.TemplatesFile),
			MaxTokens:     raw.LLMMaxTokens,
			Temperature:   temperature,
			Timeout:       time.Duration(raw.SummarizeTimeoutSeconds) * time.Second,
		},
		Speech: SpeechConfig{
			Backend:       strings.ToLower(strings.TrimSpace(raw.SpeechBackend)),
			WhisperBinary: strings.TrimSpace(raw.WhisperBinary),
			FFmpegBinary:  strings.TrimSpace(raw.FFmpegBinary),
			ModelPath:     strings.TrimSpace(raw.WhisperModelPath),
			ServerURL:     strings.TrimRight(strings.TrimSpace(raw.SpeechServerURL), "/"),
			ServerAPIKey:  strings.TrimSpace(raw.SpeechServerAPIKey),
			ServerModel:   strings.TrimSpace(raw.SpeechServerModel),
			Size:          strings.TrimSpace(raw.SpeechModelSize),
			Device:        strings.ToLower(strings.TrimSpace(raw.SpeechDevice)),
			ComputeType:   strings.ToLower(strings.TrimSpace(raw.SpeechComputeType)),
			Language:      strings.TrimSpace(raw.SpeechLanguage),
			BeamSize:      raw.SpeechBeamSize,
			Threads:       raw.SpeechThreads,
			Timeout:       time.Duration(raw.TranscriptionTimeoutSeconds) * time.Second,
			Warm:          raw.SpeechWarm,
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func backendKey(raw envConfig, backend string) string {
	switch backend {
	case BackendHuggingFace:
		return raw.HFAPIToken
	case BackendGroq:
		return raw.GroqAPIKey
	case BackendGemini:
		return raw.GeminiAPIKey
	}
	return ""
}

func parseTemperature(value string) (*float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("LLM_TEMPERATURE: %w", err)
	}
	return &t, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks settings only. A missing API key is allowed here: callers
// supply one per request.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT_SECONDS must be > 0")
	}
	if _, ok := profiles[c.LLM.Backend]; !ok {
		return fmt.Errorf("LLM_BACKEND must be one of %s", strings.Join(BackendNames(), ", "))
	}
	if c.LLM.Backend != BackendGemini && c.LLM.BaseURL == "" {
		return errors.New("LLM_BASE_URL must not be empty")
	}
	if c.LLM.Model == "" {
		return errors.New("LLM_MODEL must not be empty")
	}
	if c.LLM.Template == "" {
		return errors.New("LLM_TEMPLATE must not be empty")
	}
	if c.LLM.MaxTokens < 0 {
		return errors.New("LLM_MAX_TOKENS must be >= 0")
	}
	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		return errors.New("LLM_TEMPERATURE must be within [0, 2]")
	}
	if c.LLM.Timeout < 0 {
		return errors.New("SUMMARIZE_TIMEOUT_SECONDS must be >= 0")
	}

	switch c.Speech.Backend {
	case SpeechWhisperCPP:
		if c.Speech.WhisperBinary == "" || c.Speech.FFmpegBinary == "" {
			return errors.New("WHISPER_BINARY and FFMPEG_BINARY must not be empty")
		}
		if c.Speech.ModelPath == "" {
			return errors.New("WHISPER_MODEL_PATH must not be empty")
		}
	case SpeechServer:
		if c.Speech.ServerURL == "" {
			return errors.New("SPEECH_SERVER_URL must not be empty")
		}
		if c.Speech.ServerModel == "" {
			return errors.New("SPEECH_SERVER_MODEL must not be empty")
		}
	default:
		return fmt.Errorf("SPEECH_BACKEND must be %q or %q", SpeechWhisperCPP, SpeechServer)
	}
	if c.Speech.BeamSize <= 0 {
		return errors.New("SPEECH_BEAM_SIZE must be > 0")
	}
	if c.Speech.Threads <= 0 {
		return errors.New("SPEECH_THREADS must be > 0")
	}
	if c.Speech.Timeout < 0 {
		return errors.New("TRANSCRIPTION_TIMEOUT_SECONDS must be >= 0")
	}
	return nil
}
