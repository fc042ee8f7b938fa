package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"minuteflow/internal/config"
	"minuteflow/internal/document"
	"minuteflow/internal/executor"
	"minuteflow/internal/minutes"
	"minuteflow/internal/pipeline"
	"minuteflow/internal/transcription"
	"minuteflow/internal/upstream/openai"
)

// Metrics is what the services report to. observability.Metrics satisfies it.
type Metrics interface {
	ObserveUpstream(endpoint string, status int, duration time.Duration)
	pipeline.Observer
}

type App struct {
	Config      config.Config
	Logger      *slog.Logger
	Templates   map[string]minutes.Template
	Transcriber *transcription.Service
	Generator   *minutes.Generator
	Renderer    *document.Renderer
	Pipeline    *pipeline.Service
}

type options struct {
	metrics  Metrics
	executor executor.Executor
	now      func() time.Time
}

type Option func(*options)

func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithExecutor(e executor.Executor) Option {
	return func(o *options) { o.executor = e }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New composes the services shared by the API server and the CLI. Nothing
// remote is contacted until the first request.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	o := options{executor: executor.New(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	templates, err := minutes.LoadTemplates(cfg.LLM.TemplatesFile)
	if err != nil {
		return nil, err
	}
	tmpl, ok := templates[cfg.LLM.Template]
	if !ok {
		return nil, fmt.Errorf("unknown template %q (available: %v)", cfg.LLM.Template, minutes.TemplateNames(templates))
	}

	httpClient := NewHTTPClient(cfg.RequestTimeout)
	var clientOpts []openai.Option
	var observer openai.ObserverFunc
	if o.metrics != nil {
		observer = o.metrics.ObserveUpstream
		clientOpts = append(clientOpts, openai.WithObserver(observer))
	}

	var backend minutes.Backend
	switch cfg.LLM.Backend {
	case config.BackendGemini:
		backend = minutes.NewGeminiBackend(cfg.LLM.BaseURL, httpClient, observer)
	default:
		backend = minutes.NewChatBackend(cfg.LLM.DisplayName, openai.New(cfg.LLM.BaseURL, "", httpClient, clientOpts...))
	}
	generator, err := minutes.New(backend, minutes.Options{
		Model:       cfg.LLM.Model,
		Template:    tmpl,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger.With("component", "minutes"))
	if err != nil {
		return nil, err
	}

	settings := transcription.Settings{
		Size:        cfg.Speech.Size,
		Device:      cfg.Speech.Device,
		ComputeType: cfg.Speech.ComputeType,
		BeamSize:    cfg.Speech.BeamSize,
		Language:    cfg.Speech.Language,
		Threads:     cfg.Speech.Threads,
	}
	var load transcription.LoadFunc
	switch cfg.Speech.Backend {
	case config.SpeechServer:
		// Local speech servers can take minutes on long recordings.
		speechClient := openai.New(cfg.Speech.ServerURL, cfg.Speech.ServerAPIKey, NewHTTPClient(0), clientOpts...)
		load = transcription.LoadServer(transcription.ServerConfig{Model: cfg.Speech.ServerModel, Settings: settings}, speechClient)
	default:
		load = transcription.LoadWhisperCPP(transcription.WhisperCPPConfig{
			BinaryPath: cfg.Speech.WhisperBinary,
			FFmpegPath: cfg.Speech.FFmpegBinary,
			ModelPath:  cfg.Speech.ModelPath,
			Settings:   settings,
		}, o.executor)
	}
	transcriber := transcription.New(transcription.NewLoader(load), cfg.Speech.Timeout, logger.With("component", "transcription"))

	renderer := document.NewRenderer()
	pipelineOpts := []pipeline.Option{
		pipeline.WithTempDir(cfg.TempDir),
		pipeline.WithClock(o.now),
		pipeline.WithLogger(logger.With("component", "pipeline")),
	}
	if o.metrics != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithObserver(o.metrics))
	}

	return &App{
		Config:      cfg,
		Logger:      logger,
		Templates:   templates,
		Transcriber: transcriber,
		Generator:   generator,
		Renderer:    renderer,
		Pipeline:    pipeline.New(transcriber, generator, renderer, pipelineOpts...),
	}, nil
}

// Check is one line of a doctor report.
type Check struct {
	Name string
	OK   bool
	Info string
}

// Doctor loads the speech model and checks that a credential is available.
// It never calls the LLM.
func (a *App) Doctor(ctx context.Context, credential string) []Check {
	checks := make([]Check, 0, 3)

	if err := a.Transcriber.Warm(ctx); err != nil {
		checks = append(checks, Check{Name: "speech model", Info: err.Error()})
	} else {
		checks = append(checks, Check{Name: "speech model", OK: true, Info: fmt.Sprintf("%s backend ready", a.Config.Speech.Backend)})
	}

	tmpl := a.Generator.Template()
	checks = append(checks, Check{Name: "template", OK: true, Info: fmt.Sprintf("%s (%s)", tmpl.Name, a.Generator)})

	if credential == "" {
		credential = a.Config.LLM.APIKey
	}
	if credential == "" {
		profile, _ := config.LookupProfile(a.Config.LLM.Backend)
		checks = append(checks, Check{Name: "credential", Info: fmt.Sprintf("no API key: set LLM_API_KEY or %s, or pass --api-key", profile.KeyEnv)})
	} else {
		checks = append(checks, Check{Name: "credential", OK: true, Info: a.Config.LLM.DisplayName + " API key present"})
	}
	return checks
}

func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

func NewLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel}))
}
