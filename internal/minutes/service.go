package minutes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"minuteflow/internal/upstream/openai"
)

var (
	ErrMissingCredential = errors.New("missing API credential")
	ErrEmptyTranscript   = errors.New("transcript is empty")
	ErrEmptyResponse     = errors.New("model returned no content")
)

type Options struct {
	Model    string
	Template Template
	// MaxTokens and Temperature override the template when set.
	MaxTokens   int
	Temperature *float64
	// Timeout bounds a single request; zero leaves it to the HTTP client.
	Timeout time.Duration
}

type Generator struct {
	backend Backend
	opts    Options
	logger  *slog.Logger
}

func New(backend Backend, opts Options, logger *slog.Logger) (*Generator, error) {
	if backend == nil {
		return nil, errors.New("minutes backend is required")
	}
	opts.Model = strings.TrimSpace(opts.Model)
	if opts.Model == "" {
		return nil, errors.New("minutes model is required")
	}
	if err := opts.Template.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{backend: backend, opts: opts, logger: logger}, nil
}

func (g *Generator) Backend() string {
	return g.backend.Name()
}

func (g *Generator) Template() Template {
	return g.opts.Template
}

// Ready reports whether the backend is reachable, for backends that can tell.
func (g *Generator) Ready(ctx context.Context, credential string) error {
	checker, ok := g.backend.(interface {
		Check(ctx context.Context, credential string) error
	})
	if !ok {
		return nil
	}
	return checker.Check(ctx, credential)
}

// Generate asks the backend for meeting minutes. Every error ends up in the
// returned Result.
func (g *Generator) Generate(ctx context.Context, credential, transcript string) Result {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Fail(g.backend.Name(), ErrMissingCredential)
	}
	if strings.TrimSpace(transcript) == "" {
		return Fail(g.backend.Name(), ErrEmptyTranscript)
	}

	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	prompt := g.prompt(transcript)
	started := time.Now()
	completion, err := g.backend.Complete(ctx, credential, prompt)
	if err == nil && strings.TrimSpace(completion.Text) == "" {
		err = ErrEmptyResponse
	}
	if err != nil {
		g.logger.Warn("minutes generation failed",
			"backend", g.backend.Name(),
			"model", prompt.Model,
			"template", g.opts.Template.Name,
			"duration_ms", time.Since(started).Milliseconds(),
			"error", err,
		)
		return Fail(g.backend.Name(), err)
	}

	g.logger.Info("minutes generated",
		"backend", g.backend.Name(),
		"model", prompt.Model,
		"template", g.opts.Template.Name,
		"max_tokens", prompt.MaxTokens,
		"temperature", openai.FormatTemperature(prompt.Temperature),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return Success(strings.TrimSpace(completion.Text), completion.Usage)
}

func (g *Generator) prompt(transcript string) Prompt {
	p := Prompt{
		Model:       g.opts.Model,
		Messages:    g.opts.Template.Messages(transcript),
		MaxTokens:   g.opts.Template.MaxTokens,
		Temperature: g.opts.Template.Temperature,
	}
	if g.opts.MaxTokens > 0 {
		p.MaxTokens = g.opts.MaxTokens
	}
	if g.opts.Temperature != nil {
		p.Temperature = g.opts.Temperature
	}
	return p
}

func (g *Generator) String() string {
	return fmt.Sprintf("%s/%s (%s)", g.backend.Name(), g.opts.Model, g.opts.Template.Name)
}
