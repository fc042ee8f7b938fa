package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"minuteflow/internal/app"
	"minuteflow/internal/config"
)

var version = "v0.1.0"

// Env is what the commands need from the outside world.
type Env struct {
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
	LoadConfig func() (config.Config, error)
	Build      func(cfg config.Config, logger *slog.Logger) (*app.App, error)
}

func DefaultEnv() Env {
	return Env{
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		LoadConfig: config.Load,
		Build: func(cfg config.Config, logger *slog.Logger) (*app.App, error) {
			return app.New(cfg, logger)
		},
	}
}

var errSummarizationFailed = errors.New("minutes could not be generated, no document written")

func NewRootCommand(env Env) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "minuteflow",
		Short: "Turn meeting recordings and transcripts into minutes and a PDF",
		Long: `minuteflow transcribes a meeting recording (mp3, wav, m4a, m4b) or reads a
transcript, asks an LLM for structured meeting minutes and renders them to PDF.

The LLM backend and speech model are configured through environment variables
or a .env file; see "minuteflow doctor".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.SetIn(env.Stdin)
	root.SetOut(env.Stdout)
	root.SetErr(env.Stderr)
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "verbose output")

	setup := func() (*app.App, error) {
		cfg, err := env.LoadConfig()
		if err != nil {
			return nil, err
		}
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		} else if level == "info" {
			level = "warn"
		}
		return env.Build(cfg, newLogger(env.Stderr, level))
	}

	root.AddCommand(
		newGenerateCommand(env, setup),
		newRenderCommand(),
		newTemplatesCommand(env),
		newDoctorCommand(env, setup),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	env := DefaultEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewRootCommand(env).ExecuteContext(ctx); err != nil {
		_, _ = io.WriteString(env.Stderr, "Error: "+err.Error()+"\n")
		return 1
	}
	return 0
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "error":
		slogLevel = slog.LevelError
	case "info":
		slogLevel = slog.LevelInfo
	default:
		slogLevel = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slogLevel}))
}
