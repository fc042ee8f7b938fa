package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

var supportedExtensions = []string{".mp3", ".wav", ".m4a", ".m4b"}

// Input is an uploaded recording. It lives only as long as one pipeline run.
type Input struct {
	File     io.Reader
	FileName string
}

func SupportedExtensions() []string {
	return append([]string(nil), supportedExtensions...)
}

// Validate checks the file name against the accepted containers.
func (in Input) Validate() error {
	if in.File == nil {
		return errors.New("audio file is required")
	}
	ext := strings.ToLower(filepath.Ext(in.FileName))
	for _, supported := range supportedExtensions {
		if ext == supported {
			return nil
		}
	}
	return fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedFormat, ext, strings.Join(supportedExtensions, ", "))
}

// WithTempFile copies in into a private temporary directory under dir, calls
// fn with the file path and removes the directory on every exit path,
// including a panic inside fn.
func WithTempFile(ctx context.Context, dir string, in Input, fn func(ctx context.Context, path string) error) error {
	if err := in.Validate(); err != nil {
		return err
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create temp root: %w", err)
		}
	}

	tempDir, err := os.MkdirTemp(dir, "upload-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	path := filepath.Join(tempDir, "input"+strings.ToLower(filepath.Ext(in.FileName)))
	if err := writeFile(path, in.File); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, path)
}

func writeFile(path string, src io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return nil
}
