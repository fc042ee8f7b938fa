package transcription

import (
	"context"
	"iter"
	"sync"
	"time"
)

// Segment is one time-ordered piece of recognized speech.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Model is a loaded speech-recognition model. Segments runs full-file batch
// recognition lazily: nothing happens until the sequence is ranged over, and
// the first non-nil error ends it.
type Model interface {
	Segments(ctx context.Context, audioPath string) iter.Seq2[Segment, error]
}

// Settings is the fixed decoding profile shared by every backend.
type Settings struct {
	Size        string
	Device      string
	ComputeType string
	BeamSize    int
	Language    string
	Threads     int
}

func DefaultSettings() Settings {
	return Settings{
		Size:        "base",
		Device:      "cpu",
		ComputeType: "int8",
		BeamSize:    5,
		Language:    "auto",
		Threads:     4,
	}
}

type LoadFunc func(ctx context.Context) (Model, error)

// Loader constructs the model at most once per process. A failed load is
// remembered and returned to every later caller.
type Loader struct {
	load LoadFunc

	once  sync.Once
	model Model
	err   error
}

func NewLoader(load LoadFunc) *Loader {
	return &Loader{load: load}
}

func (l *Loader) Model(ctx context.Context) (Model, error) {
	l.once.Do(func() {
		// The first caller's cancellation must not poison the process-wide model.
		l.model, l.err = l.load(context.WithoutCancel(ctx))
	})
	return l.model, l.err
}
