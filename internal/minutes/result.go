package minutes

import (
	"errors"
	"strings"
)

// ErrorPrefix starts every failure text shown to users. Older callers detect
// failures by this prefix, so it must not change.
const ErrorPrefix = "An error occurred"

// Failure is a summarization failure carried as data.
type Failure struct {
	Backend string
	Err     error
}

func (f *Failure) Error() string {
	if f.Backend == "" {
		return ErrorPrefix + ": " + f.Err.Error()
	}
	return ErrorPrefix + " with the " + f.Backend + " API: " + f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is either generated minutes or a Failure. Text is what the user
// sees in both cases.
type Result struct {
	text    string
	failure *Failure
	Usage   *TokenUsage
}

func Success(markdown string, usage *TokenUsage) Result {
	return Result{text: markdown, Usage: usage}
}

func Fail(backend string, err error) Result {
	f := &Failure{Backend: backend, Err: err}
	return Result{text: f.Error(), failure: f}
}

// Parse turns plain generator output into a Result, treating text that starts
// with ErrorPrefix as a failure.
func Parse(text string) Result {
	if !strings.HasPrefix(text, ErrorPrefix) {
		return Result{text: text}
	}
	msg := strings.TrimSpace(strings.TrimLeft(strings.TrimPrefix(text, ErrorPrefix), ":"))
	return Result{text: text, failure: &Failure{Err: errors.New(msg)}}
}

func (r Result) OK() bool {
	return r.failure == nil
}

func (r Result) Failure() *Failure {
	return r.failure
}

// Markdown returns the minutes, or "" for a failed result.
func (r Result) Markdown() string {
	if r.failure != nil {
		return ""
	}
	return r.text
}

func (r Result) Text() string {
	return r.text
}
