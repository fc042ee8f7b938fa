package minutes

import (
	"errors"
	"strings"
	"testing"
)

func TestFailTextKeepsErrorPrefix(t *testing.T) {
	r := Fail("Groq", errors.New("rate limited"))
	if r.OK() {
		t.Fatal("expected failed result")
	}
	if got, want := r.Text(), "An error occurred with the Groq API: rate limited"; got != want {
		t.Fatalf("unexpected text: got %q want %q", got, want)
	}
	if r.Markdown() != "" {
		t.Fatalf("failed result must not expose markdown: %q", r.Markdown())
	}
}

func TestFailureUnwraps(t *testing.T) {
	cause := errors.New("boom")
	r := Fail("Gemini", cause)
	if !errors.Is(r.Failure(), cause) {
		t.Fatal("expected failure to wrap its cause")
	}
}

func TestParseDetectsLegacyErrorText(t *testing.T) {
	r := Parse("An error occurred: timeout")
	if r.OK() {
		t.Fatal("expected failed result")
	}
	if r.Text() != "An error occurred: timeout" {
		t.Fatalf("text must be preserved verbatim: %q", r.Text())
	}
	if r.Failure().Err.Error() != "timeout" {
		t.Fatalf("unexpected failure message: %q", r.Failure().Err)
	}
}

func TestParseKeepsMinutes(t *testing.T) {
	md := "## Action Items\n- Alice: send the report"
	r := Parse(md)
	if !r.OK() || r.Markdown() != md || r.Text() != md {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestSuccessNeverStartsWithPrefixForMinutes(t *testing.T) {
	r := Success("## Summary", nil)
	if strings.HasPrefix(r.Text(), ErrorPrefix) {
		t.Fatal("unexpected prefix")
	}
}
