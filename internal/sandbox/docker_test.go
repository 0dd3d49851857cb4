package sandbox

import (
	"testing"

	"github.com/coderoom/coderoom/internal/language"
)

func TestLooksLikeInputPrompt(t *testing.T) {
	tests := []struct {
		chunk string
		want  bool
	}{
		{"Enter your name: ", true},
		{"age:", true},
		{"Continue? ", true},
		{"input something", true},
		{"Please type your input", true},
		{"hello world\n", false},
		{"done.\n", false},
		// Known false positive, kept for compatibility.
		{"ratio is 3:", true},
	}
	for _, tt := range tests {
		if got := looksLikeInputPrompt(tt.chunk); got != tt.want {
			t.Errorf("looksLikeInputPrompt(%q) = %v, want %v", tt.chunk, got, tt.want)
		}
	}
}

func TestDockerRunner_UnsupportedLanguage(t *testing.T) {
	r := NewDockerRunner(DefaultPolicy(), language.NewRegistry())
	_, err := r.Start(Request{
		SessionID:    "s1",
		WorkspaceDir: t.TempDir(),
		Language:     "brainfuck",
		Source:       "+",
	}, func(Event) {})
	if err == nil {
		t.Fatal("expected error for unknown language")
	}
}

func TestPolicy_IsImageAllowed(t *testing.T) {
	p := Policy{Images: []string{"python:3.12-slim"}}
	if !p.IsImageAllowed("python:3.12-slim") {
		t.Error("listed image should be allowed")
	}
	if p.IsImageAllowed("node:22-slim") {
		t.Error("unlisted image should be rejected")
	}

	open := Policy{}
	if !open.IsImageAllowed("anything") {
		t.Error("empty allowlist permits any image")
	}
}
