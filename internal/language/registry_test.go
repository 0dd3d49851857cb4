package language

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()

	spec, ok := r.Resolve("python")
	if !ok {
		t.Fatal("expected python to resolve")
	}
	if spec.Extension != ".py" {
		t.Errorf("extension = %q, want .py", spec.Extension)
	}
	if spec.Image == "" {
		t.Error("expected non-empty image")
	}

	if _, ok := r.Resolve("cobol"); ok {
		t.Error("expected cobol to be unknown")
	}
}

func TestSpec_SubmissionName_Java(t *testing.T) {
	r := NewRegistry()
	java, _ := r.Resolve("java")

	tests := []struct {
		source string
		want   string
	}{
		{"public class Hello { }", "Hello"},
		{"class Solver {\n}", "Solver"},
		{"// no declaration here", "Main"},
		{"", "Main"},
		{"public final class Edge{}", "Edge"},
	}
	for _, tt := range tests {
		if got := java.SubmissionName(tt.source); got != tt.want {
			t.Errorf("SubmissionName(%q) = %q, want %q", tt.source, got, tt.want)
		}
	}
}

func TestSpec_CommandFor(t *testing.T) {
	r := NewRegistry()

	py, _ := r.Resolve("python")
	cmd := py.CommandFor("print(1)")
	if len(cmd) != 3 || cmd[2] != "main.py" {
		t.Errorf("python command = %v, want [...main.py]", cmd)
	}

	java, _ := r.Resolve("java")
	cmd = java.CommandFor("public class Hello {}")
	if cmd[len(cmd)-1] != "javac Hello.java && java Hello" {
		t.Errorf("java command = %v", cmd)
	}
	if java.Filename("public class Hello {}") != "Hello.java" {
		t.Error("java filename and command disagree")
	}
}

func TestRegistry_LoadFile(t *testing.T) {
	table := `
- id: elixir
  extension: .exs
  image: elixir:1.17-slim
  command: ["elixir", "{file}"]
- id: python
  extension: .py
  image: python:3.13-slim
  command: ["python3", "-u", "{file}"]
`
	path := filepath.Join(t.TempDir(), "languages.yaml")
	if err := os.WriteFile(path, []byte(table), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	if err := r.LoadFile(path); err != nil {
		t.Fatal(err)
	}

	// New entry extends the table.
	ex, ok := r.Resolve("elixir")
	if !ok || ex.Image != "elixir:1.17-slim" {
		t.Errorf("elixir = %+v, ok=%v", ex, ok)
	}

	// Existing id is replaced, not duplicated.
	py, _ := r.Resolve("python")
	if py.Image != "python:3.13-slim" {
		t.Errorf("python image = %q, want override", py.Image)
	}
	count := 0
	for _, id := range r.IDs() {
		if id == "python" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("python listed %d times", count)
	}
}

func TestRegistry_LoadFile_Incomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "languages.yaml")
	if err := os.WriteFile(path, []byte("- id: broken\n  extension: .x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewRegistry()
	if err := r.LoadFile(path); err == nil {
		t.Error("expected error for incomplete entry")
	}
}

func TestRegistry_Images(t *testing.T) {
	r := NewRegistry()
	images := r.Images()
	seen := make(map[string]bool)
	for _, img := range images {
		if seen[img] {
			t.Errorf("duplicate image %q", img)
		}
		seen[img] = true
	}
	if !seen["gcc:13"] {
		t.Error("expected shared gcc image in list")
	}
}
