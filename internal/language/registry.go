// Package language maps language identifiers to sandbox runtime specs.
package language

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultName is the submission name used when a language needs a derived
// type name and none can be extracted from the source.
const DefaultName = "Main"

// Spec describes how one language's submissions are named and run.
// Command entries may contain {file} and {name} placeholders, substituted
// with the on-disk filename and the derived submission name.
type Spec struct {
	ID        string   `yaml:"id"`
	Extension string   `yaml:"extension"`
	Image     string   `yaml:"image"`
	Command   []string `yaml:"command"`

	// NamedType marks languages whose runtime requires the filename to
	// match a declared type name (Java). The name is parsed from source.
	NamedType bool `yaml:"named_type"`
}

// Filename returns the on-disk filename for a submission in this language.
func (s Spec) Filename(source string) string {
	return s.SubmissionName(source) + s.Extension
}

// SubmissionName returns the base name for a submission. Languages without
// a filename/type-name constraint always use "main"; the rest parse the
// declared name out of the source, falling back to DefaultName.
func (s Spec) SubmissionName(source string) string {
	if !s.NamedType {
		return "main"
	}
	return deriveTypeName(source)
}

// CommandFor returns the command vector with placeholders substituted for
// the given submission.
func (s Spec) CommandFor(source string) []string {
	name := s.SubmissionName(source)
	file := name + s.Extension
	cmd := make([]string, len(s.Command))
	for i, arg := range s.Command {
		arg = strings.ReplaceAll(arg, "{file}", file)
		arg = strings.ReplaceAll(arg, "{name}", name)
		cmd[i] = arg
	}
	return cmd
}

var classPattern = regexp.MustCompile(`(?m)^\s*(?:public\s+)?(?:final\s+|abstract\s+)*class\s+(\w+)`)

// deriveTypeName extracts the first declared class name from the source.
func deriveTypeName(source string) string {
	m := classPattern.FindStringSubmatch(source)
	if m == nil {
		return DefaultName
	}
	return m[1]
}

// Registry is an immutable lookup table from language id to Spec.
type Registry struct {
	specs map[string]Spec
	order []string
}

// NewRegistry returns a registry with the built-in language table.
func NewRegistry() *Registry {
	r := &Registry{specs: make(map[string]Spec)}
	for _, s := range builtins() {
		r.add(s)
	}
	return r
}

func (r *Registry) add(s Spec) {
	if _, ok := r.specs[s.ID]; !ok {
		r.order = append(r.order, s.ID)
	}
	r.specs[s.ID] = s
}

// Resolve looks up a language by id.
func (r *Registry) Resolve(id string) (Spec, bool) {
	s, ok := r.specs[id]
	return s, ok
}

// IDs returns the configured language ids in registration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Images returns the set of runtime images referenced by the table, used to
// build the sandbox image allowlist.
func (r *Registry) Images() []string {
	seen := make(map[string]bool)
	var images []string
	for _, id := range r.order {
		img := r.specs[id].Image
		if !seen[img] {
			seen[img] = true
			images = append(images, img)
		}
	}
	return images
}

// LoadFile merges a YAML language table over the built-in one. Entries with
// an existing id replace the built-in spec; new ids extend the table, so
// adding a language needs no code change.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading language table: %w", err)
	}
	var specs []Spec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return fmt.Errorf("parsing language table: %w", err)
	}
	for _, s := range specs {
		if s.ID == "" || s.Extension == "" || s.Image == "" || len(s.Command) == 0 {
			return fmt.Errorf("language table entry %q incomplete", s.ID)
		}
		r.add(s)
	}
	return nil
}

func builtins() []Spec {
	return []Spec{
		{
			ID:        "python",
			Extension: ".py",
			Image:     "python:3.12-slim",
			Command:   []string{"python3", "-u", "{file}"},
		},
		{
			ID:        "javascript",
			Extension: ".js",
			Image:     "node:22-slim",
			Command:   []string{"node", "{file}"},
		},
		{
			ID:        "typescript",
			Extension: ".ts",
			Image:     "node:22-slim",
			Command:   []string{"npx", "-y", "tsx", "{file}"},
		},
		{
			ID:        "ruby",
			Extension: ".rb",
			Image:     "ruby:3.3-slim",
			Command:   []string{"ruby", "{file}"},
		},
		{
			ID:        "go",
			Extension: ".go",
			Image:     "golang:1.23-alpine",
			Command:   []string{"go", "run", "{file}"},
		},
		{
			ID:        "java",
			Extension: ".java",
			Image:     "eclipse-temurin:21-jdk",
			Command:   []string{"sh", "-c", "javac {file} && java {name}"},
			NamedType: true,
		},
		{
			ID:        "c",
			Extension: ".c",
			Image:     "gcc:13",
			Command:   []string{"sh", "-c", "gcc {file} -o /tmp/a.out && /tmp/a.out"},
		},
		{
			ID:        "cpp",
			Extension: ".cpp",
			Image:     "gcc:13",
			Command:   []string{"sh", "-c", "g++ {file} -o /tmp/a.out && /tmp/a.out"},
		},
	}
}
