// Package languages holds the static language registry.
//
// The registry maps a language identifier to its execution descriptor:
// container image, run command, source file extension, and the argv forms
// used by the local backend. The table is built once at startup and never
// mutated afterwards, which keeps backend command construction auditable.
package languages

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound is returned by Get for an unknown language id.
var ErrNotFound = errors.New("language not found")

// Descriptor is the immutable per-language execution configuration.
type Descriptor struct {
	// ID is the canonical lowercase language identifier.
	ID string

	// Image is the container image used by the container backend.
	Image string

	// RunCommand is the shell command executed inside the container.
	// It reads the materialized source file and input.txt from the
	// working directory, e.g. "python code.py < input.txt".
	RunCommand string

	// Extension is the source file extension, including the dot.
	Extension string

	// RequiresCompile reports whether RunCommand includes a build step.
	RequiresCompile bool

	// LocalCompile is the argv of the local compile step, or nil when the
	// language needs no compilation. Paths are relative to the working
	// directory. The compile step never goes through a shell.
	LocalCompile []string

	// LocalRun is the argv of the local run step, or nil when the language
	// cannot be executed by the local backend.
	LocalRun []string
}

// SourceFileName returns the file name the backends materialize the source
// into, e.g. "code.py".
func (d Descriptor) SourceFileName() string {
	return "code" + d.Extension
}

// Registry is a read-only lookup table of language descriptors.
type Registry struct {
	byID map[string]Descriptor
}

// NewRegistry builds the registry with the built-in language set.
func NewRegistry() *Registry {
	r := &Registry{byID: make(map[string]Descriptor)}
	for _, d := range builtins() {
		r.byID[d.ID] = d
	}
	return r
}

// Get returns the descriptor for id, or ErrNotFound.
func (r *Registry) Get(id string) (Descriptor, error) {
	d, ok := r.byID[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d, nil
}

// IDs returns the supported language identifiers in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func builtins() []Descriptor {
	return []Descriptor{
		{
			ID:         "python",
			Image:      "python:3.9-slim",
			RunCommand: "python code.py < input.txt",
			Extension:  ".py",
			LocalRun:   []string{"python3", "code.py"},
		},
		{
			ID:         "javascript",
			Image:      "node:16-slim",
			RunCommand: "node code.js < input.txt",
			Extension:  ".js",
			LocalRun:   []string{"node", "code.js"},
		},
		{
			ID:              "java",
			Image:           "openjdk:11-slim",
			RunCommand:      "javac code.java && java Main < input.txt",
			Extension:       ".java",
			RequiresCompile: true,
		},
		{
			ID:         "go",
			Image:      "golang:1.19-alpine",
			RunCommand: "go run code.go < input.txt",
			Extension:  ".go",
		},
		{
			ID:              "rust",
			Image:           "rust:slim",
			RunCommand:      "rustc code.rs -o app && ./app < input.txt",
			Extension:       ".rs",
			RequiresCompile: true,
		},
		{
			ID:         "bash",
			Image:      "alpine",
			RunCommand: "sh code.sh < input.txt",
			Extension:  ".sh",
			LocalRun:   []string{"sh", "code.sh"},
		},
		{
			ID:              "c",
			Image:           "gcc:latest",
			RunCommand:      "gcc code.c -o app && ./app < input.txt",
			Extension:       ".c",
			RequiresCompile: true,
			LocalCompile:    []string{"gcc", "code.c", "-o", "app"},
			LocalRun:        []string{"./app"},
		},
		{
			ID:              "cpp",
			Image:           "gcc:latest",
			RunCommand:      "g++ code.cpp -o app && ./app < input.txt",
			Extension:       ".cpp",
			RequiresCompile: true,
			LocalCompile:    []string{"g++", "code.cpp", "-o", "app"},
			LocalRun:        []string{"./app"},
		},
	}
}
