package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
)

// stdinFilename is the literal name stdin is written under in the workspace,
// per spec.md §4.1/§6.
const stdinFilename = "stdin"

// workspace is a per-job temporary directory that serves as the compile-phase
// working directory and, after chroot, the run-phase root.
type workspace struct {
	path string
}

// newWorkspace creates a fresh directory under the host's temporary area,
// writable only to the worker, and writes the source and stdin files into
// it. Failure is fatal to the request.
func newWorkspace(recipe LanguageRecipe, code, stdin []byte) (*workspace, error) {
	dir, err := os.MkdirTemp("", "sandbox-worker-*")
	if err != nil {
		return nil, fmt.Errorf("workspace: create temp dir: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("workspace: chmod temp dir: %w", err)
	}

	w := &workspace{path: dir}

	if err := w.writeFile(recipe.SourceFilename, code); err != nil {
		w.destroy()
		return nil, err
	}
	if err := w.writeFile(stdinFilename, stdin); err != nil {
		w.destroy()
		return nil, err
	}

	return w, nil
}

// writeFile writes data under name relative to the workspace root, creating
// any parent directories the recipe's source_filename may imply.
func (w *workspace) writeFile(name string, data []byte) error {
	dest := filepath.Join(w.path, name)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("workspace: create parent dirs for %s: %w", name, err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("workspace: write %s: %w", name, err)
	}
	return nil
}

// root returns the absolute workspace path.
func (w *workspace) root() string { return w.path }

// destroy removes the workspace directory and its contents. Called on every
// exit path of the Job Coordinator, success or failure.
func (w *workspace) destroy() error {
	if w.path == "" {
		return nil
	}
	return os.RemoveAll(w.path)
}
