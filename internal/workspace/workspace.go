// Package workspace manages per-run scratch directories.
//
// Each pipeline task gets its own workspace under a shared parent.
// Workspaces are named with a UUID so concurrent runs never collide,
// and are removed on Close.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Workspace is a disposable scratch directory.
type Workspace struct {
	root string
}

// New creates a workspace directory under parent. An empty parent
// means the system temp directory. label becomes part of the directory
// name for easier debugging of leftover workspaces.
func New(parent, label string) (*Workspace, error) {
	if parent == "" {
		parent = os.TempDir()
	}
	if label == "" {
		label = "task"
	}

	root := filepath.Join(parent, fmt.Sprintf("forage-%s-%s", label, uuid.New().String()))
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	return &Workspace{root: root}, nil
}

// Root returns the workspace directory path.
func (w *Workspace) Root() string {
	return w.root
}

// Join returns a path inside the workspace.
func (w *Workspace) Join(elem ...string) string {
	return filepath.Join(append([]string{w.root}, elem...)...)
}

// Close removes the workspace and everything in it.
func (w *Workspace) Close() error {
	if w.root == "" {
		return nil
	}
	if err := os.RemoveAll(w.root); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	w.root = ""
	return nil
}
