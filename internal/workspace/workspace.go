// Package workspace lays out the per-run working directories where
// inputs, executor artifacts, validator logs, and the final outcome are
// mirrored as files.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// RunPaths holds the directories of one run's workspace.
type RunPaths struct {
	Root      string
	Inputs    string
	Artifacts string
	Logs      string
	Outputs   string
}

// Workspace creates run directories under a fixed root.
type Workspace struct {
	root string
}

// New returns a workspace rooted at root.
func New(root string) *Workspace {
	return &Workspace{root: root}
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string { return w.root }

// InitRun creates the run's directory tree and returns its paths.
func (w *Workspace) InitRun(runID string) (RunPaths, error) {
	base := filepath.Join(w.root, runID)
	paths := RunPaths{
		Root:      base,
		Inputs:    filepath.Join(base, "inputs"),
		Artifacts: filepath.Join(base, "artifacts"),
		Logs:      filepath.Join(base, "logs"),
		Outputs:   filepath.Join(base, "outputs"),
	}
	for _, dir := range []string{paths.Inputs, paths.Artifacts, paths.Logs, paths.Outputs} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return RunPaths{}, fmt.Errorf("creating run directory %s: %w", dir, err)
		}
	}
	return paths, nil
}

// WriteJSON writes v as indented JSON to path.
func (w *Workspace) WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
