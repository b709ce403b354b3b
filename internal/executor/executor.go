// Package executor defines the execution-runtime contract and the
// built-in browser and desktop task clients.
//
// An Executor is an opaque capability: it takes an action name and a
// payload, drives a remote automation backend, and returns the raw
// response plus an artifact recording it. Additional runtimes
// (workspace, tools) satisfy the same interface and are dispatched
// identically by the orchestrator.
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/missiond/internal/store"
)

// Result is the raw decoded response of an executor backend. A
// response must carry a "status" field; "ok" signals success.
type Result map[string]any

// Executor drives one execution runtime.
type Executor interface {
	// Runtime names the execution surface (browser, desktop, ...).
	Runtime() string
	// Execute performs one action against the backend and returns the
	// decoded response and an artifact persisting it. A non-ok status
	// or transport failure is returned as an error.
	Execute(ctx context.Context, runID, stepID, action string, payload map[string]any) (Result, *store.Artifact, error)
}

// statusOf extracts the response's status field.
func statusOf(result Result) string {
	s, _ := result["status"].(string)
	return s
}

// checkStatus enforces the backend contract: status=="ok" is success,
// anything else is an executor error.
func checkStatus(runtime string, result Result) error {
	if s := statusOf(result); s != "ok" {
		return fmt.Errorf("%s executor returned status %q", runtime, s)
	}
	return nil
}

// writeArtifactFile persists result as indented JSON under dir and
// returns the path and the sha256 checksum of the stored bytes.
func writeArtifactFile(dir, name string, result Result) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating artifact dir: %w", err)
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encoding artifact: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("writing artifact: %w", err)
	}
	sum := sha256.Sum256(data)
	return path, hex.EncodeToString(sum[:]), nil
}
