package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/missiond/internal/store"
)

const (
	defaultTaskEndpoint   = "/api/v1/tasks"
	defaultBrowserTimeout = 180 * time.Second
)

// BrowserConfig configures the browser automation task client.
type BrowserConfig struct {
	BaseURL string
	// TaskEndpoint is the run-task path on the backend. Defaults to
	// /api/v1/tasks.
	TaskEndpoint string
	APIKey       string
	ArtifactDir  string
	Timeout      time.Duration
	DryRun       bool
}

// Browser executes steps against a remote browser-automation task API
// (prompt-first payload contract).
type Browser struct {
	cfg    BrowserConfig
	client *http.Client
}

// NewBrowser builds a browser executor from cfg.
func NewBrowser(cfg BrowserConfig) *Browser {
	if cfg.TaskEndpoint == "" {
		cfg.TaskEndpoint = defaultTaskEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultBrowserTimeout
	}
	return &Browser{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (b *Browser) Runtime() string { return "browser" }

// Execute submits a task with the documented fields (prompt plus
// compatible optional params), persists the raw response as a
// browser_trace artifact, and enforces the status contract.
func (b *Browser) Execute(ctx context.Context, runID, stepID, _ string, payload map[string]any) (Result, *store.Artifact, error) {
	normalized := map[string]any{}
	if prompt := firstNonEmpty(payload, "prompt", "goal"); prompt != "" {
		normalized["prompt"] = prompt
	}
	for _, key := range []string{"url", "engine"} {
		if v, ok := payload[key].(string); ok && v != "" {
			normalized[key] = v
		}
	}
	if md, ok := payload["metadata"]; ok && md != nil {
		normalized["metadata"] = md
	}

	var result Result
	if b.cfg.DryRun {
		result = Result{
			"status":   "ok",
			"run_id":   "dry-" + stepID,
			"task_id":  "dry-task-" + stepID,
			"summary":  "Simulated browser run for testing",
			"evidence": []string{"https://example.com"},
			"request":  normalized,
		}
	} else {
		var err error
		result, err = b.submitTask(ctx, normalized)
		if err != nil {
			return nil, nil, err
		}
	}

	path, checksum, err := writeArtifactFile(b.cfg.ArtifactDir, fmt.Sprintf("%s_%s_browser.json", runID, stepID), result)
	if err != nil {
		return nil, nil, err
	}
	artifact := &store.Artifact{
		ID:          "artifact-" + stepID,
		RunID:       runID,
		StepID:      stepID,
		Kind:        "browser_trace",
		Path:        path,
		ContentType: "application/json",
		Checksum:    checksum,
		Provenance:  "generated",
	}

	if err := checkStatus("browser", result); err != nil {
		return result, artifact, err
	}
	return result, artifact, nil
}

func (b *Browser) submitTask(ctx context.Context, task map[string]any) (Result, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encoding task: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+b.cfg.TaskEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building task request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		req.Header.Set("x-api-key", b.cfg.APIKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("browser task request: %w", err)
	}
	defer resp.Body.Close()

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding browser response: %w", err)
	}
	return result, nil
}

func firstNonEmpty(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
