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

const defaultDesktopTimeout = 120 * time.Second

// DesktopConfig configures the desktop automation daemon client.
type DesktopConfig struct {
	BaseURL     string
	ArtifactDir string
	Timeout     time.Duration
	DryRun      bool
}

// Desktop executes steps against a remote desktop-automation daemon.
type Desktop struct {
	cfg    DesktopConfig
	client *http.Client
}

// NewDesktop builds a desktop executor from cfg.
func NewDesktop(cfg DesktopConfig) *Desktop {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultDesktopTimeout
	}
	return &Desktop{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (d *Desktop) Runtime() string { return "desktop" }

// Execute posts {action, payload} to the daemon's execute endpoint and
// persists the raw response as a desktop_trace artifact.
func (d *Desktop) Execute(ctx context.Context, runID, stepID, action string, payload map[string]any) (Result, *store.Artifact, error) {
	var result Result
	if d.cfg.DryRun {
		result = Result{
			"status":  "ok",
			"runtime": "desktop",
			"action":  action,
			"result":  "simulated",
		}
	} else {
		var err error
		result, err = d.execute(ctx, action, payload)
		if err != nil {
			return nil, nil, err
		}
	}

	path, checksum, err := writeArtifactFile(d.cfg.ArtifactDir, fmt.Sprintf("%s_%s_desktop.json", runID, stepID), result)
	if err != nil {
		return nil, nil, err
	}
	artifact := &store.Artifact{
		ID:          "artifact-" + stepID,
		RunID:       runID,
		StepID:      stepID,
		Kind:        "desktop_trace",
		Path:        path,
		ContentType: "application/json",
		Checksum:    checksum,
		Provenance:  "generated",
	}

	if err := checkStatus("desktop", result); err != nil {
		return result, artifact, err
	}
	return result, artifact, nil
}

func (d *Desktop) execute(ctx context.Context, action string, payload map[string]any) (Result, error) {
	body, err := json.Marshal(map[string]any{"action": action, "payload": payload})
	if err != nil {
		return nil, fmt.Errorf("encoding desktop request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building desktop request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("desktop execute request: %w", err)
	}
	defer resp.Body.Close()

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding desktop response: %w", err)
	}
	return result, nil
}
