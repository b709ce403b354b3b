package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArtifactDir_PerRuntimeSubtrees(t *testing.T) {
	root := filepath.Join("workspace", "runs")

	browser := artifactDir(root, "browser")
	desktop := artifactDir(root, "desktop")

	assert.Equal(t, filepath.Join(root, "artifacts", "browser"), browser)
	assert.Equal(t, filepath.Join(root, "artifacts", "desktop"), desktop)
	assert.NotEqual(t, browser, desktop)
	assert.NotEqual(t, root, browser)
}
