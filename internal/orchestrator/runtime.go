package orchestrator

import (
	"strings"

	"github.com/fyrsmithlabs/missiond/internal/store"
)

// Runtime names for the built-in execution surfaces.
const (
	RuntimeBrowser   = "browser"
	RuntimeDesktop   = "desktop"
	RuntimeWorkspace = "workspace"
)

// desktopHints are objective keywords that route a mission to the
// desktop runtime when no explicit override is set.
var desktopHints = []string{"excel", "desktop", "local app", "clipboard", "file explorer", "terminal"}

// selectRuntime picks the execution runtime for a mission: an explicit
// metadata.runtime override wins, then a keyword match against the
// desktop-hint vocabulary, then browser.
func selectRuntime(mission *store.Mission) string {
	if mission.Metadata != nil {
		if forced, ok := mission.Metadata["runtime"].(string); ok {
			switch forced {
			case RuntimeBrowser, RuntimeDesktop, RuntimeWorkspace:
				return forced
			}
		}
	}
	objective := strings.ToLower(mission.Objective)
	for _, hint := range desktopHints {
		if strings.Contains(objective, hint) {
			return RuntimeDesktop
		}
	}
	return RuntimeBrowser
}

// requiredPermission maps a runtime to the capability the mission must
// grant before any execution.
func requiredPermission(runtime string) string {
	if runtime == RuntimeDesktop {
		return "desktop.control"
	}
	return "web.browse"
}
