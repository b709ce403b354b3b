// Package policy gates mission execution: permission checks against the
// mission's granted set and a per-domain human-review table. Both checks
// fail closed.
package policy

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/missiond/internal/store"
)

// ViolationError reports permissions required by the selected runtime
// that the mission does not grant.
type ViolationError struct {
	Missing []string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("policy: missing permissions: [%s]", strings.Join(e.Missing, ", "))
}

// DomainPolicy configures gating for one mission domain.
type DomainPolicy struct {
	BlockedDomains      []string
	RequiresHumanReview bool
}

// Gate holds the static domain-policy table. The table is fixed at
// construction so concurrent orchestrators never interfere.
type Gate struct {
	domains map[string]DomainPolicy
}

// NewGate returns a gate with the default domain table: regulated
// domains (finance, health) require human review, everything else runs
// unattended.
func NewGate() *Gate {
	return NewGateWithPolicies(map[string]DomainPolicy{
		"finance": {BlockedDomains: []string{"*"}, RequiresHumanReview: true},
		"health":  {BlockedDomains: []string{"*"}, RequiresHumanReview: true},
		"general": {},
	})
}

// NewGateWithPolicies returns a gate over a caller-supplied table. The
// table is copied.
func NewGateWithPolicies(domains map[string]DomainPolicy) *Gate {
	copied := make(map[string]DomainPolicy, len(domains))
	for k, v := range domains {
		copied[k] = v
	}
	return &Gate{domains: copied}
}

// CheckPermissions verifies that every permission in required is present
// in the mission's permission set. It returns a *ViolationError naming
// the missing permissions otherwise.
func (g *Gate) CheckPermissions(mission *store.Mission, required []string) error {
	granted := make(map[string]struct{}, len(mission.Permissions))
	for _, p := range mission.Permissions {
		granted[p] = struct{}{}
	}

	var missing []string
	for _, p := range required {
		if _, ok := granted[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return &ViolationError{Missing: missing}
	}
	return nil
}

// RequiresHumanReview reports whether the mission's domain is flagged
// for review before any planning happens. Unknown domains default to no
// review.
func (g *Gate) RequiresHumanReview(mission *store.Mission) bool {
	policy, ok := g.domains[mission.Domain]
	if !ok {
		return false
	}
	return policy.RequiresHumanReview
}
