package app

import (
	"strings"

	"github.com/charlesng35/sponsor/internal/models"
)

// AdminStateDefaults returns the administrative state used before anything
// has been persisted.
func (c SponsorConfig) AdminStateDefaults() models.AdminState {
	state := models.DefaultAdminState()
	if c.TimerLimit > 0 {
		state.TimerLimit = uint64(c.TimerLimit)
	}
	state.MaxCallPerUser = c.MaxCallPerUser
	return state
}

// ControllerPrincipals returns the configured administrators without blanks or duplicates.
func (c SponsorConfig) ControllerPrincipals() []string {
	return uniquePrincipals(c.Controllers)
}

// CallerPrincipals returns the principals allowed to drive the relay without
// blanks or duplicates. Empty means any authenticated caller.
func (c RelayConfig) CallerPrincipals() []string {
	return uniquePrincipals(c.AllowedCallers)
}

func uniquePrincipals(principals []string) []string {
	seen := make(map[string]struct{}, len(principals))
	out := make([]string, 0, len(principals))
	for _, principal := range principals {
		principal = strings.TrimSpace(principal)
		if principal == "" {
			continue
		}
		if _, ok := seen[principal]; ok {
			continue
		}
		seen[principal] = struct{}{}
		out = append(out, principal)
	}
	return out
}
