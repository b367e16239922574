package permissions

import (
	"context"
	"sort"
	"strings"
)

// IdentityAuthority answers whether a principal is an administrator
// (controller) of this service. Administrator identity is never stored by the
// registry itself.
type IdentityAuthority interface {
	IsController(ctx context.Context, principal string) (bool, error)
}

// StaticAuthority is an IdentityAuthority backed by a fixed controller list,
// typically loaded from configuration at start-up.
type StaticAuthority struct {
	controllers map[string]struct{}
}

// NewStaticAuthority builds an authority from the supplied controller principals.
// Blank entries are ignored.
func NewStaticAuthority(controllers []string) *StaticAuthority {
	set := make(map[string]struct{}, len(controllers))
	for _, principal := range controllers {
		principal = strings.TrimSpace(principal)
		if principal == "" {
			continue
		}
		set[principal] = struct{}{}
	}
	return &StaticAuthority{controllers: set}
}

// IsController implements IdentityAuthority.
func (a *StaticAuthority) IsController(_ context.Context, principal string) (bool, error) {
	if a == nil {
		return false, nil
	}
	_, ok := a.controllers[principal]
	return ok, nil
}

// Controllers returns the configured controller principals, sorted.
func (a *StaticAuthority) Controllers() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.controllers))
	for principal := range a.controllers {
		out = append(out, principal)
	}
	sort.Strings(out)
	return out
}
