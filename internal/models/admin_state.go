package models

import "sort"

// AdminState is the process-wide administrative singleton: delegated managers
// and the global cooldown threshold.
type AdminState struct {
	// Managers maps a caller principal to whether it is currently trusted.
	// Entries are flipped, never removed.
	Managers map[string]bool `json:"managers"`
	// TimerLimit is the per-param cooldown in nanoseconds.
	TimerLimit uint64 `json:"timer_limit"`
	// MaxCallPerUser is reserved configuration; nothing enforces it.
	MaxCallPerUser uint16 `json:"max_call_per_user"`
}

// DefaultAdminState returns the state used on first start.
func DefaultAdminState() AdminState {
	return AdminState{Managers: map[string]bool{}}
}

// IsManager reports whether principal is a trusted manager. Absent and
// untrusted entries are treated identically.
func (s AdminState) IsManager(principal string) bool {
	return s.Managers[principal]
}

// ManagerPrincipals returns every principal ever delegated, sorted.
func (s AdminState) ManagerPrincipals() []string {
	out := make([]string, 0, len(s.Managers))
	for principal := range s.Managers {
		out = append(out, principal)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy so callers can mutate without touching the original.
func (s AdminState) Clone() AdminState {
	cp := s
	cp.Managers = make(map[string]bool, len(s.Managers))
	for principal, trusted := range s.Managers {
		cp.Managers[principal] = trusted
	}
	return cp
}
