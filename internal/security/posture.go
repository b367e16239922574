package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/sponsor/internal/app"
	"github.com/charlesng35/sponsor/internal/services"
)

// CheckStatus captures the outcome of a posture check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

// Check contains the result of a single verification.
type Check struct {
	ID          string      `json:"id"`
	Status      CheckStatus `json:"status"`
	Message     string      `json:"message"`
	Remediation string      `json:"remediation,omitempty"`
	Details     any         `json:"details,omitempty"`
}

// Result aggregates all checks with a simple status summary.
type Result struct {
	CheckedAt time.Time      `json:"checked_at"`
	Checks    []Check        `json:"checks"`
	Summary   map[string]int `json:"summary"`
}

const maxRecommendedTokenTTL = time.Hour

// Auditor evaluates the registry's configuration and administrative state for
// settings that leave it unusable or weakly protected.
type Auditor struct {
	state services.AdminStateStore
	cfg   *app.Config
	now   func() time.Time
}

// NewAuditor constructs the auditor. Both dependencies are optional; missing
// inputs degrade specific checks to warnings.
func NewAuditor(state services.AdminStateStore, cfg *app.Config) *Auditor {
	return &Auditor{
		state: state,
		cfg:   cfg,
		now:   time.Now,
	}
}

// WithClock overrides the clock used in results.
func (a *Auditor) WithClock(clock func() time.Time) {
	if clock != nil {
		a.now = clock
	}
}

// Run executes all checks and returns their outcome.
func (a *Auditor) Run(ctx context.Context) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	checks := []Check{
		a.checkControllers(),
		a.checkJWTSecret(),
		a.checkTokenTTL(),
		a.checkManagers(ctx),
		a.checkAuditRetention(),
	}

	summary := map[string]int{
		string(StatusPass): 0,
		string(StatusWarn): 0,
		string(StatusFail): 0,
	}
	for _, check := range checks {
		summary[string(check.Status)]++
	}

	return Result{
		CheckedAt: a.now().UTC(),
		Checks:    checks,
		Summary:   summary,
	}
}

func (a *Auditor) configMissing(id string) Check {
	return Check{
		ID:          id,
		Status:      StatusWarn,
		Message:     "Configuration not loaded; unable to evaluate.",
		Remediation: "Load configuration before running the posture check.",
	}
}

func (a *Auditor) checkControllers() Check {
	if a.cfg == nil {
		return a.configMissing("controllers_configured")
	}

	controllers := a.cfg.Sponsor.ControllerPrincipals()
	if len(controllers) == 0 {
		return Check{
			ID:          "controllers_configured",
			Status:      StatusFail,
			Message:     "No controllers configured; every admin operation will be denied.",
			Remediation: "List at least one principal under sponsor.controllers.",
		}
	}
	return Check{
		ID:      "controllers_configured",
		Status:  StatusPass,
		Message: fmt.Sprintf("%d controller(s) configured.", len(controllers)),
		Details: map[string]any{"count": len(controllers)},
	}
}

func (a *Auditor) checkJWTSecret() Check {
	if a.cfg == nil {
		return a.configMissing("jwt_secret_strength")
	}

	length := len(strings.TrimSpace(a.cfg.Auth.JWT.Secret))
	switch {
	case length == 0:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusFail,
			Message:     "Missing identity token signing secret.",
			Remediation: "Provide a cryptographically secure signing secret (>= 32 bytes).",
		}
	case length < 32:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusFail,
			Message:     fmt.Sprintf("Signing secret is too short (%d bytes).", length),
			Remediation: "Use a randomly generated secret of at least 32 bytes.",
			Details:     map[string]any{"length": length},
		}
	case length < 48:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Signing secret is %d bytes. Consider increasing to 48+ bytes.", length),
			Remediation: "Increase the length of SPONSOR_AUTH_JWT_SECRET to at least 48 bytes.",
			Details:     map[string]any{"length": length},
		}
	default:
		return Check{
			ID:      "jwt_secret_strength",
			Status:  StatusPass,
			Message: fmt.Sprintf("Signing secret length is %d bytes.", length),
			Details: map[string]any{"length": length},
		}
	}
}

func (a *Auditor) checkTokenTTL() Check {
	if a.cfg == nil {
		return a.configMissing("identity_token_ttl")
	}

	ttl := a.cfg.Auth.JWTServiceConfig().TokenTTL
	if ttl > maxRecommendedTokenTTL {
		return Check{
			ID:          "identity_token_ttl",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Identity token TTL (%s) exceeds recommended maximum (%s).", ttl, maxRecommendedTokenTTL),
			Remediation: "Reduce auth.jwt.token_ttl; relays mint a fresh token per call.",
			Details:     map[string]any{"ttl": ttl.String()},
		}
	}
	return Check{
		ID:      "identity_token_ttl",
		Status:  StatusPass,
		Message: fmt.Sprintf("Identity token TTL is %s.", ttl),
		Details: map[string]any{"ttl": ttl.String()},
	}
}

func (a *Auditor) checkManagers(ctx context.Context) Check {
	if a.state == nil {
		return Check{
			ID:          "trusted_managers",
			Status:      StatusWarn,
			Message:     "Admin state unavailable; unable to count trusted managers.",
			Remediation: "Ensure database connectivity before running the posture check.",
		}
	}

	state, err := a.state.Load(ctx)
	if err != nil {
		return Check{
			ID:          "trusted_managers",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Could not load admin state: %v", err),
			Remediation: "Retry after resolving database errors.",
		}
	}

	trusted := 0
	for _, enabled := range state.Managers {
		if enabled {
			trusted++
		}
	}
	if trusted == 0 {
		return Check{
			ID:          "trusted_managers",
			Status:      StatusWarn,
			Message:     "No trusted managers; every usage log will be denied.",
			Remediation: "Grant manager trust with PUT /api/managers/:principal.",
			Details:     map[string]any{"known": len(state.Managers)},
		}
	}
	return Check{
		ID:      "trusted_managers",
		Status:  StatusPass,
		Message: fmt.Sprintf("%d trusted manager(s).", trusted),
		Details: map[string]any{"trusted": trusted, "known": len(state.Managers)},
	}
}

func (a *Auditor) checkAuditRetention() Check {
	if a.cfg == nil {
		return a.configMissing("audit_retention")
	}

	days := a.cfg.Audit.RetentionDays
	if days <= 0 {
		return Check{
			ID:          "audit_retention",
			Status:      StatusWarn,
			Message:     "Audit retention disabled; the audit trail grows without bound.",
			Remediation: "Set audit.retention_days to a positive number of days.",
		}
	}
	return Check{
		ID:      "audit_retention",
		Status:  StatusPass,
		Message: fmt.Sprintf("Audit entries are kept for %d days.", days),
		Details: map[string]any{"retention_days": days},
	}
}
