package services

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/sponsor/internal/models"
	"github.com/charlesng35/sponsor/internal/permissions"
	apperrors "github.com/charlesng35/sponsor/pkg/errors"
	"github.com/charlesng35/sponsor/pkg/logger"
	"github.com/charlesng35/sponsor/pkg/metrics"
)

// Audit results recorded for successful mutations.
const auditResultSuccess = "success"

// Settings is the administrative view of the singleton state.
type Settings struct {
	TimerLimit     uint64   `json:"timer_limit"`
	MaxCallPerUser uint16   `json:"max_call_per_user"`
	Managers       []string `json:"managers"`
	Controllers    []string `json:"controllers,omitempty"`
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the time source used for last_use and cooldown checks.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithAuditService records every successful mutation.
func WithAuditService(audit *AuditService) RegistryOption {
	return func(r *Registry) {
		r.audit = audit
	}
}

// WithControllerLister exposes configured controllers in the settings view.
func WithControllerLister(list func() []string) RegistryOption {
	return func(r *Registry) {
		r.controllers = list
	}
}

// Registry owns the param records and administrative state and applies the
// authorization rules to every operation on them.
type Registry struct {
	params ParamStore
	state  AdminStateStore
	guard  *permissions.Guard
	audit  *AuditService

	controllers func() []string
	now         func() time.Time

	// mu serialises every mutation so each one is atomic with respect to
	// other calls on this instance.
	mu sync.Mutex
}

// NewRegistry wires the registry around its stores and guard.
func NewRegistry(params ParamStore, state AdminStateStore, guard *permissions.Guard, opts ...RegistryOption) (*Registry, error) {
	if params == nil {
		return nil, errors.New("registry: param store is required")
	}
	if state == nil {
		return nil, errors.New("registry: admin state store is required")
	}
	if guard == nil {
		return nil, errors.New("registry: guard is required")
	}

	r := &Registry{
		params: params,
		state:  state,
		guard:  guard,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// GetParam returns the record for key, or nil when none exists.
func (r *Registry) GetParam(ctx context.Context, key string) (*models.ParamRecord, error) {
	rec, ok, err := r.params.Get(ensureContext(ctx), key)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

// IsParamWhitelisted reports the whitelist flag of key; absent keys are not whitelisted.
func (r *Registry) IsParamWhitelisted(ctx context.Context, key string) (bool, error) {
	rec, err := r.GetParam(ctx, key)
	if err != nil || rec == nil {
		return false, err
	}
	return rec.IsWhitelisted, nil
}

// IsParamTimeAvailable reports whether more than timer_limit nanoseconds have
// elapsed since the last logged use of key. A last_use in the future counts as
// no time elapsed. The result is advisory; LogParamUsage does not consult it.
func (r *Registry) IsParamTimeAvailable(ctx context.Context, key string) (bool, error) {
	rec, err := r.GetParam(ctx, key)
	if err != nil || rec == nil {
		return false, err
	}

	state, err := r.state.Load(ensureContext(ctx))
	if err != nil {
		return false, err
	}

	now := r.nowNanos()
	var elapsed uint64
	if now > rec.LastUse {
		elapsed = now - rec.LastUse
	}
	return elapsed > state.TimerLimit, nil
}

// IsManagerCanister reports whether principal is currently a trusted manager.
func (r *Registry) IsManagerCanister(ctx context.Context, principal string) (bool, error) {
	state, err := r.state.Load(ensureContext(ctx))
	if err != nil {
		return false, err
	}
	return state.IsManager(principal), nil
}

// IsController reports whether caller is an administrator.
func (r *Registry) IsController(ctx context.Context, caller string) (bool, error) {
	return r.guard.IsController(ensureContext(ctx), caller)
}

// WhitelistParam stores rec under key verbatim and returns the previous record,
// if any. Admin only.
func (r *Registry) WhitelistParam(ctx context.Context, caller, key string, rec models.ParamRecord) (*models.ParamRecord, error) {
	ctx = ensureContext(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.authorize(ctx, caller, permissions.OpWhitelistParam, nil); err != nil {
		return nil, err
	}

	prior, existed, err := r.params.Put(ctx, key, rec)
	if err != nil {
		return nil, err
	}

	recordAudit(r.audit, ctx, AuditEntry{
		Principal: caller,
		Action:    permissions.OpWhitelistParam,
		Resource:  key,
		Result:    auditResultSuccess,
		Metadata: map[string]any{
			"is_whitelisted": rec.IsWhitelisted,
			"is_principal":   rec.IsPrincipal,
			"replaced":       existed,
		},
	})

	if !existed {
		return nil, nil
	}
	return &prior, nil
}

// LogParamUsage records one use of key on behalf of a trusted manager: the
// count is incremented and last_use advanced to the current time. last_use
// never moves backwards even if the clock does.
func (r *Registry) LogParamUsage(ctx context.Context, caller, key string) (models.ParamRecord, error) {
	ctx = ensureContext(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.state.Load(ctx)
	if err != nil {
		metrics.UsageLogs.WithLabelValues("error").Inc()
		return models.ParamRecord{}, err
	}

	logger.WithModule("registry").Debug("usage log requested",
		zap.String("caller", caller),
		zap.Bool("manager", state.IsManager(caller)),
	)

	if err := r.authorize(ctx, caller, permissions.OpLogParamUsage, &state); err != nil {
		metrics.UsageLogs.WithLabelValues(usageResult(err)).Inc()
		return models.ParamRecord{}, err
	}

	now := r.nowNanos()
	updated, err := r.params.Update(ctx, key, func(current models.ParamRecord, exists bool) (models.ParamRecord, error) {
		if !exists {
			return current, apperrors.ErrParamNotDefined
		}
		if current.Count == math.MaxUint32 {
			return current, apperrors.ErrCountExhausted
		}
		if now > current.LastUse {
			current.LastUse = now
		}
		current.Count++
		return current, nil
	})
	if err != nil {
		metrics.UsageLogs.WithLabelValues(usageResult(err)).Inc()
		return models.ParamRecord{}, err
	}

	metrics.UsageLogs.WithLabelValues("logged").Inc()
	recordAudit(r.audit, ctx, AuditEntry{
		Principal: caller,
		Action:    permissions.OpLogParamUsage,
		Resource:  key,
		Result:    auditResultSuccess,
		Metadata: map[string]any{
			"count":    updated.Count,
			"last_use": updated.LastUse,
		},
	})

	return updated, nil
}

// SetTimerLimit replaces the global cooldown threshold (nanoseconds). Admin only.
func (r *Registry) SetTimerLimit(ctx context.Context, caller string, limit uint64) error {
	return r.mutateState(ctx, caller, permissions.OpSetTimerLimit, "timer_limit",
		map[string]any{"timer_limit": limit},
		func(state *models.AdminState) { state.TimerLimit = limit },
	)
}

// SetMaxCallsPerUser stores the reserved per-user call limit. Nothing enforces
// it. Admin only.
func (r *Registry) SetMaxCallsPerUser(ctx context.Context, caller string, limit uint16) error {
	return r.mutateState(ctx, caller, permissions.OpSetMaxCallsPerUser, "max_call_per_user",
		map[string]any{"max_call_per_user": limit},
		func(state *models.AdminState) { state.MaxCallPerUser = limit },
	)
}

// EditManagerCanister grants or revokes manager trust for principal. Entries
// are flipped, never removed. Admin only.
func (r *Registry) EditManagerCanister(ctx context.Context, caller, principal string, enabled bool) error {
	return r.mutateState(ctx, caller, permissions.OpEditManager, principal,
		map[string]any{"enabled": enabled},
		func(state *models.AdminState) { state.Managers[principal] = enabled },
	)
}

// Settings returns the administrative state. Admin only.
func (r *Registry) Settings(ctx context.Context, caller string) (Settings, error) {
	ctx = ensureContext(ctx)

	if err := r.authorize(ctx, caller, permissions.OpViewSettings, nil); err != nil {
		return Settings{}, err
	}

	state, err := r.state.Load(ctx)
	if err != nil {
		return Settings{}, err
	}

	settings := Settings{
		TimerLimit:     state.TimerLimit,
		MaxCallPerUser: state.MaxCallPerUser,
		Managers:       make([]string, 0, len(state.Managers)),
	}
	for _, principal := range state.ManagerPrincipals() {
		if state.Managers[principal] {
			settings.Managers = append(settings.Managers, principal)
		}
	}
	if r.controllers != nil {
		settings.Controllers = r.controllers()
	}
	return settings, nil
}

// AuditTrail lists recorded mutations. Admin only.
func (r *Registry) AuditTrail(ctx context.Context, caller string, opts AuditListOptions) ([]models.AuditLog, int64, error) {
	ctx = ensureContext(ctx)

	if err := r.authorize(ctx, caller, permissions.OpViewAudit, nil); err != nil {
		return nil, 0, err
	}
	if r.audit == nil {
		return []models.AuditLog{}, 0, nil
	}
	return r.audit.List(ctx, opts)
}

// Authorize checks caller against the tier of operationID without performing
// anything. Surfaces outside the registry use it to gate admin views.
func (r *Registry) Authorize(ctx context.Context, caller, operationID string) error {
	return r.authorize(ensureContext(ctx), caller, operationID, nil)
}

func (r *Registry) mutateState(ctx context.Context, caller, operationID, resource string, meta map[string]any, apply func(*models.AdminState)) error {
	ctx = ensureContext(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.authorize(ctx, caller, operationID, nil); err != nil {
		return err
	}

	state, err := r.state.Load(ctx)
	if err != nil {
		return err
	}
	state = state.Clone()
	apply(&state)

	if err := r.state.Save(ctx, state); err != nil {
		return err
	}

	recordAudit(r.audit, ctx, AuditEntry{
		Principal: caller,
		Action:    operationID,
		Resource:  resource,
		Result:    auditResultSuccess,
		Metadata:  meta,
	})
	return nil
}

// authorize checks caller against the operation's tier. state is loaded on
// demand for manager-tier checks when the caller has not already done so.
func (r *Registry) authorize(ctx context.Context, caller, operationID string, state *models.AdminState) error {
	op, ok := permissions.Get(operationID)
	if !ok {
		return apperrors.ErrInternalServer.WithInternal(permissions.ErrUnknownOperation)
	}

	current := models.DefaultAdminState()
	if op.Tier == permissions.TierManager {
		if state == nil {
			loaded, err := r.state.Load(ctx)
			if err != nil {
				return err
			}
			state = &loaded
		}
		current = *state
	}

	return r.guard.Authorize(ctx, caller, op.Tier, current)
}

func (r *Registry) nowNanos() uint64 {
	ns := r.now().UnixNano()
	if ns < 0 {
		return 0
	}
	return uint64(ns)
}

func usageResult(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrAccessDenied):
		return "denied"
	case errors.Is(err, apperrors.ErrParamNotDefined):
		return "unknown_param"
	case errors.Is(err, apperrors.ErrCountExhausted):
		return "count_exhausted"
	default:
		return "error"
	}
}
