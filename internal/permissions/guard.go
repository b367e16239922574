package permissions

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/charlesng35/sponsor/internal/models"
	apperrors "github.com/charlesng35/sponsor/pkg/errors"
	"github.com/charlesng35/sponsor/pkg/logger"
	"github.com/charlesng35/sponsor/pkg/metrics"
)

// Guard decides whether a caller may invoke an operation. Admin status comes
// from the IdentityAuthority, manager status from the persisted AdminState.
type Guard struct {
	authority IdentityAuthority
}

// NewGuard constructs a guard around the supplied identity authority.
func NewGuard(authority IdentityAuthority) (*Guard, error) {
	if authority == nil {
		return nil, errors.New("guard: identity authority is required")
	}
	return &Guard{authority: authority}, nil
}

// IsController reports whether caller is an administrator.
func (g *Guard) IsController(ctx context.Context, caller string) (bool, error) {
	ok, err := g.authority.IsController(ensureContext(ctx), caller)
	if err != nil {
		return false, fmt.Errorf("guard: identity authority: %w", err)
	}
	return ok, nil
}

// Authorize returns nil when caller satisfies tier. A denial is reported as
// apperrors.ErrAccessDenied; failures of the identity authority are returned
// as-is so they are never mistaken for a denial.
func (g *Guard) Authorize(ctx context.Context, caller string, tier Tier, state models.AdminState) error {
	var (
		allowed bool
		err     error
	)

	switch tier {
	case TierNone:
		allowed = true
	case TierManager:
		allowed = state.IsManager(caller)
	case TierAdmin:
		allowed, err = g.IsController(ctx, caller)
	default:
		err = fmt.Errorf("guard: %w: %s", errInvalidTier, tier)
	}

	log := logger.WithModule("guard")
	if err != nil {
		metrics.GuardDecisions.WithLabelValues(tier.String(), "error").Inc()
		log.Error("authorization check failed",
			zap.String("caller", caller),
			zap.Stringer("tier", tier),
			zap.Error(err),
		)
		return err
	}

	if !allowed {
		metrics.GuardDecisions.WithLabelValues(tier.String(), "denied").Inc()
		log.Info("access denied",
			zap.String("caller", caller),
			zap.Stringer("tier", tier),
		)
		return apperrors.ErrAccessDenied
	}

	metrics.GuardDecisions.WithLabelValues(tier.String(), "allowed").Inc()
	log.Debug("access granted",
		zap.String("caller", caller),
		zap.Stringer("tier", tier),
	)
	return nil
}

// AuthorizeOperation resolves the tier of a registered operation and checks it.
func (g *Guard) AuthorizeOperation(ctx context.Context, caller, operationID string, state models.AdminState) (Operation, error) {
	op, ok := Get(operationID)
	if !ok {
		return Operation{}, fmt.Errorf("%w %q", ErrUnknownOperation, operationID)
	}
	return op, g.Authorize(ctx, caller, op.Tier, state)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
