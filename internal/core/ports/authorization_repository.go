package ports

import (
	"context"
	"time"

	"authjobs/internal/core/domain/model/authorization"
	"authjobs/internal/core/domain/model/kernel"
)

// AuthorizationRepository reads payment authorizations. The scheduler never
// writes them; status changes happen inside the payment gateway.
type AuthorizationRepository interface {
	// Get returns errs.ObjectNotFoundError for unknown ids.
	Get(ctx context.Context, id kernel.UUID) (*authorization.Authorization, error)

	ListByStatuses(ctx context.Context, statuses ...authorization.Status) ([]*authorization.Authorization, error)

	// ListConfirmationExpired returns Pending authorizations whose
	// confirmation deadline is at or before now.
	ListConfirmationExpired(ctx context.Context, now time.Time) ([]*authorization.Authorization, error)

	// ListCaptureExpired returns Confirmed authorizations whose capture
	// deadline is at or before now.
	ListCaptureExpired(ctx context.Context, now time.Time) ([]*authorization.Authorization, error)

	// ListConfirmedWithFutureAutoCapture returns Confirmed authorizations
	// whose auto-capture instant is after now.
	ListConfirmedWithFutureAutoCapture(ctx context.Context, now time.Time) ([]*authorization.Authorization, error)
}
