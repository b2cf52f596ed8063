package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"authjobs/internal/core/domain/model/authorization"
	"authjobs/internal/core/domain/model/kernel"
	"authjobs/internal/core/ports"
	"authjobs/internal/pkg/errs"
)

var _ ports.AuthorizationRepository = (*AuthorizationRepository)(nil)

// AuthorizationRepository holds authorizations seeded through Save.
type AuthorizationRepository struct {
	mu   sync.RWMutex
	rows map[kernel.UUID]authorization.Params
}

func NewAuthorizationRepository() *AuthorizationRepository {
	return &AuthorizationRepository{rows: make(map[kernel.UUID]authorization.Params)}
}

// Save inserts or replaces an authorization.
func (r *AuthorizationRepository) Save(_ context.Context, auth *authorization.Authorization) error {
	if err := auth.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[auth.ID()] = auth.Params()
	return nil
}

// Delete removes an authorization.
func (r *AuthorizationRepository) Delete(_ context.Context, id kernel.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
}

// SetStatus changes the stored status, as the payment service would.
func (r *AuthorizationRepository) SetStatus(_ context.Context, id kernel.UUID, status authorization.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.rows[id]
	if !ok {
		return errs.NewObjectNotFoundError("authorization", id.String())
	}
	p.Status = status
	r.rows[id] = p
	return nil
}

func (r *AuthorizationRepository) Get(_ context.Context, id kernel.UUID) (*authorization.Authorization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.rows[id]
	if !ok {
		return nil, errs.NewObjectNotFoundError("authorization", id.String())
	}
	return authorization.RestoreAuthorization(p)
}

func (r *AuthorizationRepository) ListByStatuses(_ context.Context, statuses ...authorization.Status) ([]*authorization.Authorization, error) {
	return r.filter(func(a *authorization.Authorization) bool {
		return slices.Contains(statuses, a.Status())
	})
}

func (r *AuthorizationRepository) ListConfirmationExpired(_ context.Context, now time.Time) ([]*authorization.Authorization, error) {
	return r.filter(func(a *authorization.Authorization) bool { return a.IsConfirmationExpired(now) })
}

func (r *AuthorizationRepository) ListCaptureExpired(_ context.Context, now time.Time) ([]*authorization.Authorization, error) {
	return r.filter(func(a *authorization.Authorization) bool { return a.IsCaptureExpired(now) })
}

func (r *AuthorizationRepository) ListConfirmedWithFutureAutoCapture(_ context.Context, now time.Time) ([]*authorization.Authorization, error) {
	return r.filter(func(a *authorization.Authorization) bool { return a.HasFutureAutoCapture(now) })
}

func (r *AuthorizationRepository) filter(keep func(*authorization.Authorization) bool) ([]*authorization.Authorization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*authorization.Authorization
	for _, p := range r.rows {
		a, err := authorization.RestoreAuthorization(p)
		if err != nil {
			return nil, err
		}
		if keep(a) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b *authorization.Authorization) int {
		return strings.Compare(a.ID().String(), b.ID().String())
	})
	return out, nil
}
