// Package quota enforces per-plan resource ceilings. Limits are soft: the
// check happens before a create, so concurrent creates can briefly overshoot
// and nothing existing is ever deleted to get back under.
package quota

import (
	"context"
	"fmt"
)

// Resource classes with plan ceilings.
const (
	ResourceTracks  = "tracks"
	ResourceArtists = "artists"
	ResourceStaff   = "staff"
	ResourceVault   = "vault"
)

// Unlimited is the limit value meaning no ceiling applies.
const Unlimited = -1

type usageStore interface {
	PlanLimit(ctx context.Context, orgID, resourceClass string) (int, error)
	ResourceCount(ctx context.Context, orgID, resourceClass string) (int, error)
}

type Check struct {
	Resource string `json:"resource"`
	Limit    int    `json:"limit"`
	Current  int    `json:"current"`
	Allowed  bool   `json:"allowed"`
}

type Limiter struct {
	store usageStore
}

func NewLimiter(store usageStore) *Limiter {
	return &Limiter{store: store}
}

// Allow reports whether one more resource of the class fits under the
// organization's plan. Personal workspaces pass an empty orgID and are
// never limited.
func (l *Limiter) Allow(ctx context.Context, orgID, resourceClass string) (Check, error) {
	check := Check{Resource: resourceClass, Limit: Unlimited, Allowed: true}
	if orgID == "" {
		return check, nil
	}

	limit, err := l.store.PlanLimit(ctx, orgID, resourceClass)
	if err != nil {
		return check, fmt.Errorf("load plan limit: %w", err)
	}
	check.Limit = limit
	if limit == Unlimited {
		return check, nil
	}

	current, err := l.store.ResourceCount(ctx, orgID, resourceClass)
	if err != nil {
		return check, fmt.Errorf("count %s: %w", resourceClass, err)
	}
	check.Current = current
	check.Allowed = current < limit
	return check, nil
}
