// Package tenancy decides which tenant a session operates in.
package tenancy

import (
	"context"

	"github.com/neighborline/core/domain/community"
	"github.com/neighborline/core/port/remote"
)

// Checker tells whether a user holds elevated, cross-tenant access.
// Gate is the canonical implementation; read paths that already hold the
// flag in a cache supply a cached consultation instead, so the flag shares
// one staleness policy across every read that consults it.
type Checker interface {
	Check(ctx context.Context, userID community.UserID) (bool, error)
}

// CheckerFunc supplies the Checker interface for a plain function.
type CheckerFunc func(ctx context.Context, userID community.UserID) (bool, error)

func (fn CheckerFunc) Check(ctx context.Context, userID community.UserID) (bool, error) {
	return fn(ctx, userID)
}

// Gate answers whether a user holds elevated, cross-tenant access.
//
// When the gate is open, the user may pick any tenant on the platform
// through AvailableTenants; membership scoping is bypassed entirely.
// Whether this should remain a durable role or become a per-request
// capability grant is an open product question; the current behaviour
// is a durable per-user flag.
type Gate struct {
	Store remote.Store
	// Checker overrides how AvailableTenants consults the elevated flag.
	//
	// default: a direct Store check
	Checker Checker
}

// Check consults the remote store directly.
// It is the authoritative read that cache entries revalidate from.
func (g Gate) Check(ctx context.Context, userID community.UserID) (bool, error) {
	return g.Store.CheckElevatedAccess(ctx, userID)
}

// AvailableTenants lists every tenant for elevated users,
// and an empty listing for everyone else.
func (g Gate) AvailableTenants(ctx context.Context, userID community.UserID) ([]community.Tenant, error) {
	elevated, err := g.consult(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !elevated {
		return []community.Tenant{}, nil
	}
	return g.Store.ListAllTenants(ctx, userID)
}

func (g Gate) consult(ctx context.Context, userID community.UserID) (bool, error) {
	if g.Checker != nil {
		return g.Checker.Check(ctx, userID)
	}
	return g.Check(ctx, userID)
}

// Resolver picks the active tenant of a user.
//
// Precedence, first match wins:
//
//  1. tenants created by the user, most recently created first
//  2. the first tenant where the user holds an active membership
//  3. none
//
// Elevated access does not short-circuit the precedence: an elevated user
// still gets a default tenant picked the same way, the elevation only
// unlocks the Gate's all-tenants listing for switching.
//
// Resolve performs reads only; remote failures propagate to the caller,
// who decides between keeping the last-good cached value or surfacing it.
type Resolver struct {
	Store remote.Store
	Gate  Checker
}

func (r Resolver) Resolve(ctx context.Context, userID community.UserID) (community.Tenant, bool, error) {
	if _, err := r.Gate.Check(ctx, userID); err != nil {
		return community.Tenant{}, false, err
	}
	created, err := r.Store.ListTenantsCreatedBy(ctx, userID)
	if err != nil {
		return community.Tenant{}, false, err
	}
	if 0 < len(created) {
		return mostRecentlyCreated(created), true, nil
	}
	joined, err := r.Store.ListActiveMemberships(ctx, userID)
	if err != nil {
		return community.Tenant{}, false, err
	}
	if 0 < len(joined) {
		return joined[0], true, nil
	}
	return community.Tenant{}, false, nil
}

func mostRecentlyCreated(ts []community.Tenant) community.Tenant {
	out := ts[0]
	for _, t := range ts[1:] {
		if out.CreatedAt.Before(t.CreatedAt) {
			out = t
		}
	}
	return out
}
