// Package session is the composition root of an authenticated session:
// it owns the cache, the tenant resolution and the background refresher,
// and it defines the cache key layout the rest of the client reads through.
package session

import (
	"context"

	"go.llib.dev/frameless/pkg/pointer"

	"github.com/neighborline/core/domain/community"
	"github.com/neighborline/core/pkg/stalecache"
	"github.com/neighborline/core/pkg/tenancy"
	"github.com/neighborline/core/port/remote"
)

// Session scoped cache keys.
const (
	KeyActiveTenant     stalecache.Key = "active-tenant"
	KeyElevatedAccess   stalecache.Key = "elevated-access"
	KeyAvailableTenants stalecache.Key = "available-tenants"
)

// Tenant scoped collection keys. These are the entries that become stale
// the moment the active tenant changes.
const (
	KeyContent        stalecache.Key = "content"
	KeyMembers        stalecache.Key = "members"
	KeyEvents         stalecache.Key = "events"
	KeySafetyUpdates  stalecache.Key = "safety-updates"
	KeyGoodsExchange  stalecache.Key = "goods-exchange"
	KeySkillsExchange stalecache.Key = "skills-exchange"
	KeyCareRequests   stalecache.Key = "care-requests"
)

// DependentKeys is the fixed cascade set invalidated on a tenant switch.
func DependentKeys() []stalecache.Key {
	return []stalecache.Key{
		KeyContent,
		KeyMembers,
		KeyEvents,
		KeySafetyUpdates,
		KeyGoodsExchange,
		KeySkillsExchange,
		KeyCareRequests,
	}
}

type Session struct {
	UserID   community.UserID
	Cache    *stalecache.Cache
	Resolver tenancy.Resolver
	Gate     tenancy.Gate

	refresher refresher
}

// New wires a session for the given user.
//
// The collections source serves the tenant scoped collection keys; the
// session itself serves the tenant resolution, the elevated access flag and
// the available-tenants listing through the same cache.
func New(userID community.UserID, store remote.Store, collections stalecache.Source, conf Config) *Session {
	s := &Session{UserID: userID}
	consult := cachedAccess{session: s}
	s.Gate = tenancy.Gate{Store: store, Checker: consult}
	s.Resolver = tenancy.Resolver{Store: store, Gate: consult}
	s.Cache = &stalecache.Cache{
		Source:     stalecache.SourceFunc(s.routeFetch(collections)),
		StaleAfter: conf.StaleAfter,
		EvictAfter: conf.EvictAfter,
	}
	s.refresher.session = s
	s.refresher.interval = conf.RefreshInterval
	return s
}

// cachedAccess consults the elevated flag through the session cache.
// Every read that needs the flag, the tenant resolution included, shares
// the elevated-access entry's staleness policy this way instead of
// re-checking the remote store on each fetch; only the entry's own fetch
// and the refresher tick hit the store.
type cachedAccess struct{ session *Session }

func (c cachedAccess) Check(ctx context.Context, _ community.UserID) (bool, error) {
	return stalecache.GetAs[bool](ctx, c.session.Cache, KeyElevatedAccess)
}

func (s *Session) routeFetch(collections stalecache.Source) func(ctx context.Context, key stalecache.Key) (any, error) {
	return func(ctx context.Context, key stalecache.Key) (any, error) {
		switch key {
		case KeyActiveTenant:
			t, found, err := s.Resolver.Resolve(ctx, s.UserID)
			if err != nil {
				return nil, err
			}
			if !found {
				return (*community.Tenant)(nil), nil
			}
			return pointer.Of(t), nil
		case KeyElevatedAccess:
			return s.Gate.Check(ctx, s.UserID)
		case KeyAvailableTenants:
			return s.Gate.AvailableTenants(ctx, s.UserID)
		default:
			if collections == nil {
				return nil, nil
			}
			return collections.Fetch(ctx, key)
		}
	}
}

// ActiveTenant returns the tenant the session operates in.
// The resolution is a cache entry like any other: a cached "no tenant"
// answer is a valid value and does not hit the remote store again.
func (s *Session) ActiveTenant(ctx context.Context) (community.Tenant, bool, error) {
	t, err := stalecache.GetAs[*community.Tenant](ctx, s.Cache, KeyActiveTenant)
	if err != nil {
		return community.Tenant{}, false, err
	}
	if t == nil {
		return community.Tenant{}, false, nil
	}
	return *t, true, nil
}

// ElevatedAccess reports the cached cross-tenant access flag.
func (s *Session) ElevatedAccess(ctx context.Context) (bool, error) {
	return stalecache.GetAs[bool](ctx, s.Cache, KeyElevatedAccess)
}

// AvailableTenants returns the cached all-tenants listing.
// It is empty unless the user holds elevated access.
func (s *Session) AvailableTenants(ctx context.Context) ([]community.Tenant, error) {
	return stalecache.GetAs[[]community.Tenant](ctx, s.Cache, KeyAvailableTenants)
}

// SwitchTenant makes the given tenant the active one.
//
// It is two explicit steps composed here: an optimistic synchronous cache
// write, then the cascade invalidation of every tenant scoped collection.
// Both complete before SwitchTenant returns, so a subsequent read of the
// tenant key sees the new tenant and a subsequent read of any cascaded key
// is guaranteed to refetch. The backing store is never written.
func (s *Session) SwitchTenant(ctx context.Context, t community.Tenant) {
	s.Cache.Set(ctx, KeyActiveTenant, pointer.Of(t))
	s.Cache.Invalidate(ctx, DependentKeys()...)
}

// Close tears the session down; the cache stops revalidating in the
// background and in-flight refetch results are discarded.
func (s *Session) Close() error {
	return s.Cache.Close()
}
