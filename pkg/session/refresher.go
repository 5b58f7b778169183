package session

import (
	"context"
	"sync/atomic"
	"time"

	"go.llib.dev/frameless/adapter/memory"
	"go.llib.dev/frameless/pkg/logger"
	"go.llib.dev/frameless/pkg/logging"
	"go.llib.dev/frameless/pkg/pointer"
	"go.llib.dev/frameless/pkg/tasker"
	"go.llib.dev/frameless/pkg/zerokit"

	"github.com/neighborline/core/domain/community"
)

const defaultRefreshInterval = 5 * time.Minute

// refresher silently revalidates the session scoped cache entries.
//
// It is a session owned periodic task, not a free-floating process-wide
// timer: Start ties it to the session's lifetime and the returned stop
// function ends it on logout, after which no tick fires.
//
// The interval is fixed wall-clock time; there is no backoff and no pause
// while the application is not visible. Known simplification, good enough
// until measurements say otherwise.
type refresher struct {
	session  *Session
	interval time.Duration

	running atomic.Bool
	locks   *memory.LockerFactory[string]
}

// Start launches the refresher for the life of the session.
// The first tick warms the cache immediately, then one tick runs per
// interval. Calling the returned function cancels the task and waits for a
// potentially running tick to finish.
func (s *Session) Start(ctx context.Context) func() error {
	return tasker.Background(ctx, s.refresher.task()).Stop
}

// BackgroundRefreshing reports whether a silent revalidation tick is
// running right now. This is the only signal the refresher flips; the
// primary loading state observed by the UI is never touched, since a tick
// writes through Set and never turns a read into a blocking load.
func (s *Session) BackgroundRefreshing() bool {
	return s.refresher.running.Load()
}

func (r *refresher) task() tasker.Task {
	// a tick that lands while the previous one still runs is a no-op,
	// it is neither queued nor retried early
	tick := tasker.WithNoOverlap(r.getLocks().NonBlockingLockerFor("refresh"), r.tick)
	return tasker.WithRepeat(tasker.Every(r.getInterval()), tasker.OnError(tick, r.onTickError))
}

// tick revalidates the tenant resolution, and for elevated users the
// available-tenants listing too. Results are applied through Set, so
// entries stay warm without any consumer facing loading transition.
func (r *refresher) tick(ctx context.Context) error {
	r.running.Store(true)
	defer r.running.Store(false)

	s := r.session
	logger.Debug(ctx, "background session refresh tick", logging.Field("user-id", string(s.UserID)))

	// the gate flag goes first: the resolution consults it through the
	// cache, so refreshing it up front keeps the tick's store calls
	// strictly sequential
	elevated, err := s.Gate.Check(ctx, s.UserID)
	if err != nil {
		return err
	}
	s.Cache.Set(ctx, KeyElevatedAccess, elevated)

	t, found, err := s.Resolver.Resolve(ctx, s.UserID)
	if err != nil {
		return err
	}
	if found {
		s.Cache.Set(ctx, KeyActiveTenant, pointer.Of(t))
	} else {
		s.Cache.Set(ctx, KeyActiveTenant, (*community.Tenant)(nil))
	}

	if !elevated {
		return nil
	}
	all, err := s.Gate.AvailableTenants(ctx, s.UserID)
	if err != nil {
		return err
	}
	s.Cache.Set(ctx, KeyAvailableTenants, all)
	return nil
}

// Refresh failures stay at this boundary: the revalidation is invisible to
// the user, so its failures must be too. The stale entries remain served
// until a later tick or a caller initiated read succeeds.
func (r *refresher) onTickError(ctx context.Context, err error) error {
	logger.Warn(ctx, "background session refresh failed", logging.ErrField(err))
	return nil
}

func (r *refresher) getInterval() time.Duration {
	return zerokit.Coalesce(r.interval, defaultRefreshInterval)
}

func (r *refresher) getLocks() *memory.LockerFactory[string] {
	return zerokit.Init(&r.locks, memory.NewLockerFactory[string])
}
