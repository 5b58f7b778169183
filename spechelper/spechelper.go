// Package spechelper provides the shared test doubles of the module.
package spechelper

import (
	"context"
	"sync"
	"time"

	"go.llib.dev/testcase/random"

	"github.com/neighborline/core/domain/community"
	"github.com/neighborline/core/pkg/stalecache"
)

var rnd = random.New(random.CryptoSeed{})

func MakeTenant() community.Tenant {
	return community.Tenant{
		ID:        community.TenantID(rnd.UUID()),
		Name:      rnd.StringNC(12, random.CharsetAlpha()),
		CreatedBy: community.UserID(rnd.UUID()),
		CreatedAt: rnd.Time(),
	}
}

func MakeUserID() community.UserID {
	return community.UserID(rnd.UUID())
}

// StubStore is a scripted remote.Store with per-operation call counters,
// programmable failure and latency injection.
type StubStore struct {
	Elevated    bool
	Created     []community.Tenant
	Memberships []community.Tenant
	All         []community.Tenant
	// Err, when set, is returned by every operation.
	Err error
	// Delay makes every operation take this long.
	Delay time.Duration

	mu          sync.Mutex
	counts      map[string]int
	inFlight    int
	maxInFlight int
}

func (s *StubStore) CheckElevatedAccess(ctx context.Context, userID community.UserID) (bool, error) {
	defer s.begin("CheckElevatedAccess")()
	if err := s.getErr(); err != nil {
		return false, err
	}
	return s.Elevated, nil
}

func (s *StubStore) ListTenantsCreatedBy(ctx context.Context, userID community.UserID) ([]community.Tenant, error) {
	defer s.begin("ListTenantsCreatedBy")()
	if err := s.getErr(); err != nil {
		return nil, err
	}
	return s.Created, nil
}

func (s *StubStore) ListActiveMemberships(ctx context.Context, userID community.UserID) ([]community.Tenant, error) {
	defer s.begin("ListActiveMemberships")()
	if err := s.getErr(); err != nil {
		return nil, err
	}
	return s.Memberships, nil
}

func (s *StubStore) ListAllTenants(ctx context.Context, userID community.UserID) ([]community.Tenant, error) {
	defer s.begin("ListAllTenants")()
	if err := s.getErr(); err != nil {
		return nil, err
	}
	return s.All, nil
}

// SetErr scripts the failure every subsequent operation returns.
func (s *StubStore) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

// Count reports how many times the named operation ran.
func (s *StubStore) Count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[op]
}

// MaxInFlight reports the highest number of concurrently running operations.
func (s *StubStore) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

func (s *StubStore) getErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Err
}

func (s *StubStore) begin(op string) (end func()) {
	s.mu.Lock()
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[op]++
	s.inFlight++
	if s.maxInFlight < s.inFlight {
		s.maxInFlight = s.inFlight
	}
	delay := s.Delay
	s.mu.Unlock()
	if 0 < delay {
		time.Sleep(delay)
	}
	return func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}
}

// CountingSource is a stalecache.Source double with per-key fetch counters,
// failure and latency injection.
type CountingSource struct {
	// Values maps keys to the value a fetch returns.
	Values map[stalecache.Key]any
	// Err, when set, fails every fetch.
	Err error
	// Delay makes every fetch take this long.
	Delay time.Duration

	mu          sync.Mutex
	counts      map[stalecache.Key]int
	inFlight    int
	maxInFlight int
}

func (s *CountingSource) Fetch(ctx context.Context, key stalecache.Key) (any, error) {
	s.mu.Lock()
	if s.counts == nil {
		s.counts = make(map[stalecache.Key]int)
	}
	s.counts[key]++
	s.inFlight++
	if s.maxInFlight < s.inFlight {
		s.maxInFlight = s.inFlight
	}
	delay, err := s.Delay, s.Err
	value := s.Values[key]
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()
	if 0 < delay {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// SetValue scripts what subsequent fetches of the key return.
func (s *CountingSource) SetValue(key stalecache.Key, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Values == nil {
		s.Values = make(map[stalecache.Key]any)
	}
	s.Values[key] = value
}

// SetErr scripts the failure every subsequent fetch returns.
func (s *CountingSource) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

// FetchCount reports how many fetches ran for the key.
func (s *CountingSource) FetchCount(key stalecache.Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}

// MaxInFlight reports the highest number of concurrently running fetches.
func (s *CountingSource) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}
