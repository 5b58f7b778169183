package stalecache_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.llib.dev/frameless/pkg/resilience"
	"go.llib.dev/testcase"
	"go.llib.dev/testcase/assert"
	"go.llib.dev/testcase/clock/timecop"
	"go.llib.dev/testcase/let"

	"github.com/neighborline/core/pkg/stalecache"
	"github.com/neighborline/core/port/remote"
	"github.com/neighborline/core/spechelper"
)

var _ stalecache.Source = stalecache.SourceFunc(nil)

const key = stalecache.Key("greeting")

func TestCache(t *testing.T) {
	s := testcase.NewSpec(t)

	var (
		Context = let.Context(s)
		source  = testcase.Let(s, func(t *testcase.T) *spechelper.CountingSource {
			return &spechelper.CountingSource{
				Values: map[stalecache.Key]any{key: "hello"},
			}
		})
	)
	subject := testcase.Let(s, func(t *testcase.T) *stalecache.Cache {
		c := &stalecache.Cache{
			Source:      source.Get(t),
			RetryPolicy: resilience.FixedDelay{Attempts: 3, Delay: time.Millisecond},
		}
		t.Defer(c.Close)
		return c
	})

	s.Describe("#Get", func(s *testcase.Spec) {
		s.Then("a missing entry blocks on a synchronous fetch", func(t *testcase.T) {
			value, err := subject.Get(t).Get(Context.Get(t), key)
			assert.NoError(t, err)
			assert.Equal[any](t, "hello", value)
			assert.Equal(t, 1, source.Get(t).FetchCount(key))
		})

		s.Then("a read within the staleness window never triggers a network call", func(t *testcase.T) {
			_, err := subject.Get(t).Get(Context.Get(t), key)
			assert.NoError(t, err)
			_, err = subject.Get(t).Get(Context.Get(t), key)
			assert.NoError(t, err)
			assert.Equal(t, 1, source.Get(t).FetchCount(key))
		})

		s.When("the source resolves to nothing", func(s *testcase.Spec) {
			source.Let(s, func(t *testcase.T) *spechelper.CountingSource {
				return &spechelper.CountingSource{Values: map[stalecache.Key]any{key: nil}}
			})

			s.Then("the nil answer is cached, distinct from a never fetched entry", func(t *testcase.T) {
				value, err := subject.Get(t).Get(Context.Get(t), key)
				assert.NoError(t, err)
				assert.Nil(t, value)

				value, err = subject.Get(t).Get(Context.Get(t), key)
				assert.NoError(t, err)
				assert.Nil(t, value)
				assert.Equal(t, 1, source.Get(t).FetchCount(key))
				assert.True(t, subject.Get(t).Contains(key))
			})
		})

		s.When("the entry went stale but is not evicted yet", func(s *testcase.Spec) {
			s.Before(func(t *testcase.T) {
				_, err := subject.Get(t).Get(Context.Get(t), key)
				assert.NoError(t, err)
				source.Get(t).SetValue(key, "hello, again")
				timecop.Travel(t, 6*time.Minute)
			})

			s.Then("the previous value is returned immediately and one refetch runs in the background", func(t *testcase.T) {
				value, err := subject.Get(t).Get(Context.Get(t), key)
				assert.NoError(t, err)
				assert.Equal[any](t, "hello", value)

				assert.Eventually(t, time.Second, func(it testing.TB) {
					assert.Equal(it, 2, source.Get(t).FetchCount(key))
				})
				assert.Eventually(t, time.Second, func(it testing.TB) {
					value, err := subject.Get(t).Get(Context.Get(t), key)
					assert.NoError(it, err)
					assert.Equal[any](it, "hello, again", value)
				})
			})

			s.And("many readers race on the stale entry", func(s *testcase.Spec) {
				s.Before(func(t *testcase.T) {
					source.Get(t).Delay = 50 * time.Millisecond
				})

				s.Then("the refetch is deduplicated, never running concurrently for the key", func(t *testcase.T) {
					for i := 0; i < 3; i++ {
						value, err := subject.Get(t).Get(Context.Get(t), key)
						assert.NoError(t, err)
						assert.Equal[any](t, "hello", value)
					}
					assert.Eventually(t, time.Second, func(it testing.TB) {
						assert.Equal(it, 2, source.Get(t).FetchCount(key))
					})
					assert.NoError(t, subject.Get(t).Close()) // join the remaining scheduled no-ops
					assert.Equal(t, 1, source.Get(t).MaxInFlight())
					assert.Equal(t, 2, source.Get(t).FetchCount(key), "the raced reads must have shared a single refetch")
				})
			})

			s.And("the background refetch keeps failing", func(s *testcase.Spec) {
				s.Before(func(t *testcase.T) {
					source.Get(t).SetErr(fmt.Errorf("flaky backend: %w", remote.ErrNetwork))
				})

				s.Then("reads slide the eviction window, so the stale value outlives the default disuse window", func(t *testcase.T) {
					value, err := subject.Get(t).Get(Context.Get(t), key)
					assert.NoError(t, err)
					assert.Equal[any](t, "hello", value)

					timecop.Travel(t, 9*time.Minute)

					value, err = subject.Get(t).Get(Context.Get(t), key)
					assert.NoError(t, err)
					assert.Equal[any](t, "hello", value)
				})
			})
		})

		s.When("the entry got evicted by disuse", func(s *testcase.Spec) {
			s.Before(func(t *testcase.T) {
				_, err := subject.Get(t).Get(Context.Get(t), key)
				assert.NoError(t, err)
				source.Get(t).SetValue(key, "hello, again")
				timecop.Travel(t, 11*time.Minute)
			})

			s.Then("the read blocks on a fresh fetch as if the key was never seen", func(t *testcase.T) {
				value, err := subject.Get(t).Get(Context.Get(t), key)
				assert.NoError(t, err)
				assert.Equal[any](t, "hello, again", value)
				assert.Equal(t, 2, source.Get(t).FetchCount(key))
			})
		})

		s.When("the source fails with a transient network error", func(s *testcase.Spec) {
			source.Let(s, func(t *testcase.T) *spechelper.CountingSource {
				return &spechelper.CountingSource{Err: fmt.Errorf("timeout: %w", remote.ErrNetwork)}
			})

			s.Then("the fetch is retried up to two times before the failure surfaces", func(t *testcase.T) {
				_, err := subject.Get(t).Get(Context.Get(t), key)
				assert.ErrorIs(t, remote.ErrNetwork, err)
				assert.Equal(t, 3, source.Get(t).FetchCount(key))
			})
		})

		s.When("the source fails with an authentication error", func(s *testcase.Spec) {
			source.Let(s, func(t *testcase.T) *spechelper.CountingSource {
				return &spechelper.CountingSource{Err: remote.ErrAuth}
			})

			s.Then("no retry is attempted and the error surfaces immediately", func(t *testcase.T) {
				_, err := subject.Get(t).Get(Context.Get(t), key)
				assert.ErrorIs(t, remote.ErrAuth, err)
				assert.Equal(t, 1, source.Get(t).FetchCount(key))
			})
		})
	})

	s.Describe("#Set", func(s *testcase.Spec) {
		s.Then("the write is synchronous and bypasses the source", func(t *testcase.T) {
			subject.Get(t).Set(Context.Get(t), key, "written")

			value, err := subject.Get(t).Get(Context.Get(t), key)
			assert.NoError(t, err)
			assert.Equal[any](t, "written", value)
			assert.Equal(t, 0, source.Get(t).FetchCount(key))
		})

		s.Then("the write resets the freshness clock", func(t *testcase.T) {
			_, err := subject.Get(t).Get(Context.Get(t), key)
			assert.NoError(t, err)

			timecop.Travel(t, 4*time.Minute)
			subject.Get(t).Set(Context.Get(t), key, "written")
			timecop.Travel(t, 4*time.Minute)

			value, err := subject.Get(t).Get(Context.Get(t), key)
			assert.NoError(t, err)
			assert.Equal[any](t, "written", value)
			assert.Equal(t, 1, source.Get(t).FetchCount(key), "8 minutes after the fetch, the 4 minute old optimistic write is still fresh")
		})

		s.Then("an in-flight refetch result does not clobber a newer optimistic write", func(t *testcase.T) {
			_, err := subject.Get(t).Get(Context.Get(t), key)
			assert.NoError(t, err)

			source.Get(t).Delay = 50 * time.Millisecond
			source.Get(t).SetValue(key, "from the refetch")
			timecop.Travel(t, 6*time.Minute)

			_, err = subject.Get(t).Get(Context.Get(t), key) // schedules the slow refetch
			assert.NoError(t, err)
			subject.Get(t).Set(Context.Get(t), key, "optimistic")

			assert.Waiter{WaitDuration: 150 * time.Millisecond}.Wait() // let the refetch land
			value, err := subject.Get(t).Get(Context.Get(t), key)
			assert.NoError(t, err)
			assert.Equal[any](t, "optimistic", value, "the outdated refetch result must be discarded")
		})
	})

	s.Describe("#Invalidate", func(s *testcase.Spec) {
		s.Then("the entry goes stale immediately without an eager refetch", func(t *testcase.T) {
			_, err := subject.Get(t).Get(Context.Get(t), key)
			assert.NoError(t, err)
			source.Get(t).SetValue(key, "fresher")

			subject.Get(t).Invalidate(Context.Get(t), key)
			assert.Equal(t, 1, source.Get(t).FetchCount(key), "invalidation itself must not fetch")

			value, err := subject.Get(t).Get(Context.Get(t), key)
			assert.NoError(t, err)
			assert.Equal[any](t, "hello", value, "the stale value is still served while the refetch runs")
			assert.Eventually(t, time.Second, func(it testing.TB) {
				assert.Equal(it, 2, source.Get(t).FetchCount(key))
			})
		})

		s.Then("invalidating an absent key is a no-op", func(t *testcase.T) {
			subject.Get(t).Invalidate(Context.Get(t), "no-such-key")
			assert.Equal(t, 0, source.Get(t).FetchCount("no-such-key"))
		})
	})

	s.Describe("#Close", func(s *testcase.Spec) {
		s.Then("reads after close are refused", func(t *testcase.T) {
			assert.NoError(t, subject.Get(t).Close())
			_, err := subject.Get(t).Get(Context.Get(t), key)
			assert.ErrorIs(t, stalecache.ErrClosed, err)
		})

		s.Then("closing twice is fine", func(t *testcase.T) {
			assert.NoError(t, subject.Get(t).Close())
			assert.NoError(t, subject.Get(t).Close())
		})
	})
}

func TestGetAs(t *testing.T) {
	ctx := context.Background()
	source := &spechelper.CountingSource{Values: map[stalecache.Key]any{
		"n":    42,
		"none": nil,
	}}
	c := &stalecache.Cache{Source: source}
	defer c.Close()

	t.Run("typed read", func(t *testing.T) {
		n, err := stalecache.GetAs[int](ctx, c, "n")
		assert.NoError(t, err)
		assert.Equal(t, 42, n)
	})

	t.Run("cached nil yields the zero value", func(t *testing.T) {
		n, err := stalecache.GetAs[int](ctx, c, "none")
		assert.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("type mismatch is an error", func(t *testing.T) {
		_, err := stalecache.GetAs[string](ctx, c, "n")
		assert.Error(t, err)
	})
}
