package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"twingate/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeBackend builds a fresh store of one kind for a test
type storeBackend struct {
	name string
	new  func(t *testing.T, idle time.Duration) (Store, *fakeClock)
	// writers is how many goroutines the atomicity test races
	writers int
}

func newRedisTestStore(t *testing.T, idle time.Duration) (*RedisStore, *fakeClock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewRedisStoreWithClock(rdb, idle, clock.Now), clock, mr
}

// Redis WATCH retries are bounded, so it races fewer writers than it has retries
var storeBackends = []storeBackend{
	{
		name: "memory",
		new: func(t *testing.T, idle time.Duration) (Store, *fakeClock) {
			return newTestStore(idle)
		},
		writers: 50,
	},
	{
		name: "redis",
		new: func(t *testing.T, idle time.Duration) (Store, *fakeClock) {
			store, clock, _ := newRedisTestStore(t, idle)
			return store, clock
		},
		writers: redisMaxTxRetries,
	},
}

func forEachStore(t *testing.T, fn func(t *testing.T, b storeBackend)) {
	for _, b := range storeBackends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b)
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, b storeBackend) {
		store, _ := b.new(t, time.Hour)

		s, err := store.Get(context.Background(), 1)

		assert.NoError(t, err)
		assert.Nil(t, s)
	})
}

func TestStore_UpsertCreatesDefaults(t *testing.T) {
	forEachStore(t, func(t *testing.T, b storeBackend) {
		store, clock := b.new(t, time.Hour)

		s, err := store.Upsert(context.Background(), 42, domain.Patch{Language: strPtr("en-US")})

		require.NoError(t, err)
		assert.Equal(t, int64(42), s.UserID)
		assert.Equal(t, "en-US", s.Language)
		assert.Equal(t, 0, s.VerificationLevel)
		assert.Equal(t, domain.LevelBasic, s.CurrentLevel)
		assert.Empty(t, s.CompletedLevels)
		assert.Equal(t, clock.Now(), s.LastActivity)
	})
}

func TestStore_UpsertMergesAndRefreshesActivity(t *testing.T) {
	forEachStore(t, func(t *testing.T, b storeBackend) {
		store, clock := b.new(t, time.Hour)
		ctx := context.Background()

		_, err := store.Upsert(ctx, 1, domain.Patch{Language: strPtr("en-US"), FirstName: strPtr("Ann")})
		require.NoError(t, err)

		clock.Advance(10 * time.Minute)
		s, err := store.Upsert(ctx, 1, domain.Patch{Language: strPtr("zh-TW")})
		require.NoError(t, err)

		assert.Equal(t, "zh-TW", s.Language)
		assert.Equal(t, "Ann", s.FirstName)
		assert.Equal(t, clock.Now(), s.LastActivity)
	})
}

func TestStore_ReturnsCopies(t *testing.T) {
	forEachStore(t, func(t *testing.T, b storeBackend) {
		store, _ := b.new(t, time.Hour)
		ctx := context.Background()

		s, err := store.Upsert(ctx, 1, domain.Patch{Language: strPtr("en-US")})
		require.NoError(t, err)
		s.Language = "mutated"

		got, err := store.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "en-US", got.Language)
	})
}

func TestStore_UpdateErrorWritesNothing(t *testing.T) {
	forEachStore(t, func(t *testing.T, b storeBackend) {
		store, _ := b.new(t, time.Hour)
		ctx := context.Background()

		_, err := store.Upsert(ctx, 1, domain.Patch{Language: strPtr("en-US")})
		require.NoError(t, err)

		boom := errors.New("boom")
		_, err = store.Update(ctx, 1, func(s *domain.Session) error {
			s.Language = "zh-TW"
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := store.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "en-US", got.Language)

		// a failing update on an unknown user creates nothing either
		_, err = store.Update(ctx, 2, func(s *domain.Session) error { return boom })
		assert.ErrorIs(t, err, boom)
		n, err := store.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

// idle past timeout -> absent, then a fresh record rather than old progress
func TestStore_IdleExpiry(t *testing.T) {
	forEachStore(t, func(t *testing.T, b storeBackend) {
		store, clock := b.new(t, time.Hour)
		ctx := context.Background()

		_, err := store.Update(ctx, 1, func(s *domain.Session) error {
			s.Language = "en-US"
			s.CompletedLevels = []int{1}
			s.VerificationLevel = 1
			s.CurrentLevel = 2
			s.HumanityIndex = 80
			return nil
		})
		require.NoError(t, err)

		clock.Advance(time.Hour + time.Second)

		got, err := store.Get(ctx, 1)
		require.NoError(t, err)
		assert.Nil(t, got)

		n, err := store.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n, "lookup past timeout must evict")

		fresh, err := store.Upsert(ctx, 1, domain.Patch{})
		require.NoError(t, err)
		assert.Equal(t, "", fresh.Language)
		assert.Equal(t, 0, fresh.VerificationLevel)
		assert.Equal(t, 0, fresh.HumanityIndex)
		assert.Equal(t, domain.LevelBasic, fresh.CurrentLevel)
	})
}

func TestStore_ExactlyIdleIsStillLive(t *testing.T) {
	forEachStore(t, func(t *testing.T, b storeBackend) {
		store, clock := b.new(t, time.Hour)
		ctx := context.Background()

		_, err := store.Upsert(ctx, 1, domain.Patch{Language: strPtr("en-US")})
		require.NoError(t, err)
		clock.Advance(time.Hour)

		got, err := store.Get(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "en-US", got.Language)
	})
}

func TestStore_DeleteAndLen(t *testing.T) {
	forEachStore(t, func(t *testing.T, b storeBackend) {
		store, _ := b.new(t, time.Hour)
		ctx := context.Background()

		for _, id := range []int64{1, 2, 3} {
			_, err := store.Upsert(ctx, id, domain.Patch{})
			require.NoError(t, err)
		}
		n, err := store.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		ok, err := store.Delete(ctx, 1)
		assert.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.Delete(ctx, 1)
		assert.NoError(t, err)
		assert.False(t, ok)

		n, err = store.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestStore_ConcurrentUpdatesAreAtomic(t *testing.T) {
	forEachStore(t, func(t *testing.T, b storeBackend) {
		store, _ := b.new(t, time.Hour)
		ctx := context.Background()

		var wg sync.WaitGroup
		wg.Add(b.writers)
		for i := 0; i < b.writers; i++ {
			go func() {
				defer wg.Done()
				_, err := store.Update(ctx, 7, func(s *domain.Session) error {
					s.HumanityIndex++
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		s, err := store.Get(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, b.writers, s.HumanityIndex)
	})
}
