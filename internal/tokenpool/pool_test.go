package tokenpool

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warp2api-go/internal/monitoring"
)

func TestSelectNextTierPriority(t *testing.T) {
	pool := New()
	personal := pool.Add("personal-secret", TierPersonal)
	shared := pool.Add("shared-secret", TierShared)
	anon := pool.Add("anon-secret", TierAnonymous)

	// Anonymous wins as long as any anonymous credential is active.
	require.Same(t, anon, pool.SelectNext(nil))
	require.Same(t, anon, pool.SelectNext(nil))

	anon.MarkExchangeFailure(1)
	require.False(t, anon.Active())
	require.Same(t, shared, pool.SelectNext(nil))

	shared.MarkExchangeFailure(1)
	require.Same(t, personal, pool.SelectNext(nil))

	personal.MarkExchangeFailure(1)
	assert.Nil(t, pool.SelectNext(nil))
}

func TestSelectNextRoundRobinWithinTier(t *testing.T) {
	pool := New()
	a := pool.Add("anon-a", TierAnonymous)
	b := pool.Add("anon-b", TierAnonymous)
	c := pool.Add("anon-c", TierAnonymous)

	got := []string{
		pool.SelectNext(nil).ID,
		pool.SelectNext(nil).ID,
		pool.SelectNext(nil).ID,
	}
	assert.ElementsMatch(t, []string{a.ID, b.ID, c.ID}, got,
		"three consecutive selections cover all three credentials")

	// Cursor wraps back to the first of the cycle.
	assert.Equal(t, got[0], pool.SelectNext(nil).ID)
}

func TestSelectNextExclusionFallsThroughTiers(t *testing.T) {
	pool := New()
	anon := pool.Add("anon-secret", TierAnonymous)
	shared := pool.Add("shared-secret", TierShared)

	exclude := map[string]struct{}{anon.ID: {}}
	require.Same(t, shared, pool.SelectNext(exclude))

	exclude[shared.ID] = struct{}{}
	assert.Nil(t, pool.SelectNext(exclude))
}

func TestSelectNextSkipsInactiveWithoutBreakingCursor(t *testing.T) {
	pool := New()
	a := pool.Add("anon-a", TierAnonymous)
	b := pool.Add("anon-b", TierAnonymous)

	a.MarkExchangeFailure(1)
	require.Same(t, b, pool.SelectNext(nil))
	require.Same(t, b, pool.SelectNext(nil))

	pool.Reactivate(a.ID)
	got := map[string]int{}
	for i := 0; i < 4; i++ {
		got[pool.SelectNext(nil).ID]++
	}
	assert.Equal(t, 2, got[a.ID])
	assert.Equal(t, 2, got[b.ID])
}

func TestAddDeduplicatesBySecret(t *testing.T) {
	pool := New()
	first := pool.Add("same-secret", TierShared)
	second := pool.Add("same-secret", TierShared)

	require.Same(t, first, second)
	assert.Equal(t, 1, pool.Stats().Total)
}

func TestMarkExchangeFailureThreshold(t *testing.T) {
	pool := New()
	cred := pool.Add("secret", TierPersonal)

	failures, deactivated := cred.MarkExchangeFailure(3)
	assert.Equal(t, 1, failures)
	assert.False(t, deactivated)

	cred.MarkExchangeFailure(3)
	failures, deactivated = cred.MarkExchangeFailure(3)
	assert.Equal(t, 3, failures)
	assert.True(t, deactivated)
	assert.False(t, cred.Active())

	// Already inactive, the flag does not flip again.
	_, deactivated = cred.MarkExchangeFailure(3)
	assert.False(t, deactivated)
}

func TestStoreTokenResetsFailureStreak(t *testing.T) {
	pool := New()
	cred := pool.Add("secret", TierPersonal)

	cred.MarkExchangeFailure(3)
	cred.MarkExchangeFailure(3)
	require.Equal(t, 2, cred.Failures())

	expiry := time.Now().Add(55 * time.Minute)
	cred.StoreToken("access-token", expiry)
	assert.Equal(t, 0, cred.Failures())
	assert.True(t, cred.Active())

	token, ok := cred.CachedToken(time.Now(), 2*time.Minute)
	require.True(t, ok)
	assert.Equal(t, "access-token", token)
}

func TestCachedTokenSkew(t *testing.T) {
	pool := New()
	cred := pool.Add("secret", TierShared)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	_, ok := cred.CachedToken(now, 2*time.Minute)
	assert.False(t, ok, "no token cached yet")

	cred.StoreToken("tok", now.Add(60*time.Second))
	_, ok = cred.CachedToken(now, 2*time.Minute)
	assert.False(t, ok, "expiry inside the skew window counts as stale")

	cred.StoreToken("tok", now.Add(10*time.Minute))
	_, ok = cred.CachedToken(now, 2*time.Minute)
	assert.True(t, ok)
}

func TestLastUsedTracksSelection(t *testing.T) {
	pool := New()
	clock := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	pool.SetNowFunc(func() time.Time { return clock })

	a := pool.Add("anon-a", TierAnonymous)
	b := pool.Add("anon-b", TierAnonymous)

	assert.Nil(t, pool.LastUsed())

	first := pool.SelectNext(nil)
	clock = clock.Add(time.Second)
	second := pool.SelectNext(nil)

	require.NotSame(t, first, second)
	assert.Same(t, second, pool.LastUsed())
	assert.ElementsMatch(t, []string{a.ID, b.ID}, []string{first.ID, second.ID})
}

func TestRecoverFailed(t *testing.T) {
	pool := New()
	a := pool.Add("anon-a", TierAnonymous)
	b := pool.Add("anon-b", TierAnonymous)
	c := pool.Add("shared-c", TierShared)

	a.MarkExchangeFailure(1)
	b.MarkExchangeFailure(1)
	require.Equal(t, 1, pool.Stats().Active)

	assert.Equal(t, 2, pool.RecoverFailed())
	assert.True(t, a.Active())
	assert.True(t, b.Active())
	assert.True(t, c.Active())
	assert.Equal(t, 0, a.Failures())

	assert.Equal(t, 0, pool.RecoverFailed(), "nothing left to recover")
}

func TestStatsAndSnapshots(t *testing.T) {
	pool := New()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	pool.SetNowFunc(func() time.Time { return now })

	anon := pool.Add("anon-secret", TierAnonymous)
	pool.Add("personal-secret", TierPersonal)
	anon.MarkExchangeFailure(1)

	stats := pool.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, TierStats{Total: 1, Active: 0, Inactive: 1}, stats.ByTier["anonymous"])
	assert.Equal(t, TierStats{Total: 1, Active: 1, Inactive: 0}, stats.ByTier["personal"])

	anon.StoreToken("tok", now.Add(30*time.Minute))
	snaps := pool.Snapshots()
	require.Len(t, snaps, 2)
	for _, s := range snaps {
		if s.ID == anon.ID {
			assert.True(t, s.HasCachedToken)
			assert.InDelta(t, 1800, s.TokenExpiresIn, 1)
			assert.Equal(t, "anonymous", s.Tier)
		}
	}
}

func TestStatsPublishesPoolGauges(t *testing.T) {
	pool := New()
	anon := pool.Add("anon-secret", TierAnonymous)
	pool.Add("personal-secret", TierPersonal)
	anon.MarkExchangeFailure(1)

	pool.Stats()

	gauge := func(tier, state string) float64 {
		return testutil.ToFloat64(monitoring.PoolCredentials.WithLabelValues(tier, state))
	}
	assert.Equal(t, 0.0, gauge("anonymous", "active"))
	assert.Equal(t, 1.0, gauge("anonymous", "inactive"))
	assert.Equal(t, 1.0, gauge("personal", "active"))
	assert.Equal(t, 0.0, gauge("personal", "inactive"))

	pool.Reactivate(anon.ID)
	pool.Stats()
	assert.Equal(t, 1.0, gauge("anonymous", "active"))
	assert.Equal(t, 0.0, gauge("anonymous", "inactive"))
}

func TestParseTier(t *testing.T) {
	for label, want := range map[string]Tier{
		"anonymous": TierAnonymous,
		"shared":    TierShared,
		"personal":  TierPersonal,
	} {
		got, err := ParseTier(label)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, label, got.String())
	}

	_, err := ParseTier("premium")
	assert.Error(t, err)
}
