package jwks

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/portal-gateway/internal/observability"
	idp "github.com/upb/portal-gateway/internal/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func newTestResolver(t *testing.T, provider *idp.IdentityProvider, mutate func(*Config)) *Resolver {
	t.Helper()
	cfg := Config{
		JWKSURL: provider.JWKSURL(),
		Timeout: 2 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	resolver, err := NewResolver(cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return resolver
}

func TestNewResolver(t *testing.T) {
	t.Run("requires jwks url", func(t *testing.T) {
		_, err := NewResolver(Config{}, nil, nil)
		assert.Error(t, err)
	})

	t.Run("applies defaults", func(t *testing.T) {
		resolver, err := NewResolver(Config{JWKSURL: "http://localhost:4000/jwks"}, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultTimeout, resolver.timeout)
		assert.Equal(t, DefaultCacheTTL, resolver.cache.ttl)
		assert.Equal(t, DefaultFetchLimit, resolver.window.limit)
		assert.Equal(t, DefaultFetchWindow, resolver.window.window)
		assert.NotNil(t, resolver.httpClient)
	})
}

func TestResolveKey_ByKid(t *testing.T) {
	key := idp.NewSigningKey(t, "kid-1")
	provider := idp.NewIdentityProvider(t, key)
	resolver := newTestResolver(t, provider, nil)
	ctx := context.Background()

	publicKey, err := resolver.ResolveKey(ctx, "kid-1")
	require.NoError(t, err)
	assert.True(t, key.Public().Equal(publicKey))

	// Second resolution within the TTL is served from cache
	publicKey2, err := resolver.ResolveKey(ctx, "kid-1")
	require.NoError(t, err)
	assert.Same(t, publicKey, publicKey2)
	assert.Equal(t, 1, provider.Fetches())
}

func TestResolveKey_CachesAllPublishedKeys(t *testing.T) {
	current := idp.NewSigningKey(t, "current")
	next := idp.NewSigningKey(t, "next")
	provider := idp.NewIdentityProvider(t, current, next)
	resolver := newTestResolver(t, provider, nil)
	ctx := context.Background()

	_, err := resolver.ResolveKey(ctx, "current")
	require.NoError(t, err)
	_, err = resolver.ResolveKey(ctx, "next")
	require.NoError(t, err)

	assert.Equal(t, 1, provider.Fetches())
	assert.Equal(t, 2, resolver.Stats().Cache.Entries)
}

func TestResolveKey_KeyNotFound(t *testing.T) {
	provider := idp.NewIdentityProvider(t, idp.NewSigningKey(t, "kid-1"))
	resolver := newTestResolver(t, provider, nil)

	_, err := resolver.ResolveKey(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, 1, provider.Fetches())
}

func TestResolveKey_RefetchesAfterTTL(t *testing.T) {
	key := idp.NewSigningKey(t, "kid-1")
	provider := idp.NewIdentityProvider(t, key)
	resolver := newTestResolver(t, provider, nil)
	clock := newFakeClock()
	resolver.cache.now = clock.Now
	ctx := context.Background()

	_, err := resolver.ResolveKey(ctx, "kid-1")
	require.NoError(t, err)

	clock.Advance(DefaultCacheTTL)
	_, err = resolver.ResolveKey(ctx, "kid-1")
	require.NoError(t, err)

	assert.Equal(t, 2, provider.Fetches())
}

func TestResolveKey_PicksUpRotatedKey(t *testing.T) {
	oldKey := idp.NewSigningKey(t, "2025")
	newKey := idp.NewSigningKey(t, "2026")
	provider := idp.NewIdentityProvider(t, oldKey)
	resolver := newTestResolver(t, provider, nil)
	ctx := context.Background()

	_, err := resolver.ResolveKey(ctx, "2025")
	require.NoError(t, err)

	provider.SetKeys(oldKey, newKey)
	publicKey, err := resolver.ResolveKey(ctx, "2026")
	require.NoError(t, err)
	assert.True(t, newKey.Public().Equal(publicKey))
	assert.Equal(t, 2, provider.Fetches())
}

func TestResolveKey_WithoutKid(t *testing.T) {
	t.Run("uses the only key", func(t *testing.T) {
		key := idp.NewSigningKey(t, "")
		provider := idp.NewIdentityProvider(t, key)
		resolver := newTestResolver(t, provider, nil)

		publicKey, err := resolver.ResolveKey(context.Background(), "")
		require.NoError(t, err)
		assert.True(t, key.Public().Equal(publicKey))
	})

	t.Run("uses the first of several keys", func(t *testing.T) {
		first := idp.NewSigningKey(t, "a")
		second := idp.NewSigningKey(t, "b")
		provider := idp.NewIdentityProvider(t, first, second)
		resolver := newTestResolver(t, provider, nil)

		publicKey, err := resolver.ResolveKey(context.Background(), "")
		require.NoError(t, err)
		assert.True(t, first.Public().Equal(publicKey))
	})

	t.Run("does not cache", func(t *testing.T) {
		provider := idp.NewIdentityProvider(t, idp.NewSigningKey(t, ""))
		resolver := newTestResolver(t, provider, nil)
		ctx := context.Background()

		_, err := resolver.ResolveKey(ctx, "")
		require.NoError(t, err)
		_, err = resolver.ResolveKey(ctx, "")
		require.NoError(t, err)

		assert.Equal(t, 2, provider.Fetches())
		assert.Equal(t, 0, resolver.Stats().Cache.Entries)
	})

	t.Run("empty document fails", func(t *testing.T) {
		provider := idp.NewIdentityProvider(t)
		resolver := newTestResolver(t, provider, nil)

		_, err := resolver.ResolveKey(context.Background(), "")
		assert.ErrorIs(t, err, ErrKeyResolutionFailed)
	})
}

func TestResolveKey_Throttled(t *testing.T) {
	provider := idp.NewIdentityProvider(t, idp.NewSigningKey(t, "kid-1"))
	resolver := newTestResolver(t, provider, nil)
	ctx := context.Background()

	// Unknown kids always miss the cache, so each attempt wants a fetch.
	for i := 0; i < DefaultFetchLimit; i++ {
		_, err := resolver.ResolveKey(ctx, fmt.Sprintf("unknown-%d", i))
		assert.ErrorIs(t, err, ErrKeyNotFound)
	}

	_, err := resolver.ResolveKey(ctx, "unknown-6")
	assert.ErrorIs(t, err, ErrKeyFetchThrottled)
	assert.Equal(t, DefaultFetchLimit, provider.Fetches())

	// Cached keys keep resolving while fetches are throttled.
	_, err = resolver.ResolveKey(ctx, "kid-1")
	assert.NoError(t, err)
	assert.Equal(t, 0, resolver.Stats().FetchesRemaining)
}

func TestResolveKey_ThrottleWindowRolls(t *testing.T) {
	provider := idp.NewIdentityProvider(t, idp.NewSigningKey(t, "kid-1"))
	resolver := newTestResolver(t, provider, func(cfg *Config) {
		cfg.FetchLimit = 1
	})
	clock := newFakeClock()
	resolver.window.now = clock.Now
	ctx := context.Background()

	_, err := resolver.ResolveKey(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = resolver.ResolveKey(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyFetchThrottled)

	clock.Advance(DefaultFetchWindow)
	_, err = resolver.ResolveKey(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, 2, provider.Fetches())
}

func TestResolveKey_SingleFlight(t *testing.T) {
	key := idp.NewSigningKey(t, "kid-1")
	provider := idp.NewIdentityProvider(t, key)
	release := provider.Hold()
	defer release()
	resolver := newTestResolver(t, provider, nil)

	const callers = 20
	results := make([]*rsa.PublicKey, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = resolver.ResolveKey(context.Background(), "kid-1")
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	release()
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, 1, provider.Fetches())
}

func TestResolveKey_SingleFlightSharesFailure(t *testing.T) {
	provider := idp.NewIdentityProvider(t)
	provider.SetStatus(http.StatusBadGateway)
	release := provider.Hold()
	defer release()
	resolver := newTestResolver(t, provider, nil)

	const callers = 10
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = resolver.ResolveKey(context.Background(), "kid-1")
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	release()
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrKeyResolutionFailed)
	}
	assert.Equal(t, 1, provider.Fetches())
}

func TestResolveKey_FetchFailures(t *testing.T) {
	t.Run("non 200 status", func(t *testing.T) {
		provider := idp.NewIdentityProvider(t)
		provider.SetStatus(http.StatusInternalServerError)
		resolver := newTestResolver(t, provider, nil)

		_, err := resolver.ResolveKey(context.Background(), "kid-1")
		assert.ErrorIs(t, err, ErrKeyResolutionFailed)
		assert.Contains(t, err.Error(), "500")
	})

	t.Run("timeout", func(t *testing.T) {
		provider := idp.NewIdentityProvider(t, idp.NewSigningKey(t, "kid-1"))
		provider.SetDelay(time.Second)
		resolver := newTestResolver(t, provider, func(cfg *Config) {
			cfg.Timeout = 50 * time.Millisecond
		})

		start := time.Now()
		_, err := resolver.ResolveKey(context.Background(), "kid-1")
		assert.ErrorIs(t, err, ErrKeyResolutionFailed)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		resolver, err := NewResolver(Config{
			JWKSURL: "http://127.0.0.1:1/jwks",
			Timeout: time.Second,
		}, nil, zaptest.NewLogger(t))
		require.NoError(t, err)

		_, err = resolver.ResolveKey(context.Background(), "kid-1")
		assert.ErrorIs(t, err, ErrKeyResolutionFailed)
	})

	t.Run("caller cancellation aborts the fetch", func(t *testing.T) {
		provider := idp.NewIdentityProvider(t, idp.NewSigningKey(t, "kid-1"))
		provider.SetDelay(5 * time.Second)
		resolver, err := NewResolver(Config{JWKSURL: provider.JWKSURL()}, nil, zap.NewNop())
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err = resolver.ResolveKey(ctx, "kid-1")
		assert.ErrorIs(t, err, ErrKeyResolutionFailed)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Eventually(t, func() bool { return provider.Aborts() == 1 }, 2*time.Second, 10*time.Millisecond)
	})
}

func TestResolveKey_SharedFlightOutlivesCancelledCaller(t *testing.T) {
	key := idp.NewSigningKey(t, "kid-1")
	provider := idp.NewIdentityProvider(t, key)
	release := provider.Hold()
	defer release()
	resolver := newTestResolver(t, provider, nil)

	waiting := make(chan error, 1)
	go func() {
		_, err := resolver.ResolveKey(context.Background(), "kid-1")
		waiting <- err
	}()
	require.Eventually(t, func() bool { return provider.Fetches() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := resolver.ResolveKey(ctx, "kid-1")
	assert.ErrorIs(t, err, context.Canceled)

	release()
	require.NoError(t, <-waiting)
	assert.Equal(t, 1, provider.Fetches())
	assert.Equal(t, 0, provider.Aborts())
}

func TestResolveKey_FreshFetchAfterAbortedFlight(t *testing.T) {
	provider := idp.NewIdentityProvider(t, idp.NewSigningKey(t, "kid-1"))
	release := provider.Hold()
	defer release()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	resolver, err := NewResolver(Config{JWKSURL: provider.JWKSURL()}, metrics, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = resolver.ResolveKey(ctx, "kid-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Eventually(t, func() bool { return provider.Aborts() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.JWKSFetchesTotal.WithLabelValues(observability.FetchCanceled)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	release()
	_, err = resolver.ResolveKey(context.Background(), "kid-1")
	require.NoError(t, err)

	assert.Equal(t, 2, provider.Fetches())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.JWKSFetchesTotal.WithLabelValues(observability.FetchError)))
}

func TestResolver_InvalidateCache(t *testing.T) {
	provider := idp.NewIdentityProvider(t, idp.NewSigningKey(t, "kid-1"))
	resolver := newTestResolver(t, provider, nil)
	ctx := context.Background()

	_, err := resolver.ResolveKey(ctx, "kid-1")
	require.NoError(t, err)

	resolver.InvalidateCache()
	_, err = resolver.ResolveKey(ctx, "kid-1")
	require.NoError(t, err)

	assert.Equal(t, 2, provider.Fetches())
}

func TestResolver_Metrics(t *testing.T) {
	provider := idp.NewIdentityProvider(t, idp.NewSigningKey(t, "kid-1"))
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	resolver, err := NewResolver(Config{JWKSURL: provider.JWKSURL()}, metrics, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = resolver.ResolveKey(ctx, "kid-1")
	require.NoError(t, err)
	_, err = resolver.ResolveKey(ctx, "kid-1")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.JWKSFetchesTotal.WithLabelValues(observability.FetchSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.KeyCacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.KeyCacheLookups.WithLabelValues("miss")))
}
