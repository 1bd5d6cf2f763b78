package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/upb/portal-gateway/internal/observability"
	"github.com/upb/portal-gateway/internal/shared"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds a single JWKS fetch.
const DefaultTimeout = 10 * time.Second

// maxDocumentSize caps how much of a JWKS response is read.
const maxDocumentSize = 1 << 20

// firstKeyFlight is the single-flight key for tokens without a kid.
const firstKeyFlight = "\x00first"

var (
	// ErrKeyNotFound is returned when no JWKS entry matches the kid after a fresh fetch
	ErrKeyNotFound = shared.ErrKeyNotFound

	// ErrKeyResolutionFailed is returned when the JWKS cannot be fetched or used
	ErrKeyResolutionFailed = shared.ErrKeyResolutionFailed

	// ErrKeyFetchThrottled is returned when a fetch would exceed the rate window
	ErrKeyFetchThrottled = shared.ErrKeyFetchThrottled
)

// Config holds configuration for Resolver
type Config struct {
	JWKSURL     string
	CacheTTL    time.Duration
	FetchLimit  int
	FetchWindow time.Duration
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Stats reports resolver state for readiness checks.
type Stats struct {
	Cache            CacheStats `json:"cache"`
	FetchesRemaining int        `json:"fetches_remaining"`
}

// Resolver resolves RS256 verification keys from a JWKS endpoint. One
// Resolver is built at startup and shared by all requests.
type Resolver struct {
	jwksURL    string
	httpClient *http.Client
	timeout    time.Duration

	cache  *KeyCache
	window *FetchRateWindow
	group  singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight

	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewResolver creates a Resolver for the configured JWKS URL.
func NewResolver(cfg Config, metrics *observability.Metrics, logger *zap.Logger) (*Resolver, error) {
	if cfg.JWKSURL == "" {
		return nil, errors.New("jwks url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resolver{
		jwksURL:    cfg.JWKSURL,
		httpClient: cfg.HTTPClient,
		timeout:    cfg.Timeout,
		cache:      NewKeyCache(cfg.CacheTTL),
		window:     NewFetchRateWindow(cfg.FetchLimit, cfg.FetchWindow),
		flights:    make(map[string]*flight),
		metrics:    metrics,
		logger:     logger,
	}, nil
}

// ResolveKey returns the public key for kid. An empty kid selects the first
// key of a freshly fetched document; that result is not cached.
func (r *Resolver) ResolveKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	start := time.Now()
	defer func() { r.metrics.ObserveKeyResolve(time.Since(start).Seconds()) }()

	if kid == "" {
		return r.do(ctx, firstKeyFlight, func(ctx context.Context) (*rsa.PublicKey, error) {
			return r.resolveFirstKey(ctx)
		})
	}

	if key, ok := r.cache.Get(kid); ok {
		r.metrics.KeyCacheLookup(true)
		return key, nil
	}
	r.metrics.KeyCacheLookup(false)

	return r.do(ctx, kid, func(ctx context.Context) (*rsa.PublicKey, error) {
		return r.resolveKid(ctx, kid)
	})
}

// flight is the context shared by callers waiting on one in-flight fetch.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// do runs fn once per flight key; concurrent callers share its result. A
// caller whose context ends stops waiting. The fetch is aborted once no
// caller is left waiting for it.
func (r *Resolver) do(ctx context.Context, key string, fn func(context.Context) (*rsa.PublicKey, error)) (*rsa.PublicKey, error) {
	f := r.join(ctx, key)
	defer r.leave(key, f)

	ch := r.group.DoChan(key, func() (interface{}, error) {
		return fn(f.ctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*rsa.PublicKey), nil
	case <-ctx.Done():
		return nil, ErrKeyResolutionFailed.Wrap(ctx.Err())
	}
}

// join registers a waiter on the flight for key, starting one if needed.
// The flight context keeps ctx's values but not its cancellation.
func (r *Resolver) join(ctx context.Context, key string) *flight {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.flights[key]
	if !ok {
		flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: flightCtx, cancel: cancel}
		r.flights[key] = f
	}
	f.waiters++
	return f
}

// leave drops a waiter. The last one out cancels the flight and forgets it,
// so a later caller starts a fresh fetch instead of joining an aborted one.
func (r *Resolver) leave(key string, f *flight) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if r.flights[key] == f {
		delete(r.flights, key)
		r.group.Forget(key)
	}
}

// resolveKid fetches the document and caches every usable keyed entry.
func (r *Resolver) resolveKid(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	// A flight that finished between our cache miss and joining may have filled it.
	if key, ok := r.cache.Peek(kid); ok {
		return key, nil
	}

	doc, err := r.fetch(ctx)
	if err != nil {
		return nil, err
	}

	var found *rsa.PublicKey
	for i := range doc.Keys {
		jwk := &doc.Keys[i]
		if jwk.Kid == "" {
			continue
		}
		publicKey, err := jwk.RSAPublicKey()
		if err != nil {
			if jwk.Kid == kid {
				return nil, ErrKeyResolutionFailed.Wrapf("convert key %q: %v", kid, err)
			}
			r.logger.Debug("skipping unusable jwks entry",
				zap.String("kid", jwk.Kid),
				zap.Error(err))
			continue
		}
		r.cache.Set(jwk.Kid, publicKey)
		if jwk.Kid == kid {
			found = publicKey
		}
	}

	if found == nil {
		return nil, ErrKeyNotFound.Wrapf("kid %q not present in JWKS", kid)
	}
	return found, nil
}

// resolveFirstKey serves legacy tokens that carry no kid. It always uses the
// first document entry, even when several keys are published.
func (r *Resolver) resolveFirstKey(ctx context.Context) (*rsa.PublicKey, error) {
	doc, err := r.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if len(doc.Keys) == 0 {
		return nil, ErrKeyResolutionFailed.Wrapf("JWKS document has no keys")
	}
	if len(doc.Keys) > 1 {
		r.logger.Warn("token without kid verified against first of several JWKS keys",
			zap.Int("jwks_keys", len(doc.Keys)),
			zap.String("kid", doc.Keys[0].Kid))
	}

	publicKey, err := doc.Keys[0].RSAPublicKey()
	if err != nil {
		return nil, ErrKeyResolutionFailed.Wrapf("convert first key: %v", err)
	}
	return publicKey, nil
}

// fetch downloads the JWKS document if the rate window admits it.
func (r *Resolver) fetch(ctx context.Context) (*JWKS, error) {
	if !r.window.Acquire() {
		r.metrics.JWKSFetch(observability.FetchThrottled)
		r.logger.Warn("jwks fetch throttled",
			zap.String("jwks_url", r.jwksURL),
			zap.Time("reset_at", r.window.ResetAt()))
		return nil, ErrKeyFetchThrottled.Wrapf("fetch limit reached until %s", r.window.ResetAt().Format(time.RFC3339))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	doc, err := r.download(ctx)
	if errors.Is(err, context.Canceled) {
		r.metrics.JWKSFetch(observability.FetchCanceled)
		r.logger.Debug("jwks fetch canceled",
			zap.String("jwks_url", r.jwksURL))
		return nil, ErrKeyResolutionFailed.Wrap(err)
	}
	if err != nil {
		r.metrics.JWKSFetch(observability.FetchError)
		r.logger.Error("jwks fetch failed",
			zap.String("jwks_url", r.jwksURL),
			zap.Error(err))
		return nil, ErrKeyResolutionFailed.Wrap(err)
	}

	r.metrics.JWKSFetch(observability.FetchSuccess)
	r.logger.Debug("jwks fetched",
		zap.String("jwks_url", r.jwksURL),
		zap.Int("keys", len(doc.Keys)))
	return doc, nil
}

func (r *Resolver) download(ctx context.Context) (*JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.jwksURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks returned status code %d", resp.StatusCode)
	}

	var doc JWKS
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentSize)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}
	return &doc, nil
}

// InvalidateCache drops all cached keys. The next resolution of any kid fetches again.
func (r *Resolver) InvalidateCache() {
	r.cache.Invalidate()
}

// Stats returns cache and rate window statistics
func (r *Resolver) Stats() Stats {
	return Stats{
		Cache:            r.cache.Stats(),
		FetchesRemaining: r.window.Remaining(),
	}
}
