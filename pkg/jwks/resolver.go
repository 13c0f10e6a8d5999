package jwks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"authbridge/pkg/metrics"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/lestrrat-go/jwx/v2/jwk"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var (
	// ErrKeyResolution wraps every failure mode of key resolution. Callers
	// must treat it as "cannot verify, must reject token".
	ErrKeyResolution = errors.New("key resolution failed")

	// ErrUnknownKey means the fetched key set has no entry for the requested key id.
	ErrUnknownKey = errors.New("key id not present in key set")

	// ErrRateLimited means the outbound fetch cap was hit; the resolution
	// fails fast instead of queueing.
	ErrRateLimited = errors.New("key set fetch rate limit exceeded")
)

const (
	// DefaultCacheTTL bounds how long a fetched key set is reused. Key sets
	// rotate as a unit, so caching is per fetch, not per key id.
	DefaultCacheTTL = 10 * time.Minute

	// DefaultFetchPerMinute caps outbound JWKS fetches.
	DefaultFetchPerMinute = 10

	keySetCacheKey = "keyset"

	maxKeySetBytes = 1 << 20
)

// Resolver fetches and caches the identity provider's published signing keys.
// The JWKS endpoint is taken from the issuer's OIDC discovery document unless
// set explicitly.
type Resolver struct {
	issuer     string
	httpClient *http.Client
	cache      *gocache.Cache
	ttl        time.Duration
	limiter    *rate.Limiter
	group      singleflight.Group
	log        *zap.Logger

	mu      sync.Mutex
	jwksURL string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient overrides the HTTP client used for discovery and fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.httpClient = c }
}

// WithJWKSURL pins the JWKS endpoint, skipping OIDC discovery.
func WithJWKSURL(url string) Option {
	return func(r *Resolver) { r.jwksURL = url }
}

// WithCacheTTL overrides how long a fetched key set is reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithFetchLimit overrides the outbound fetch cap per minute.
func WithFetchLimit(perMinute int) Option {
	return func(r *Resolver) {
		if perMinute > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// NewResolver creates a resolver for the given issuer.
func NewResolver(issuer string, opts ...Option) *Resolver {
	r := &Resolver{
		issuer:     issuer,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		ttl:        DefaultCacheTTL,
		limiter:    rate.NewLimiter(rate.Limit(float64(DefaultFetchPerMinute)/60.0), DefaultFetchPerMinute),
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = gocache.New(r.ttl, 2*r.ttl)
	return r
}

// Resolve returns the public key material for the given key id, fetching the
// key set if the cached copy is missing or stale.
func (r *Resolver) Resolve(ctx context.Context, keyID string) (any, error) {
	set, err := r.keySet(ctx)
	if err != nil {
		return nil, err
	}

	key, ok := set.LookupKeyID(keyID)
	if !ok {
		r.log.Warn("requested key id absent from key set", zap.String("kid", keyID))
		return nil, fmt.Errorf("%w: %w: %q", ErrKeyResolution, ErrUnknownKey, keyID)
	}

	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("%w: malformed key material for %q: %w", ErrKeyResolution, keyID, err)
	}
	return raw, nil
}

// keySet returns the cached key set, fetching it at most once across
// concurrent callers.
func (r *Resolver) keySet(ctx context.Context) (jwk.Set, error) {
	if cached, ok := r.cache.Get(keySetCacheKey); ok {
		return cached.(jwk.Set), nil
	}

	v, err, _ := r.group.Do(keySetCacheKey, func() (any, error) {
		if cached, ok := r.cache.Get(keySetCacheKey); ok {
			return cached, nil
		}

		if !r.limiter.Allow() {
			metrics.RecordKeySetFetch("rate_limited")
			return nil, fmt.Errorf("%w: %w", ErrKeyResolution, ErrRateLimited)
		}

		set, err := r.fetch(ctx)
		if err != nil {
			metrics.RecordKeySetFetch("error")
			return nil, fmt.Errorf("%w: %w", ErrKeyResolution, err)
		}

		metrics.RecordKeySetFetch("success")
		r.cache.Set(keySetCacheKey, set, r.ttl)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(jwk.Set), nil
}

func (r *Resolver) fetch(ctx context.Context) (jwk.Set, error) {
	endpoint, err := r.endpoint(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build key set request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key set: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key set endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read key set response: %w", err)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key set: %w", err)
	}

	r.log.Debug("fetched key set", zap.Int("keys", set.Len()))
	return set, nil
}

// endpoint returns the JWKS URL, discovering it from the issuer's OIDC
// discovery document on first use.
func (r *Resolver) endpoint(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.jwksURL != "" {
		return r.jwksURL, nil
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, r.httpClient), r.issuer)
	if err != nil {
		return "", fmt.Errorf("failed to discover OIDC provider at %s: %w", r.issuer, err)
	}

	var claims struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&claims); err != nil {
		return "", fmt.Errorf("failed to read discovery document: %w", err)
	}
	if claims.JWKSURI == "" {
		return "", errors.New("discovery document has no jwks_uri")
	}

	r.jwksURL = claims.JWKSURI
	r.log.Debug("discovered JWKS endpoint", zap.String("url", claims.JWKSURI))
	return r.jwksURL, nil
}
