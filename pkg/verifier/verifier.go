package verifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"authbridge/pkg/jwks"
	"authbridge/pkg/metrics"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var (
	ErrMalformed = errors.New("token is malformed")
	ErrSignature = errors.New("token signature is invalid")
	ErrIssuer    = errors.New("token issuer mismatch")
	ErrExpired   = errors.New("token is expired")

	errMissingKeyID = errors.New("token header has no key id")
)

// DefaultLeeway absorbs clock drift between this machine and the issuer.
const DefaultLeeway = 10 * time.Second

// Only asymmetric algorithms are accepted. A token claiming HMAC or "none"
// is rejected before any key is resolved.
var allowedAlgs = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

// KeyResolver resolves a key id to public key material.
type KeyResolver interface {
	Resolve(ctx context.Context, keyID string) (any, error)
}

// Payload holds the claims of a verified token. It is only ever constructed
// after signature, issuer and expiry have all been checked.
type Payload struct {
	Subject   string
	SessionID string
	Issuer    string
	KeyID     string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

type tokenClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Verifier is the trust boundary for bearer tokens: nothing else in the
// bridge may treat token contents as authoritative.
type Verifier struct {
	keys   KeyResolver
	issuer string
	leeway time.Duration
	now    func() time.Time
	log    *zap.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLeeway overrides the clock-skew tolerance.
func WithLeeway(d time.Duration) Option {
	return func(v *Verifier) {
		if d >= 0 {
			v.leeway = d
		}
	}
}

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option {
	return func(v *Verifier) { v.log = log }
}

// New creates a Verifier that accepts tokens from the given issuer only.
func New(issuer string, keys KeyResolver, opts ...Option) *Verifier {
	v := &Verifier{
		keys:   keys,
		issuer: issuer,
		leeway: DefaultLeeway,
		now:    time.Now,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks structure, signature, issuer and expiry of a raw bearer
// token and returns its now-trusted claims. The raw token never appears in
// returned errors or logs.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Payload, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods(allowedAlgs),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)

	var claims tokenClaims
	tok, err := parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errMissingKeyID
		}
		return v.keys.Resolve(ctx, kid)
	})
	if err != nil {
		return nil, v.reject(err)
	}

	if claims.Subject == "" {
		metrics.RecordVerificationFailure("structure")
		return nil, fmt.Errorf("%w: missing subject claim", ErrMalformed)
	}

	kid, _ := tok.Header["kid"].(string)
	metrics.RecordVerificationSuccess()

	return &Payload{
		Subject:   claims.Subject,
		SessionID: claims.SessionID,
		Issuer:    claims.Issuer,
		KeyID:     kid,
		ExpiresAt: claims.ExpiresAt.Time,
		IssuedAt:  issuedAt(&claims),
	}, nil
}

// reject translates parser errors into the verifier's taxonomy so telemetry
// can name the failed check while callers see a uniform rejection.
func (v *Verifier) reject(err error) error {
	switch {
	case errors.Is(err, errMissingKeyID):
		metrics.RecordVerificationFailure("structure")
		v.log.Warn("token rejected", zap.String("check", "structure"))
		return fmt.Errorf("%w: missing key id header", ErrMalformed)
	case errors.Is(err, jwks.ErrKeyResolution):
		// Fail closed: an unresolvable key means the token cannot be
		// verified, never that verification is skipped.
		metrics.RecordVerificationFailure("key_resolution")
		v.log.Warn("token rejected", zap.String("check", "key_resolution"))
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		metrics.RecordVerificationFailure("structure")
		v.log.Warn("token rejected", zap.String("check", "structure"))
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		metrics.RecordVerificationFailure("expiry")
		v.log.Warn("token rejected", zap.String("check", "expiry"))
		return fmt.Errorf("%w: %w", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		metrics.RecordVerificationFailure("issuer")
		v.log.Warn("token rejected", zap.String("check", "issuer"))
		return fmt.Errorf("%w: %w", ErrIssuer, err)
	default:
		metrics.RecordVerificationFailure("signature")
		v.log.Warn("token rejected", zap.String("check", "signature"))
		return fmt.Errorf("%w: %w", ErrSignature, err)
	}
}

func issuedAt(c *tokenClaims) time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}
