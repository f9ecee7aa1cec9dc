package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"

	"quiz-backend/internal/domain"
)

const (
	// DefaultJWKSURL publishes the keys that sign Firebase ID tokens.
	DefaultJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

	clockLeeway = 30 * time.Second
)

// Registry tracks identities that were deleted and must stop resolving.
type Registry interface {
	IdentityDeleted(ctx context.Context, uid string) (bool, error)
	MarkIdentityDeleted(ctx context.Context, uid string) error
}

type Config struct {
	Issuer   string
	Audience string
	JWKSURL  string
}

// Verifier resolves RS256 ID tokens to the uid in their subject claim.
type Verifier struct {
	registry Registry
	accounts AccountStore
	keys     *jwksCache
	issuer   string
	audience string
	now      func() time.Time
}

type Option func(*Verifier)

func WithHTTPClient(client *resty.Client) Option {
	return func(v *Verifier) {
		v.keys.client = client
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
		v.keys.now = now
	}
}

func NewVerifier(registry Registry, accounts AccountStore, cfg Config, opts ...Option) (*Verifier, error) {
	if registry == nil {
		return nil, errors.New("identity: registry must not be nil")
	}
	if accounts == nil {
		return nil, errors.New("identity: account store must not be nil")
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("identity: issuer and audience must not be empty")
	}
	if strings.TrimSpace(cfg.JWKSURL) == "" {
		cfg.JWKSURL = DefaultJWKSURL
	}
	v := &Verifier{
		registry: registry,
		accounts: accounts,
		keys:     newJWKSCache(resty.New().SetTimeout(10*time.Second), cfg.JWKSURL),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks the token signature and claims and that the identity was not
// deleted. Rejections wrap domain.ErrInvalidCredential; registry failures do not.
func (v *Verifier) Verify(ctx context.Context, token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("identity: token has no kid header")
		}
		return v.keys.key(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockLeeway),
		jwt.WithTimeFunc(v.now),
	)
	if errors.Is(err, errKeysUnavailable) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("identity: %w: %w", domain.ErrInvalidCredential, err)
	}
	uid := strings.TrimSpace(claims.Subject)
	if uid == "" {
		return "", fmt.Errorf("identity: %w: empty subject", domain.ErrInvalidCredential)
	}

	deleted, err := v.registry.IdentityDeleted(ctx, uid)
	if err != nil {
		return "", fmt.Errorf("identity: registry lookup: %w", err)
	}
	if deleted {
		return "", fmt.Errorf("identity: %w: identity deleted", domain.ErrInvalidCredential)
	}
	return uid, nil
}

// DeleteIdentity deletes the account at the auth provider, then records the
// deletion so tokens issued before it stop resolving here. If the provider
// call fails nothing is recorded and the caller can retry with the same token.
func (v *Verifier) DeleteIdentity(ctx context.Context, uid string) error {
	if err := v.accounts.DeleteAccount(ctx, uid); err != nil {
		return fmt.Errorf("identity: delete %s: %w", uid, err)
	}
	if err := v.registry.MarkIdentityDeleted(ctx, uid); err != nil {
		return fmt.Errorf("identity: delete %s: %w", uid, err)
	}
	return nil
}
