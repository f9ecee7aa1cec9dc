package identity

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultKeysTTL  = time.Hour
	minRefreshDelay = 30 * time.Second
)

var (
	errUnknownKey      = errors.New("identity: unknown signing key")
	errKeysUnavailable = errors.New("identity: signing keys unavailable")
)

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

// jwksCache holds the RSA verification keys published at url. Keys are
// refetched when stale, or when an unknown kid shows up, at most once per
// minRefreshDelay.
type jwksCache struct {
	client *resty.Client
	url    string
	ttl    time.Duration
	now    func() time.Time

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	lastAttempt time.Time
}

func newJWKSCache(client *resty.Client, url string) *jwksCache {
	return &jwksCache{
		client: client,
		url:    url,
		ttl:    defaultKeysTTL,
		now:    time.Now,
	}
}

func (c *jwksCache) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	fresh := c.keys != nil && now.Sub(c.fetchedAt) < c.ttl
	if k, ok := c.keys[kid]; ok && fresh {
		return k, nil
	}
	if c.keys == nil || now.Sub(c.lastAttempt) >= minRefreshDelay || !fresh {
		c.lastAttempt = now
		keys, err := c.fetch(ctx)
		if err != nil {
			if k, ok := c.keys[kid]; ok {
				return k, nil
			}
			return nil, err
		}
		c.keys = keys
		c.fetchedAt = now
	}
	if k, ok := c.keys[kid]; ok {
		return k, nil
	}
	return nil, errUnknownKey
}

func (c *jwksCache) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch jwks: %w", errKeysUnavailable, err)
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("%w: fetch jwks: unexpected status %d", errKeysUnavailable, res.StatusCode())
	}

	var doc jwksDocument
	if err := json.Unmarshal(res.Body(), &doc); err != nil {
		return nil, fmt.Errorf("%w: decode jwks: %w", errKeysUnavailable, err)
	}
	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaKey(k)
		if err != nil {
			return nil, fmt.Errorf("%w: jwks key %q: %w", errKeysUnavailable, k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: jwks contains no RSA keys", errKeysUnavailable)
	}
	return keys, nil
}

func rsaKey(k jwk) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31-1 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
