// Package servicetoken issues and verifies the short-lived RS256 tokens the
// analyzer presents to the docs service internal endpoints.
package servicetoken

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/mnajarc/sistemaInm-sub001/internal/util"
)

const (
	// DefaultTokenTTL is the default lifetime for internal service tokens.
	DefaultTokenTTL = 60 * time.Second
	// DefaultLeeway is clock skew tolerance for token validation.
	DefaultLeeway = 15 * time.Second
	// DefaultKeyID is the key id used when none is configured.
	DefaultKeyID = "internal-active"
)

// Caller identifies the service that presented a valid token.
type Caller struct {
	Service string
	TokenID string
}

// Signer issues short-lived internal service JWTs.
type Signer struct {
	issuer string
	ttl    time.Duration
	key    *rsa.PrivateKey
	kid    string
}

// SignerOptions configures internal service token signing.
type SignerOptions struct {
	PrivateKeyPath string
	KeyID          string
	Issuer         string
	TTL            time.Duration
}

// NewSigner creates an RS256 signer from a PEM key file.
func NewSigner(opts SignerOptions) (*Signer, error) {
	path := strings.TrimSpace(opts.PrivateKeyPath)
	if path == "" {
		return nil, errors.New("service token private key path is required")
	}
	key, err := LoadRSAPrivateKey(path)
	if err != nil {
		return nil, fmt.Errorf("load internal jwt private key: %w", err)
	}
	return NewSignerFromKey(key, opts.KeyID, opts.Issuer, opts.TTL)
}

// NewSignerFromKey creates an RS256 signer from an in-memory key.
func NewSignerFromKey(key *rsa.PrivateKey, kid, issuer string, ttl time.Duration) (*Signer, error) {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, errors.New("service token issuer is required")
	}
	if key == nil {
		return nil, errors.New("service token private key is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	kid = strings.TrimSpace(kid)
	if kid == "" {
		kid = DefaultKeyID
	}
	return &Signer{issuer: issuer, ttl: ttl, key: key, kid: kid}, nil
}

// Sign issues a token for the given audience.
func (s *Signer) Sign(audience string) (string, error) {
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return "", errors.New("service token audience is required")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   s.issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        util.NewID(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

// Verifier validates internal service JWTs against audience and issuer allowlist.
type Verifier struct {
	audience       string
	allowedIssuers map[string]struct{}
	leeway         time.Duration
	keys           map[string]*rsa.PublicKey
}

// VerifierOptions configures internal service token verification.
type VerifierOptions struct {
	Keys           map[string]*rsa.PublicKey
	Audience       string
	AllowedIssuers []string
	Leeway         time.Duration
}

// NewVerifier creates a verifier over a kid-indexed key set.
func NewVerifier(opts VerifierOptions) (*Verifier, error) {
	audience := strings.TrimSpace(opts.Audience)
	if audience == "" {
		return nil, errors.New("service token audience is required")
	}
	issuers := make(map[string]struct{})
	for _, issuer := range opts.AllowedIssuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			issuers[issuer] = struct{}{}
		}
	}
	if len(issuers) == 0 {
		return nil, errors.New("at least one allowed issuer is required")
	}
	if len(opts.Keys) == 0 {
		return nil, errors.New("internal service verifier requires rsa public key")
	}
	leeway := opts.Leeway
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	return &Verifier{audience: audience, allowedIssuers: issuers, leeway: leeway, keys: opts.Keys}, nil
}

// Verify validates token signature, expiry, audience, and issuer.
func (v *Verifier) Verify(token string) (Caller, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return Caller{}, errors.New("token required")
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, KeyFunc(v.keys),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return Caller{}, err
	}
	if _, ok := v.allowedIssuers[claims.Issuer]; !ok {
		return Caller{}, errors.New("issuer not allowed")
	}
	if claims.ID == "" {
		return Caller{}, errors.New("jti required")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Caller{}, errors.New("subject required")
	}
	return Caller{Service: claims.Subject, TokenID: claims.ID}, nil
}

// KeyFunc resolves the RS256 key named by the token's kid header.
func KeyFunc(keys map[string]*rsa.PublicKey) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, errors.New("unsupported signing method")
		}
		kid, _ := t.Header["kid"].(string)
		kid = strings.TrimSpace(kid)
		if kid == "" {
			return nil, errors.New("token key id required")
		}
		pub, ok := keys[kid]
		if !ok {
			return nil, errors.New("unknown token key")
		}
		return pub, nil
	}
}

// BearerToken extracts a bearer token from request header.
func BearerToken(r *http.Request) (string, bool) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
