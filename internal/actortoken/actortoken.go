// Package actortoken resolves the already-authenticated caller from the
// bearer token issued by the identity provider.
package actortoken

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/mnajarc/sistemaInm-sub001/internal/servicetoken"
	"github.com/mnajarc/sistemaInm-sub001/internal/util"
	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
)

var ErrInvalidToken = errors.New("invalid actor token")

// Claims carried by actor tokens. Role is a free-form name mapped through
// domain.ParseRole; unknown names resolve to an actor with no privileges.
type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Resolver verifies actor tokens.
type Resolver struct {
	keys     map[string]*rsa.PublicKey
	issuer   string
	audience string
	leeway   time.Duration
}

// NewResolver builds a resolver over a kid-indexed RSA key set.
func NewResolver(keys map[string]*rsa.PublicKey, issuer, audience string) (*Resolver, error) {
	if len(keys) == 0 {
		return nil, errors.New("actor token verification key is required")
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, errors.New("actor token issuer is required")
	}
	return &Resolver{keys: keys, issuer: issuer, audience: strings.TrimSpace(audience), leeway: servicetoken.DefaultLeeway}, nil
}

// Resolve verifies token and returns the actor it names.
func (r *Resolver) Resolve(token string) (domain.Actor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Actor{}, ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(r.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(r.leeway),
	}
	if r.audience != "" {
		opts = append(opts, jwt.WithAudience(r.audience))
	}
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, servicetoken.KeyFunc(r.keys), opts...)
	if err != nil || !parsed.Valid {
		return domain.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" || sub == domain.SystemActor.ID {
		return domain.Actor{}, fmt.Errorf("%w: invalid subject", ErrInvalidToken)
	}
	return domain.Actor{ID: sub, Name: claims.Name, Role: domain.ParseRole(claims.Role)}, nil
}

// Issuer mints actor tokens. The docs service never issues tokens in
// production; this serves local tooling and tests.
type Issuer struct {
	key      *rsa.PrivateKey
	kid      string
	issuer   string
	audience string
	ttl      time.Duration
}

func NewIssuer(key *rsa.PrivateKey, kid, issuer, audience string, ttl time.Duration) *Issuer {
	if kid == "" {
		kid = servicetoken.DefaultKeyID
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{key: key, kid: kid, issuer: issuer, audience: audience, ttl: ttl}
}

// Issue signs a token for actorID with the given role name.
func (i *Issuer) Issue(actorID, name, role string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Name: name,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        util.NewID(),
		},
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = i.kid
	return t.SignedString(i.key)
}
