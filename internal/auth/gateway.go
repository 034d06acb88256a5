// Package auth issues and verifies the bearer tokens that authenticate API
// callers, and maps a valid token to a user identity.
//
// Tokens are HS256-signed JWTs whose subject is the user id. The rest of the
// system only ever sees the resolved user id, never raw credentials; the one
// error class this package produces, [ErrUnauthenticated], is also the one
// error class the API must never soften.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned for missing, malformed, expired, or
// otherwise invalid tokens.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

const defaultTokenTTL = 24 * time.Hour

// Gateway issues and verifies bearer tokens. Safe for concurrent use.
type Gateway struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// Option is a functional option for [NewGateway].
type Option func(*Gateway)

// WithIssuer sets the issuer claim written into and required from tokens.
func WithIssuer(issuer string) Option {
	return func(g *Gateway) { g.issuer = issuer }
}

// WithTokenTTL overrides the token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(g *Gateway) { g.ttl = ttl }
}

// NewGateway creates a token gateway signing with the given secret.
func NewGateway(secret string, opts ...Option) (*Gateway, error) {
	if secret == "" {
		return nil, errors.New("auth: signing secret must not be empty")
	}
	g := &Gateway{
		secret: []byte(secret),
		ttl:    defaultTokenTTL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// IssueToken creates a signed bearer token for userID.
func (g *Gateway) IssueToken(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("auth: user id must not be empty")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    g.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ResolveIdentity verifies a bearer token and returns the user id it was
// issued for. All verification failures map to [ErrUnauthenticated].
func (g *Gateway) ResolveIdentity(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	parseOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if g.issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(g.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return g.secret, nil
	}, parseOpts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return claims.Subject, nil
}
