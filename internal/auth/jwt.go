package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes granted to API tokens
const (
	ScopeRead = "renewals:read"
	ScopeRun  = "renewals:run"
)

// Claims represents JWT claims of an API token
type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Has reports whether the token grants scope
func (c *Claims) Has(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Issuer signs and verifies HS256 API tokens
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer; ttl is used when Generate is given no expiry
func NewIssuer(secret, issuer string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("JWT secret not initialized")
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// GenerateToken mints a token for subject, valid for ttl (the default when zero)
func (i *Issuer) GenerateToken(subject string, scopes []string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = i.ttl
	}
	now := i.now()
	expireAt := now.Add(ttl)

	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expireAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    i.issuer,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expireAt, nil
}

// ParseToken parses and validates a token issued by this Issuer
func (i *Issuer) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(i.issuer), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}
