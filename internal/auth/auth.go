package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

type ctxKey int

// ClaimsKey is the request context key under which authenticated Claims are stored.
const ClaimsKey ctxKey = 1

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient role")
)

// Claims are the JWT claims issued to signed-in users. Subject holds the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles"`
}

// HasRole reports whether the claims carry role.
func (c Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

func (c Claims) IsAdmin() bool {
	return c.HasRole(RoleAdmin)
}

// RequireRole is the single capability check used by every privileged code path.
func RequireRole(c Claims, roles ...string) error {
	for _, role := range roles {
		if c.HasRole(role) {
			return nil
		}
	}
	return fmt.Errorf("%w: need one of %v", ErrForbidden, roles)
}

// Keys signs and validates HS256 tokens.
type Keys struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewKeys(secret string, ttl time.Duration) (*Keys, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &Keys{secret: []byte(secret), ttl: ttl, issuer: "storefront", now: time.Now}, nil
}

// GenerateToken issues a signed token for the given user.
func (k *Keys) GenerateToken(userID, email string, roles []string) (string, error) {
	now := k.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    k.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(k.ttl)),
		},
		Email: email,
		Roles: roles,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(k.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

func (k *Keys) ValidateToken(tokenStr string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (any, error) {
		return k.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(k.issuer),
		jwt.WithTimeFunc(k.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// ClaimsFromContext returns the claims stored by the authentication middleware.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(Claims)
	return claims, ok
}
