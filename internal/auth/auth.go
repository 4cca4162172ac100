// Package auth turns bearer tokens issued by the session service into an
// explicit Identity that is passed into every booking operation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleCustomer = "customer"
	RoleOperator = "operator"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the authenticated caller. UserID owns bookings and seat holds.
type Identity struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (i Identity) IsOperator() bool { return i.Role == RoleOperator }

// Claims is the token body shared with the session service.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Tokens struct {
	secret []byte
}

func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret)}
}

// Issue signs a token for id. Used by tests and local tooling; production
// tokens come from the session service with the same secret.
func (t *Tokens) Issue(id Identity, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse validates raw and returns the identity it carries.
func (t *Tokens) Parse(raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	role := claims.Role
	if role == "" {
		role = RoleCustomer
	}
	return Identity{UserID: claims.Subject, Role: role}, nil
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
