package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokensRoundTrip(t *testing.T) {
	tokens := NewTokens("secret")
	now := time.Now()

	raw, err := tokens.Issue(Identity{UserID: "u-1", Role: RoleOperator}, time.Hour, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := tokens.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.UserID != "u-1" || !id.IsOperator() {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestParseRejects(t *testing.T) {
	tokens := NewTokens("secret")
	now := time.Now()

	expired, _ := tokens.Issue(Identity{UserID: "u-1"}, time.Minute, now.Add(-time.Hour))
	foreign, _ := NewTokens("other").Issue(Identity{UserID: "u-1"}, time.Hour, now)

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"expired":      expired,
		"wrong secret": foreign,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := tokens.Parse(raw); !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("expected ErrUnauthenticated, got %v", err)
			}
		})
	}
}

func TestDefaultRoleIsCustomer(t *testing.T) {
	tokens := NewTokens("secret")
	raw, _ := tokens.Issue(Identity{UserID: "u-2"}, time.Hour, time.Now())
	id, err := tokens.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.Role != RoleCustomer {
		t.Fatalf("role = %q, want %q", id.Role, RoleCustomer)
	}
}

func TestContextCarriesIdentity(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{UserID: "u-3"})
	id, ok := FromContext(ctx)
	if !ok || id.UserID != "u-3" {
		t.Fatalf("identity not carried: %+v %v", id, ok)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("empty context should carry no identity")
	}
}
