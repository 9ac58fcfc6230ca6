package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/conference-hall/scheduler/internal/models"
)

func TestParse_ValidHS256(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, Claims{
		UserID: "u1",
		Roles:  []string{"owner"},
		Events: []string{"devfest-2026"},
	}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := Parse(secret, token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != "u1" {
		t.Fatalf("expected user id u1, got %q", claims.UserID)
	}
	if !claims.CanAccessEvent("devfest-2026") || claims.CanAccessEvent("other") {
		t.Fatalf("unexpected event access for %v", claims.Events)
	}
}

func TestParse_RejectsUnexpectedAlgorithm(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()
	claims := Claims{
		UserID: "u1",
		Roles:  []string{"owner"},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   "u1",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS384, claims)
	tokenStr, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if _, err := Parse(secret, tokenStr); err == nil {
		t.Fatalf("expected parse to reject non-HS256 token")
	}
}

func TestParse_RejectsExpiredAndForeignTokens(t *testing.T) {
	secret := []byte("test-secret")
	expired, err := Issue(secret, Claims{UserID: "u1"}, -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse(secret, expired); err == nil {
		t.Fatal("expected expired token to be rejected")
	}

	foreign, err := Issue([]byte("other-secret"), Claims{UserID: "u1"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse(secret, foreign); err == nil {
		t.Fatal("expected token signed with another key to be rejected")
	}
}

func TestClaimsHasRoleNormalizes(t *testing.T) {
	claims := &Claims{Roles: []string{"MEMBER"}, Events: []string{AllEvents}}
	if !claims.HasRole(models.TeamRoleMember) {
		t.Fatal("expected legacy MEMBER to count as member")
	}
	if claims.HasRole(models.TeamRoleOwner) {
		t.Fatal("member must not count as owner")
	}
	if !claims.CanAccessEvent("anything") {
		t.Fatal("wildcard events claim must grant access")
	}
}
