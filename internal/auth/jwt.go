/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/conference-hall/scheduler/internal/models"
)

// AllEvents in Claims.Events grants access to every event.
const AllEvents = "*"

// Claims extends standard registered claims with team roles and the events
// the bearer may work on.
type Claims struct {
	UserID string   `json:"uid"`
	Roles  []string `json:"roles"`
	Events []string `json:"events"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry role after normalization.
func (c *Claims) HasRole(role models.TeamRole) bool {
	for _, r := range c.Roles {
		if models.NormalizeTeamRole(models.TeamRole(r)) == role {
			return true
		}
	}
	return false
}

// CanAccessEvent reports whether the bearer belongs to eventID's team.
func (c *Claims) CanAccessEvent(eventID string) bool {
	return slices.Contains(c.Events, AllEvents) || slices.Contains(c.Events, eventID)
}

// Issue creates JWT token string.
func Issue(secret []byte, claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Subject:   claims.UserID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Parse validates token string. Only HS256 is accepted.
func Parse(secret []byte, token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}
