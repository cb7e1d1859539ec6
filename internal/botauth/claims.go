// ABOUTME: Unverified decoding of user token claims for display purposes
// ABOUTME: Reads name, preferred_username, and tenant id without signature checks

package botauth

import (
	"github.com/golang-jwt/jwt/v5"
)

// UserClaims are the display-relevant claims from a user's SSO token.
type UserClaims struct {
	Name              string
	PreferredUsername string
	TenantID          string
}

// DisplayName returns the best available human-readable name.
func (c UserClaims) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.PreferredUsername != "" {
		return c.PreferredUsername
	}
	return "User"
}

// DecodeUserClaims decodes a user token without verifying its signature.
// The token was issued for the user, not for us; we only read claims for
// display, never for authorization decisions.
func DecodeUserClaims(raw string) UserClaims {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return UserClaims{}
	}

	str := func(key string) string {
		v, _ := claims[key].(string)
		return v
	}
	return UserClaims{
		Name:              str("name"),
		PreferredUsername: str("preferred_username"),
		TenantID:          str("tid"),
	}
}
