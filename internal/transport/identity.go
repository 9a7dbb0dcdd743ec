package transport

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSubject is returned when a session token carries no usable identity.
var ErrNoSubject = errors.New("token has no subject claim")

// IdentityFromToken extracts the worker identity from a session token.
//
// The signature is not verified: the token was issued to this device by
// the remote authority, which verifies it on every request. The device only
// needs the subject to scope downloads. An "id" claim is accepted when
// "sub" is absent.
func IdentityFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err == nil && sub != "" {
		return sub, nil
	}
	switch id := claims["id"].(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", id), nil
	}
	return "", ErrNoSubject
}
