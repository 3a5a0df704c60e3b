// Package auth issues and verifies the operator tokens used by the admin
// HTTP endpoints, and checks the operator password.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mamyekta/novabot/internal/common"
)

// Claims carries the standard claims plus the authenticated subject.
type Claims struct {
	jwt.RegisteredClaims
	Subject string
}

// GenerateToken signs an HS256 token for the subject.
func GenerateToken(subject string, secretKey []byte, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
		},
		Subject: subject,
	})
	return token.SignedString(secretKey)
}

// SubjectFromToken verifies the token signature and expiry and returns the
// subject it was issued for.
func SubjectFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: token expired", common.ErrInvalidToken)
		}
		return "", fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", common.ErrInvalidToken
	}

	return claims.Subject, nil
}
