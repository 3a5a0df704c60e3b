package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/mamyekta/novabot/internal/common"
)

// HashPassword produces a bcrypt hash suitable for the operator password
// config field.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a candidate against the stored bcrypt hash.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return common.ErrUnauthorized
	}
	return nil
}
