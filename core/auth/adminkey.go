package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrAdminKeyInvalid = errors.New("admin key invalid")

// VerifyAdminKey checks a presented admin key against the configured bcrypt
// hash. The plain key is never stored or logged.
func VerifyAdminKey(hash, presented string) error {
	if hash == "" || presented == "" {
		return ErrAdminKeyInvalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(presented)); err != nil {
		return ErrAdminKeyInvalid
	}
	return nil
}

// HashAdminKey produces the bcrypt hash for provisioning tooling.
func HashAdminKey(key string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
