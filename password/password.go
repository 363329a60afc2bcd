// Package password hashes and checks passwords.  The client never stores
// one; the fake API server does, the way a real server would.
package password

import (
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// FastCost is for tests, where bcrypt's default cost is all cost.
const FastCost = bcrypt.MinCost

var ErrMismatch = errors.New("invalid password")

func Hash(pw string) (string, error) {
	return HashCost(pw, bcrypt.DefaultCost)
}

func HashCost(pw string, cost int) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", fmt.Errorf("can't hash password: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(bytes), nil
}

// Check returns nil if pw matches hash.
func Check(hash, pw string) error {
	bytes, err := base64.RawStdEncoding.DecodeString(hash)
	if err != nil {
		return fmt.Errorf("can't decode hashed password: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword(bytes, []byte(pw)); err != nil {
		return ErrMismatch
	}
	return nil
}
