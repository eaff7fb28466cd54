package service

import (
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes and checks user passwords.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Matches(plaintext, hash string) bool
}

// BcryptHasher is the bcrypt PasswordHasher.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher clamps cost into bcrypt's accepted range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (h *BcryptHasher) Matches(plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// unusablePassword returns a random secret nobody knows, for accounts that
// only sign in through a federated provider.
func unusablePassword() string {
	return uuid.NewString()
}
