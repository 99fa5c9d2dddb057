package auth

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is enforced at sign-up.
const MinPasswordLength = 8

// bcrypt rejects longer inputs.
const maxPasswordLength = 72

type passwordHasher struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

func (h *passwordHasher) hash(password string) (string, error) {
	if err := checkPassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// verify compares password against hash. An empty hash still runs a bcrypt
// comparison so unknown emails take as long as wrong passwords.
func (h *passwordHasher) verify(hash, password string) error {
	if hash == "" {
		h.dummyOnce.Do(func() {
			h.dummy, _ = bcrypt.GenerateFromPassword([]byte("pricetrail-dummy"), h.cost)
		})
		_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func checkPassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordLength)
	}
	return nil
}
