package system

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns the bcrypt hash of password. A cost below bcrypt.MinCost uses the default.
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func VerifyPassword(hashed, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}

// SystemUser is the single operator account guarding the system routes.
type SystemUser struct {
	Username string
	Password string
}

// Verify compares in constant time. An unconfigured user never matches.
func (u SystemUser) Verify(username, password string) bool {
	if u.Username == "" || u.Password == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(u.Username), []byte(username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) == 1
	return userOK && passOK
}
