package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Credentials checks logins against the configured operator account.
type Credentials struct {
	email string
	hash  []byte
}

// NewCredentials accepts either a bcrypt hash or a plain password, which is
// hashed once here. A zero Credentials rejects every login.
func NewCredentials(email, password, passwordHash string) (*Credentials, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	passwordHash = strings.TrimSpace(passwordHash)
	if email == "" || (password == "" && passwordHash == "") {
		return &Credentials{}, nil
	}
	if passwordHash != "" {
		if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
			return nil, fmt.Errorf("admin password hash: %w", err)
		}
		return &Credentials{email: email, hash: []byte(passwordHash)}, nil
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &Credentials{email: email, hash: []byte(hash)}, nil
}

// Configured reports whether an operator account exists.
func (c *Credentials) Configured() bool {
	return c != nil && c.email != ""
}

// Verify returns the account subject on success.
func (c *Credentials) Verify(email, password string) (string, error) {
	if !c.Configured() {
		return "", ErrInvalidCredentials
	}
	email = strings.ToLower(strings.TrimSpace(email))
	emailOK := subtle.ConstantTimeCompare([]byte(email), []byte(c.email)) == 1
	// Always run bcrypt so a wrong email costs the same as a wrong password.
	passwordOK := bcrypt.CompareHashAndPassword(c.hash, []byte(password)) == nil
	if !emailOK || !passwordOK {
		return "", ErrInvalidCredentials
	}
	return c.email, nil
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
