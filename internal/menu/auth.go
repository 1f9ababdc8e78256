package menu

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted admin password.
const MinPasswordLength = 8

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", fmt.Errorf("%w password: at least %d characters", ErrInvalid, MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// NewAdmin builds an admin user with a hashed password.
func NewAdmin(email, password string) (*AdminUser, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w admin email %q", ErrInvalid, email)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &AdminUser{Email: email, PasswordHash: hash, CreatedAt: time.Now().UTC()}, nil
}

// Authenticate checks email and password against the admin list.
func Authenticate(ctx context.Context, repo Repository, email, password string) (*AdminUser, error) {
	admin, err := repo.Admin(ctx, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return nil, ErrUnauthorized
	}
	return admin, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
