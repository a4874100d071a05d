package validation

import (
	"fmt"
	"regexp"

	"github.com/iudanet/learnsync/internal/models"
)

// UsernamePattern определяет допустимый формат username
// Латинские буквы (a-z, A-Z), цифры (0-9), нижнее подчеркивание (_) и точка
// Длина: 3-50 символов
var UsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.]{3,50}$`)

const (
	// MinUsernameLen минимальная длина username
	MinUsernameLen = 3
	// MaxUsernameLen максимальная длина username
	MaxUsernameLen = 50
	// MinPasswordLen минимальная длина пароля
	MinPasswordLen = 6
)

// ValidateUsername проверяет, что username соответствует требованиям
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	if len(username) < MinUsernameLen {
		return fmt.Errorf("username must be at least %d characters long", MinUsernameLen)
	}

	if len(username) > MaxUsernameLen {
		return fmt.Errorf("username must not exceed %d characters", MaxUsernameLen)
	}

	if !UsernamePattern.MatchString(username) {
		return fmt.Errorf("username can only contain letters, numbers, dots and underscores")
	}

	return nil
}

// ValidatePassword проверяет минимальные требования к паролю
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if len(password) < MinPasswordLen {
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLen)
	}

	return nil
}

// ValidateRole проверяет роль; пустая роль допустима и означает student
func ValidateRole(role string) error {
	if role == "" {
		return nil
	}
	if !models.Role(role).Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	return nil
}
