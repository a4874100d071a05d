package models

import "time"

// Role роль пользователя платформы
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// Caller аутентифицированный отправитель запроса
type Caller struct {
	ID   string
	Role Role
}

// User представляет пользователя в системе
type User struct {
	CreatedAt    time.Time  `json:"created_at"`    // время создания
	LastLogin    *time.Time `json:"last_login"`    // время последнего входа
	ID           string     `json:"id"`            // UUID пользователя
	Username     string     `json:"username"`      // уникальный username
	Email        string     `json:"email"`         // email (опционально)
	FirstName    string     `json:"first_name"`    // имя
	LastName     string     `json:"last_name"`     // фамилия
	PasswordHash string     `json:"password_hash"` // bcrypt хеш пароля
	Role         Role       `json:"role"`          // student, teacher, admin
	IsActive     bool       `json:"is_active"`     // неактивные пользователи не проходят аутентификацию
}

// RefreshToken представляет refresh token пользователя
type RefreshToken struct {
	ExpiresAt time.Time `json:"expires_at"` // время истечения
	CreatedAt time.Time `json:"created_at"` // время создания
	Token     string    `json:"token"`      // значение токена
	UserID    string    `json:"user_id"`    // ID пользователя
}

// IsExpired проверяет, истек ли токен
func (t *RefreshToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}
