package jwt

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/iudanet/learnsync/internal/crypto"
	"github.com/iudanet/learnsync/internal/models"
)

const issuer = "learnsync"

// Service provides JWT token generation and validation
type Service struct {
	secret          []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

// Claims represents JWT claims
type Claims struct {
	UserID   string      `json:"user_id"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
	jwtlib.RegisteredClaims
}

// NewService creates a new JWT service
// secret should be a cryptographically secure random string
func NewService(secret string, accessTokenTTL, refreshTokenTTL time.Duration) *Service {
	return &Service{
		secret:          []byte(secret),
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
	}
}

// GenerateAccessToken создает новый JWT access token, возвращает токен и TTL в секундах
func (s *Service) GenerateAccessToken(user *models.User) (string, int64, error) {
	now := time.Now()

	claims := Claims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwtlib.NewNumericDate(now.Add(s.accessTokenTTL)),
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, int64(s.accessTokenTTL.Seconds()), nil
}

// GenerateRefreshToken создает новый случайный refresh token
func (s *Service) GenerateRefreshToken() (string, time.Time, error) {
	token, err := crypto.GenerateToken(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return token, time.Now().Add(s.refreshTokenTTL), nil
}

// ValidateAccessToken validates and parses JWT access token
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwtlib.ParseWithClaims(tokenString, &Claims{}, func(token *jwtlib.Token) (any, error) {
		// Проверяем что используется правильный алгоритм подписи
		if _, ok := token.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwtlib.WithIssuer(issuer), jwtlib.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

// Authenticate превращает bearer-токен в идентичность вызывающего.
// Любая ошибка возвращается как models.ErrUnauthenticated.
func (s *Service) Authenticate(tokenString string) (models.Caller, error) {
	if tokenString == "" {
		return models.Caller{}, models.NewError(models.KindUnauthenticated, "missing credential", nil)
	}

	claims, err := s.ValidateAccessToken(tokenString)
	if err != nil {
		return models.Caller{}, models.NewError(models.KindUnauthenticated, "invalid credential", err)
	}

	if claims.UserID == "" || !claims.Role.Valid() {
		return models.Caller{}, models.NewError(models.KindUnauthenticated, "incomplete claims", nil)
	}

	return models.Caller{ID: claims.UserID, Role: claims.Role}, nil
}
