package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classhub/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the signed session payload.
type Claims struct {
	UserID   string       `json:"user_id"`
	Username string       `json:"username"`
	Level    models.Level `json:"level"`
	jwt.RegisteredClaims
}

type TokenService struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewTokenService(key string, ttl time.Duration) (*TokenService, error) {
	if len(key) == 0 {
		return nil, errors.New("key is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &TokenService{key: []byte(key), ttl: ttl, now: time.Now}, nil
}

func (s *TokenService) Issue(u models.User) (string, time.Time, error) {
	now := s.now().UTC()
	exp := now.Add(s.ttl)
	claims := Claims{
		UserID:   u.ID,
		Username: u.Username,
		Level:    u.Level,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies the signature and expiry. Any failure maps to ErrInvalidToken.
func (s *TokenService) Parse(tokenString string) (Claims, error) {
	if tokenString == "" {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid || claims.UserID == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
