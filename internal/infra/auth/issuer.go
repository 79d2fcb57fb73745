package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// TokenIssuer выдает RS256-токены операторам из конфига.
type TokenIssuer struct {
	operators  map[string]domain.Operator
	privateKey *rsa.PrivateKey
	ttl        time.Duration
	now        func() time.Time
}

func NewTokenIssuer(privateKey *rsa.PrivateKey, ttl time.Duration, operators ...domain.Operator) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	m := make(map[string]domain.Operator, len(operators))
	for _, op := range operators {
		m[op.Username] = op
	}
	return &TokenIssuer{operators: m, privateKey: privateKey, ttl: ttl, now: time.Now}
}

func (s *TokenIssuer) GenerateToken(username, password string) (*domain.TokenResponse, error) {
	// 1. Аутентификация
	op, ok := s.operators[username]
	if !ok || op.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}

	// 2. Проверка пароля (bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	// 3. Claims
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := &domain.CustomClaims{
		OperatorID: op.Username,
		Scopes:     op.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   op.Username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	// 4. Подпись закрытым ключом (RS256)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.ttl.Seconds()),
	}, nil
}
