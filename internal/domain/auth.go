package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// Скоупы консоли оператора.
const (
	ScopeAdmin      = "admin"
	ScopeAlertsRead = "alerts.read"
	ScopeAlertsAck  = "alerts.ack"
	ScopeSettings   = "settings.write"
	ScopeBatch      = "batch.run"
)

type CustomClaims struct {
	OperatorID string          `json:"operator_id"`
	Scopes     map[string]bool `json:"scopes"` // "admin": true или "alerts.ack": true
	jwt.RegisteredClaims
}

// Allows проверяет скоуп; admin разрешает всё.
func (c *CustomClaims) Allows(scope string) bool {
	if c == nil {
		return false
	}
	return c.Scopes[ScopeAdmin] || c.Scopes[scope]
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

// Operator — учетная запись консоли, задается в конфиге (bcrypt-хэш пароля).
type Operator struct {
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"` // Никогда не отправляем на фронт
	Scopes       map[string]bool `json:"scopes"`
}
