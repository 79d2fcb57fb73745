package handler

import (
	"net/http"

	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
)

type TokenIssuer interface {
	GenerateToken(username, password string) (*domain.TokenResponse, error)
}

type AuthHandler struct {
	issuer TokenIssuer
}

func NewAuthHandler(i TokenIssuer) *AuthHandler {
	return &AuthHandler{issuer: i}
}

// POST /auth/token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	resp, err := h.issuer.GenerateToken(req.Username, req.Password)
	if err != nil {
		// не уточняем, что именно неверно (логин или пароль) для защиты от перебора
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
