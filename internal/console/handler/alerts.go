package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/infra/auth"
	"go.uber.org/zap"
)

// AlertService — то, что консоли нужно от менеджера персистентных алертов.
type AlertService interface {
	GetVisibleAlerts() []domain.PersistentAlert
	GetAllAlerts() []domain.PersistentAlert
	GetAlert(id string) (domain.PersistentAlert, error)
	GetAlertStats() domain.AlertStats
	AcknowledgeAlert(id, by string) bool
	AcknowledgeAll(by string) int
	DismissAlert(id string) bool
	ClearAll()
}

// AlertHistory — архив событий алерта (Postgres). Может отсутствовать.
type AlertHistory interface {
	History(ctx context.Context, alertID string, limit int) ([]domain.AlertEvent, error)
}

type AlertHandler struct {
	service AlertService
	history AlertHistory
	logger  *zap.Logger
}

func NewAlertHandler(s AlertService, history AlertHistory, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{service: s, history: history, logger: logger}
}

// Visible — неподтвержденные алерты в порядке показа.
// GET /v1/alerts
func (h *AlertHandler) Visible(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.GetVisibleAlerts())
}

// GET /v1/alerts/all
func (h *AlertHandler) All(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.GetAllAlerts())
}

// GET /v1/alerts/stats
func (h *AlertHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.GetAlertStats())
}

// GET /v1/alerts/{id}
func (h *AlertHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.GetAlert(chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrAlertNotFound) {
		http.Error(w, "Alert not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// History отдает архив событий алерта, если подключен Postgres.
// GET /v1/alerts/{id}/history?limit=
func (h *AlertHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "Alert archive is not configured", http.StatusNotImplemented)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := h.history.History(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.logger.Error("alert history query failed", zap.Error(err))
		http.Error(w, "Failed to fetch alert history", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []domain.AlertEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// Acknowledge подтверждает алерт от имени оператора из токена.
// POST /v1/alerts/{id}/ack
func (h *AlertHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.service.AcknowledgeAlert(id, auth.Operator(r.Context(), "operator")) {
		// неизвестный или уже подтвержденный
		http.Error(w, "Alert not found or already acknowledged", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/alerts/ack
func (h *AlertHandler) AcknowledgeAll(w http.ResponseWriter, r *http.Request) {
	n := h.service.AcknowledgeAll(auth.Operator(r.Context(), "operator"))
	writeJSON(w, http.StatusOK, map[string]int{"acknowledged": n})
}

// DELETE /v1/alerts/{id}
func (h *AlertHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	if !h.service.DismissAlert(chi.URLParam(r, "id")) {
		http.Error(w, "Alert not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /v1/alerts
func (h *AlertHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.service.ClearAll()
	w.WriteHeader(http.StatusNoContent)
}
