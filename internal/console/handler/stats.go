package handler

import (
	"net/http"

	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
)

type StatsService interface {
	GetMetrics() domain.SystemMetrics
	Reset()
}

type StatsHandler struct {
	service StatsService
}

func NewStatsHandler(s StatsService) *StatsHandler {
	return &StatsHandler{service: s}
}

// GET /v1/stats
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.GetMetrics())
}

// POST /v1/stats/reset
func (h *StatsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.service.Reset()
	w.WriteHeader(http.StatusNoContent)
}
