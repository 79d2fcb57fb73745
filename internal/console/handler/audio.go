package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
)

type AudioService interface {
	EnableAudio(ctx context.Context)
	Ready() bool
	TestAlert(level domain.RiskLevel) error
}

type AudioHandler struct {
	service AudioService
}

func NewAudioHandler(s AudioService) *AudioHandler {
	return &AudioHandler{service: s}
}

// Enable — аналог пользовательского жеста, разблокирующего звук.
// POST /v1/audio/enable
func (h *AudioHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.service.EnableAudio(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"ready": h.service.Ready()})
}

// POST /v1/audio/test/{level}
func (h *AudioHandler) Test(w http.ResponseWriter, r *http.Request) {
	err := h.service.TestAlert(domain.RiskLevel(chi.URLParam(r, "level")))
	if errors.Is(err, domain.ErrUnknownLevel) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
