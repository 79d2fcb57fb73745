package handler

import (
	"errors"
	"net/http"

	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
	"go.uber.org/zap"
)

type AlertSettingsService interface {
	GetSettings() domain.AlertSettings
	UpdateSettings(domain.AlertSettingsPatch) (domain.AlertSettings, error)
}

type AudioSettingsService interface {
	GetSettings() domain.AudioSettings
	UpdateSettings(domain.AudioSettingsPatch) (domain.AudioSettings, error)
}

type StatsSettingsService interface {
	GetSettings() domain.StatsSettings
	UpdateSettings(domain.StatsSettingsPatch) (domain.StatsSettings, error)
}

// SettingsHandler — GET/PUT настроек трех менеджеров. PUT принимает частичный патч.
type SettingsHandler struct {
	alerts AlertSettingsService
	audio  AudioSettingsService
	stats  StatsSettingsService
	logger *zap.Logger
}

func NewSettingsHandler(alerts AlertSettingsService, audio AudioSettingsService, stats StatsSettingsService, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{alerts: alerts, audio: audio, stats: stats, logger: logger}
}

func (h *SettingsHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.alerts.GetSettings())
}

func (h *SettingsHandler) UpdateAlerts(w http.ResponseWriter, r *http.Request) {
	var patch domain.AlertSettingsPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	s, err := h.alerts.UpdateSettings(patch)
	h.respond(w, "alerts", s, err)
}

func (h *SettingsHandler) GetAudio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.audio.GetSettings())
}

func (h *SettingsHandler) UpdateAudio(w http.ResponseWriter, r *http.Request) {
	var patch domain.AudioSettingsPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	s, err := h.audio.UpdateSettings(patch)
	h.respond(w, "audio", s, err)
}

func (h *SettingsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.GetSettings())
}

func (h *SettingsHandler) UpdateStats(w http.ResponseWriter, r *http.Request) {
	var patch domain.StatsSettingsPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	s, err := h.stats.UpdateSettings(patch)
	h.respond(w, "stats", s, err)
}

func (h *SettingsHandler) respond(w http.ResponseWriter, section string, v interface{}, err error) {
	switch {
	case err == nil:
		h.logger.Info("settings updated", zap.String("section", section))
		writeJSON(w, http.StatusOK, v)
	case errors.Is(err, domain.ErrInvalidSettings):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Error("settings update failed", zap.String("section", section), zap.Error(err))
		http.Error(w, "Failed to update settings", http.StatusInternalServerError)
	}
}
