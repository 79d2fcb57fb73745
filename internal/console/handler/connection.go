package handler

import (
	"net/http"

	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
	"go.uber.org/zap"
)

type ConnectionService interface {
	Connect()
	Disconnect()
	Snapshot() domain.ConnectionSnapshot
}

// ConnectionHandler — ручное управление потоком /ws/monitor.
type ConnectionHandler struct {
	service ConnectionService
	logger  *zap.Logger
}

func NewConnectionHandler(s ConnectionService, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{service: s, logger: logger}
}

// GET /v1/connection
func (h *ConnectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Snapshot())
}

// Connect — ручное переподключение; сбрасывает счетчик попыток после исчерпания.
// POST /v1/connection/connect
func (h *ConnectionHandler) Connect(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("manual connect requested")
	h.service.Connect()
	writeJSON(w, http.StatusAccepted, h.service.Snapshot())
}

// POST /v1/connection/disconnect
func (h *ConnectionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("manual disconnect requested")
	h.service.Disconnect()
	writeJSON(w, http.StatusOK, h.service.Snapshot())
}
