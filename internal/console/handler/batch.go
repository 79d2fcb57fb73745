package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/backend"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
	"go.uber.org/zap"
)

const maxUploadBytes = 32 << 20

// BackendService — REST-вызовы бэкенда детекции, проксируемые консолью.
type BackendService interface {
	TestAgent(ctx context.Context, req backend.AgentTestRequest) (domain.DetectionResult, error)
	UploadBatch(ctx context.Context, filename string, r io.Reader) (backend.BatchJob, error)
	StartBatch(ctx context.Context, jobID string) (backend.BatchJob, error)
	CancelBatch(ctx context.Context, jobID string) (backend.BatchJob, error)
	GetBatch(ctx context.Context, jobID string) (backend.BatchJob, error)
	ExportBatch(ctx context.Context, jobID string, format backend.ExportFormat) ([]byte, string, error)
	AnalyticsSummary(ctx context.Context) (backend.AnalyticsSummary, error)
}

type BatchHandler struct {
	service BackendService
	logger  *zap.Logger
}

func NewBatchHandler(s BackendService, logger *zap.Logger) *BatchHandler {
	return &BatchHandler{service: s, logger: logger}
}

// Detect отправляет один ответ агента на проверку.
// POST /v1/detect
func (h *BatchHandler) Detect(w http.ResponseWriter, r *http.Request) {
	var req backend.AgentTestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.AgentID == "" || req.Output == "" {
		http.Error(w, "agent_id and output are required", http.StatusBadRequest)
		return
	}

	res, err := h.service.TestAgent(r.Context(), req)
	if err != nil {
		h.fail(w, "test agent", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Upload принимает multipart-поле "file" и передает его бэкенду.
// POST /v1/batch
func (h *BatchHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	f, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "multipart field 'file' is required", http.StatusBadRequest)
		return
	}
	defer f.Close()

	job, err := h.service.UploadBatch(r.Context(), hdr.Filename, f)
	if err != nil {
		h.fail(w, "upload batch", err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// POST /v1/batch/{id}/start
func (h *BatchHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.jobCall(w, r, "start batch", h.service.StartBatch)
}

// POST /v1/batch/{id}/cancel
func (h *BatchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.jobCall(w, r, "cancel batch", h.service.CancelBatch)
}

// GET /v1/batch/{id}
func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.jobCall(w, r, "get batch", h.service.GetBatch)
}

// GET /v1/batch/{id}/export?format=json|csv
func (h *BatchHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := backend.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = backend.ExportJSON
	}
	if !format.Valid() {
		http.Error(w, "format must be json or csv", http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	data, ct, err := h.service.ExportBatch(r.Context(), id, format)
	if err != nil {
		h.fail(w, "export batch", err)
		return
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", `attachment; filename="batch-`+id+`.`+string(format)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// GET /v1/analytics/summary
func (h *BatchHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.AnalyticsSummary(r.Context())
	if err != nil {
		h.fail(w, "analytics summary", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *BatchHandler) jobCall(w http.ResponseWriter, r *http.Request, op string, call func(context.Context, string) (backend.BatchJob, error)) {
	job, err := call(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// fail переводит ошибки бэкенда в коды консоли.
func (h *BatchHandler) fail(w http.ResponseWriter, op string, err error) {
	var (
		tErr *backend.ThrottleError
		sErr *backend.StatusError
	)
	switch {
	case errors.As(err, &tErr):
		w.Header().Set("Retry-After", strconv.Itoa(int(tErr.RetryAfter.Seconds())))
		http.Error(w, "Detection backend is throttling requests", http.StatusTooManyRequests)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests),
		errors.Is(err, backend.ErrRateLimited):
		http.Error(w, "Detection backend is unavailable", http.StatusServiceUnavailable)
	case errors.As(err, &sErr) && !sErr.Temporary():
		http.Error(w, sErr.Body, sErr.Code)
	default:
		h.logger.Error("backend call failed", zap.String("op", op), zap.Error(err))
		http.Error(w, "Detection backend error", http.StatusBadGateway)
	}
}
