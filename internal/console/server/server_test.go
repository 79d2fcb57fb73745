package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/alerts"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/audio"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/backend"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/console/handler"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/infra/auth"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/notify"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/stats"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type fakeConnection struct {
	state       domain.ConnectionState
	connects    int
	disconnects int
}

func (f *fakeConnection) Connect()    { f.connects++; f.state = domain.StateConnecting }
func (f *fakeConnection) Disconnect() { f.disconnects++; f.state = domain.StateDisconnected }
func (f *fakeConnection) Snapshot() domain.ConnectionSnapshot {
	return domain.ConnectionSnapshot{State: f.state, MaxReconnectAttempts: 5}
}

type fakeBackend struct {
	err error
}

func (f *fakeBackend) TestAgent(_ context.Context, req backend.AgentTestRequest) (domain.DetectionResult, error) {
	return domain.DetectionResult{AgentID: req.AgentID, HallucinationRisk: 0.2}, f.err
}
func (f *fakeBackend) UploadBatch(_ context.Context, name string, r io.Reader) (backend.BatchJob, error) {
	data, _ := io.ReadAll(r)
	return backend.BatchJob{JobID: "job-1", Filename: name, TotalItems: strings.Count(string(data), "\n")}, f.err
}
func (f *fakeBackend) StartBatch(_ context.Context, id string) (backend.BatchJob, error) {
	return backend.BatchJob{JobID: id, Status: backend.BatchRunning}, f.err
}
func (f *fakeBackend) CancelBatch(_ context.Context, id string) (backend.BatchJob, error) {
	return backend.BatchJob{JobID: id, Status: backend.BatchCancelled}, f.err
}
func (f *fakeBackend) GetBatch(_ context.Context, id string) (backend.BatchJob, error) {
	return backend.BatchJob{JobID: id}, f.err
}
func (f *fakeBackend) ExportBatch(_ context.Context, id string, format backend.ExportFormat) ([]byte, string, error) {
	return []byte("agent_id\n"), "text/csv", f.err
}
func (f *fakeBackend) AnalyticsSummary(context.Context) (backend.AnalyticsSummary, error) {
	return backend.AnalyticsSummary{TotalRequests: 10}, f.err
}

type fixture struct {
	srv    *httptest.Server
	alerts *alerts.Manager
	conn   *fakeConnection
	be     *fakeBackend
	key    *rsa.PrivateKey
}

func newFixture(t *testing.T, withAuth bool) *fixture {
	t.Helper()
	logger := zap.NewNop()
	store := storage.NewMemoryStore()

	am := alerts.NewManager(store, logger)
	sm := stats.NewManager(store, logger)
	au := audio.NewManager(store, nil, notify.NewHub(logger), logger, audio.WithSyncPlayback())
	t.Cleanup(func() {
		am.Cleanup()
		sm.Cleanup()
		au.Cleanup()
	})

	f := &fixture{alerts: am, conn: &fakeConnection{state: domain.StateConnected}, be: &fakeBackend{}}

	h := Handlers{
		Alerts:     handler.NewAlertHandler(am, nil, logger),
		Settings:   handler.NewSettingsHandler(am, au, sm, logger),
		Audio:      handler.NewAudioHandler(au),
		Stats:      handler.NewStatsHandler(sm),
		Connection: handler.NewConnectionHandler(f.conn, logger),
		Batch:      handler.NewBatchHandler(f.be, logger),
	}

	var validator auth.TokenValidator
	if withAuth {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		f.key = key
		hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
		require.NoError(t, err)

		h.Auth = handler.NewAuthHandler(auth.NewTokenIssuer(key, time.Hour,
			domain.Operator{Username: "viewer", PasswordHash: string(hash), Scopes: map[string]bool{domain.ScopeAlertsRead: true}},
			domain.Operator{Username: "root", PasswordHash: string(hash), Scopes: map[string]bool{domain.ScopeAdmin: true}},
		))
		validator = auth.NewValidator(&key.PublicKey)
	}

	f.srv = httptest.NewServer(NewConsoleServer(logger, validator, h))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestConsole_AlertLifecycle(t *testing.T) {
	f := newFixture(t, false)
	id, ok := f.alerts.CreateHallucinationAlert("agent-1", 0.9, []string{"x"}, "")
	require.True(t, ok)

	resp := f.do(t, http.MethodGet, "/v1/alerts", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	visible := decode[[]domain.PersistentAlert](t, resp)
	require.Len(t, visible, 1)
	assert.Equal(t, domain.SeverityCritical, visible[0].Severity)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/v1/alerts/"+id+"/ack", "", "").StatusCode)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/alerts/"+id+"/ack", "", "").StatusCode)

	st := decode[domain.AlertStats](t, f.do(t, http.MethodGet, "/v1/alerts/stats", "", ""))
	assert.Equal(t, 1, st.Total)
	assert.Zero(t, st.Unacknowledged)

	got := decode[domain.PersistentAlert](t, f.do(t, http.MethodGet, "/v1/alerts/"+id, "", ""))
	assert.Equal(t, "operator", got.AcknowledgedBy)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/alerts/missing", "", "").StatusCode)
	assert.Equal(t, http.StatusNotImplemented, f.do(t, http.MethodGet, "/v1/alerts/"+id+"/history", "", "").StatusCode)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/alerts/"+id, "", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/v1/alerts/"+id, "", "").StatusCode)
}

func TestConsole_AcknowledgeAll(t *testing.T) {
	f := newFixture(t, false)
	f.alerts.CreateHallucinationAlert("a", 0.9, nil, "")
	f.alerts.CreateHallucinationAlert("b", 0.75, nil, "")

	res := decode[map[string]int](t, f.do(t, http.MethodPost, "/v1/alerts/ack", "", ""))
	assert.Equal(t, 2, res["acknowledged"])
}

func TestConsole_Settings(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodPut, "/v1/settings/audio", "", `{"volume":0.3,"sound_profile":"urgent"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	s := decode[domain.AudioSettings](t, resp)
	assert.InDelta(t, 0.3, s.Volume, 1e-9)
	assert.Equal(t, domain.ProfileUrgent, s.SoundProfile)

	assert.Equal(t, http.StatusUnprocessableEntity,
		f.do(t, http.MethodPut, "/v1/settings/audio", "", `{"sound_profile":"loud"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPut, "/v1/settings/alerts", "", `{"unknown_field":1}`).StatusCode)
	assert.Equal(t, http.StatusUnprocessableEntity,
		f.do(t, http.MethodPut, "/v1/settings/stats", "", `{"update_interval":10}`).StatusCode)

	st := decode[domain.StatsSettings](t, f.do(t, http.MethodGet, "/v1/settings/stats", "", ""))
	assert.Equal(t, 1000, st.UpdateInterval)
}

func TestConsole_AudioAndStats(t *testing.T) {
	f := newFixture(t, false)

	ready := decode[map[string]bool](t, f.do(t, http.MethodPost, "/v1/audio/enable", "", ""))
	assert.False(t, ready["ready"], "no output device")

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/audio/test/extreme", "", "").StatusCode)
	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/v1/audio/test/high", "", "").StatusCode)

	m := decode[domain.SystemMetrics](t, f.do(t, http.MethodGet, "/v1/stats", "", ""))
	assert.Zero(t, m.TotalResponses)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/v1/stats/reset", "", "").StatusCode)
}

func TestConsole_Connection(t *testing.T) {
	f := newFixture(t, false)

	snap := decode[domain.ConnectionSnapshot](t, f.do(t, http.MethodPost, "/v1/connection/disconnect", "", ""))
	assert.Equal(t, domain.StateDisconnected, snap.State)

	resp := f.do(t, http.MethodPost, "/v1/connection/connect", "", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, f.conn.connects)
	assert.Equal(t, 1, f.conn.disconnects)
}

func TestConsole_BackendProxy(t *testing.T) {
	f := newFixture(t, false)

	res := decode[domain.DetectionResult](t, f.do(t, http.MethodPost, "/v1/detect", "", `{"agent_id":"a1","query":"q","output":"o"}`))
	assert.Equal(t, "a1", res.AgentID)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/detect", "", `{"agent_id":"a1"}`).StatusCode)

	job := decode[backend.BatchJob](t, f.do(t, http.MethodPost, "/v1/batch/job-3/start", "", ""))
	assert.Equal(t, backend.BatchRunning, job.Status)

	resp := f.do(t, http.MethodGet, "/v1/batch/job-3/export?format=csv", "", "")
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "batch-job-3.csv")
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/batch/job-3/export?format=xml", "", "").StatusCode)

	f.be.err = &backend.ThrottleError{RetryAfter: 3 * time.Second}
	resp = f.do(t, http.MethodGet, "/v1/batch/job-3", "", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "3", resp.Header.Get("Retry-After"))

	f.be.err = &backend.StatusError{Endpoint: "batch_get", Code: http.StatusNotFound, Body: "no such job"}
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/batch/nope", "", "").StatusCode)

	f.be.err = &backend.StatusError{Endpoint: "batch_get", Code: http.StatusInternalServerError}
	assert.Equal(t, http.StatusBadGateway, f.do(t, http.MethodGet, "/v1/batch/nope", "", "").StatusCode)
}

func TestConsole_Auth(t *testing.T) {
	f := newFixture(t, true)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/alerts", "", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized,
		f.do(t, http.MethodPost, "/auth/token", "", `{"username":"viewer","password":"nope"}`).StatusCode)

	login := func(user string) string {
		resp := f.do(t, http.MethodPost, "/auth/token", "", `{"username":"`+user+`","password":"pw"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		return decode[domain.TokenResponse](t, resp).AccessToken
	}
	viewer := login("viewer")
	root := login("root")

	id, _ := f.alerts.CreateHallucinationAlert("agent-1", 0.9, nil, "")

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/alerts", viewer, "").StatusCode)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/v1/alerts/"+id+"/ack", viewer, "").StatusCode)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/v1/detect", viewer, `{}`).StatusCode)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/v1/alerts/"+id+"/ack", root, "").StatusCode)
	got, err := f.alerts.GetAlert(id)
	require.NoError(t, err)
	assert.Equal(t, "root", got.AcknowledgedBy, "operator comes from the token")
}
