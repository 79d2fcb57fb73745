package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/console/handler"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/infra/auth"
	"go.uber.org/zap"
)

// Handlers — обработчики консоли. Auth и Batch опциональны.
type Handlers struct {
	Auth       *handler.AuthHandler       // /auth/token, только при наличии приватного ключа
	Alerts     *handler.AlertHandler      // /v1/alerts
	Settings   *handler.SettingsHandler   // /v1/settings
	Audio      *handler.AudioHandler      // /v1/audio
	Stats      *handler.StatsHandler      // /v1/stats
	Connection *handler.ConnectionHandler // /v1/connection
	Batch      *handler.BatchHandler      // /v1/detect, /v1/batch, /v1/analytics
	Stream     http.Handler               // /v1/stream (WebSocket push)
}

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка RS256-токенов. nil - консоль открыта (локальный режим)
	authValidator auth.TokenValidator
	h             Handlers
}

func NewConsoleServer(logger *zap.Logger, validator auth.TokenValidator, h Handlers) *ConsoleServer {
	s := &ConsoleServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("console-api"),
		authValidator: validator,
		h:             h,
	}
	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router
	enforced := s.authValidator != nil
	scope := func(sc string) func(http.Handler) http.Handler {
		return auth.RequireScope(sc, enforced)
	}

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// --- 2. Публичные роуты ---
	r.Group(func(r chi.Router) {
		if s.h.Auth != nil {
			r.Post("/auth/token", s.h.Auth.Login)
		}
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. Защищенный периметр (RS256), если ключ настроен ---
	r.Group(func(r chi.Router) {
		if enforced {
			r.Use(auth.NewMiddleware(s.authValidator, s.logger))
		}

		r.Route("/v1/alerts", func(r chi.Router) {
			r.With(scope(domain.ScopeAlertsRead)).Get("/", s.h.Alerts.Visible)
			r.With(scope(domain.ScopeAlertsRead)).Get("/all", s.h.Alerts.All)
			r.With(scope(domain.ScopeAlertsRead)).Get("/stats", s.h.Alerts.Stats)
			r.With(scope(domain.ScopeAlertsAck)).Post("/ack", s.h.Alerts.AcknowledgeAll)
			r.With(scope(domain.ScopeAlertsAck)).Delete("/", s.h.Alerts.Clear)
			r.Route("/{id}", func(r chi.Router) {
				r.With(scope(domain.ScopeAlertsRead)).Get("/", s.h.Alerts.Get)
				r.With(scope(domain.ScopeAlertsRead)).Get("/history", s.h.Alerts.History)
				r.With(scope(domain.ScopeAlertsAck)).Post("/ack", s.h.Alerts.Acknowledge)
				r.With(scope(domain.ScopeAlertsAck)).Delete("/", s.h.Alerts.Dismiss)
			})
		})

		r.Route("/v1/settings", func(r chi.Router) {
			r.With(scope(domain.ScopeAlertsRead)).Get("/alerts", s.h.Settings.GetAlerts)
			r.With(scope(domain.ScopeSettings)).Put("/alerts", s.h.Settings.UpdateAlerts)
			r.With(scope(domain.ScopeAlertsRead)).Get("/audio", s.h.Settings.GetAudio)
			r.With(scope(domain.ScopeSettings)).Put("/audio", s.h.Settings.UpdateAudio)
			r.With(scope(domain.ScopeAlertsRead)).Get("/stats", s.h.Settings.GetStats)
			r.With(scope(domain.ScopeSettings)).Put("/stats", s.h.Settings.UpdateStats)
		})

		r.Route("/v1/audio", func(r chi.Router) {
			r.Use(scope(domain.ScopeSettings))
			r.Post("/enable", s.h.Audio.Enable)
			r.Post("/test/{level}", s.h.Audio.Test)
		})

		r.With(scope(domain.ScopeAlertsRead)).Get("/v1/stats", s.h.Stats.Get)
		r.With(scope(domain.ScopeSettings)).Post("/v1/stats/reset", s.h.Stats.Reset)

		r.Route("/v1/connection", func(r chi.Router) {
			r.With(scope(domain.ScopeAlertsRead)).Get("/", s.h.Connection.Get)
			r.With(scope(domain.ScopeAdmin)).Post("/connect", s.h.Connection.Connect)
			r.With(scope(domain.ScopeAdmin)).Post("/disconnect", s.h.Connection.Disconnect)
		})

		if s.h.Batch != nil {
			r.Group(func(r chi.Router) {
				r.Use(scope(domain.ScopeBatch))
				r.Post("/v1/detect", s.h.Batch.Detect)
				r.Get("/v1/analytics/summary", s.h.Batch.Analytics)
				r.Route("/v1/batch", func(r chi.Router) {
					r.Post("/", s.h.Batch.Upload)
					r.Get("/{id}", s.h.Batch.Get)
					r.Post("/{id}/start", s.h.Batch.Start)
					r.Post("/{id}/cancel", s.h.Batch.Cancel)
					r.Get("/{id}/export", s.h.Batch.Export)
				})
			})
		}

		if s.h.Stream != nil {
			r.With(scope(domain.ScopeAlertsRead)).Get("/v1/stream", s.h.Stream.ServeHTTP)
		}
	})
}

// requestLogger пишет access-лог через zap вместо стандартного log.
func (s *ConsoleServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
