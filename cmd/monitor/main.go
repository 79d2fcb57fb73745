package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-hallucination-monitor/internal/alerts"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/archive"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/audio"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/backend"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/console/handler"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/console/server"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/console/stream"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/infra"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/infra/auth"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/monitor"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/notify"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/repository/postgres"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/stats"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/storage"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/telemetry"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Контекст фоновых горутин: cancel() остановит тикеры и слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Инфраструктура и ресурсы
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()

		pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, continuing; pub/sub will retry", zap.Error(err))
		}
		pingCancel()
	}

	store, err := newStore(cfg.Storage, rdb)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}

	// 2. Архив алертов (Postgres), если настроен
	var (
		archiver *archive.Archiver
		history  handler.AlertHistory
	)
	if cfg.Database.URL != "" {
		repo, err := postgres.NewAlertArchiveRepo(cfg.Database.URL)
		if err != nil {
			logger.Fatal("archive repo init failed", zap.Error(err))
		}
		defer repo.Close()

		dbCtx, dbCancel := context.WithTimeout(appCtx, 5*time.Second)
		if err := repo.Ping(dbCtx); err != nil {
			logger.Fatal("database unreachable", zap.Error(err))
		}
		if err := repo.Migrate(dbCtx); err != nil {
			logger.Fatal("archive migration failed", zap.Error(err))
		}
		dbCancel()

		archiver = archive.NewArchiver(repo, cfg.Database.ArchiveBufferSize, metrics, logger)
		archiver.Start()
		history = repo
	}

	// 3. Уведомления и менеджеры
	notices := notify.NewHub(logger)
	platform := notify.NewWebhookNotifier(cfg.Notifications.WebhookURL, cfg.Notifications.WebhookTimeout, cfg.Notifications.WebhookHeaders)

	audioMgr := audio.NewManager(store, audio.NewDeviceOutput(cfg.Audio.DevicePath, cfg.Audio.SampleRate), notices, logger)
	if cfg.Audio.AutoEnable {
		audioMgr.EnableAudio(appCtx)
	}

	var alertOpts []alerts.Option
	if archiver != nil {
		alertOpts = append(alertOpts, alerts.WithSink(archiver))
	}
	var publisher *alerts.RedisPublisher
	if rdb != nil {
		publisher = alerts.NewRedisPublisher(rdb, alerts.DefaultPublishBuffer, logger)
		publisher.Start()
		alertOpts = append(alertOpts, alerts.WithSink(publisher))
	}
	alertMgr := alerts.NewManager(store, logger, alertOpts...)
	alertMgr.Start(appCtx)
	if rdb != nil {
		go alertMgr.StartAckListener(appCtx, rdb)
	}

	statsMgr := stats.NewManager(store, logger)
	statsMgr.Start(appCtx)

	// 4. Клиент потока /ws/monitor
	wsURL := cfg.Monitor.URL
	if wsURL == "" {
		if wsURL, err = monitor.MonitorURL(cfg.Backend.URL); err != nil {
			logger.Fatal("invalid backend url", zap.Error(err))
		}
	}
	monitorClient := monitor.NewClient(monitor.Config{
		URL:               wsURL,
		BaseDelay:         cfg.Monitor.ReconnectBaseDelay,
		MaxAttempts:       cfg.Monitor.MaxReconnectAttempts,
		KeepaliveInterval: cfg.Monitor.KeepaliveInterval,
		DialTimeout:       cfg.Monitor.DialTimeout,
	}, monitor.NewWSDialer(cfg.Monitor.DialTimeout, nil), monitor.Deps{
		Stats:    statsMgr,
		Alerts:   alertMgr,
		Audio:    audioMgr,
		Notices:  notices,
		Platform: platform,
		Observer: metrics,
	}, logger)

	// 5. REST-клиент бэкенда (Rate limit -> Circuit Breaker -> Retry)
	backendClient, err := backend.NewClient(cfg.Backend.URL, &http.Client{Timeout: cfg.Backend.RequestTimeout},
		backend.NewReliability(backend.ReliabilityConfig{
			RequestsPerSecond: cfg.Backend.RateLimit,
			Burst:             cfg.Backend.Burst,
			Attempts:          cfg.Backend.RetryAttempts,
			CallTimeout:       cfg.Backend.RequestTimeout,
			BreakerFailures:   cfg.Backend.CBFailures,
			BreakerTimeout:    cfg.Backend.CBTimeout,
		}, metrics), logger)
	if err != nil {
		logger.Fatal("backend client init failed", zap.Error(err))
	}

	// 6. Push-поток дашбордов
	hub := stream.NewHub(logger, nil, func() []stream.Frame {
		return []stream.Frame{
			{Type: stream.FrameConnection, Data: monitorClient.Snapshot()},
			{Type: stream.FrameAlerts, Data: alertMgr.GetVisibleAlerts()},
			{Type: stream.FrameStats, Data: statsMgr.GetMetrics()},
		}
	})
	alertMgr.Subscribe(func(visible []domain.PersistentAlert) {
		hub.Broadcast(stream.FrameAlerts, visible)
		metrics.ObserveAlerts(alertMgr.GetAlertStats())
	})
	statsMgr.Subscribe(func(m domain.SystemMetrics) {
		hub.Broadcast(stream.FrameStats, m)
		metrics.ObserveStats(m)
	})
	monitorClient.Subscribe(func(s domain.ConnectionSnapshot) {
		hub.Broadcast(stream.FrameConnection, s)
	})
	notices.Subscribe(func(n domain.Notification) {
		hub.Broadcast(stream.FrameNotification, n)
	})

	// 7. Аутентификация консоли (RS256), если ключи заданы
	var validator auth.TokenValidator
	handlers := server.Handlers{
		Alerts:     handler.NewAlertHandler(alertMgr, history, logger),
		Settings:   handler.NewSettingsHandler(alertMgr, audioMgr, statsMgr, logger),
		Audio:      handler.NewAudioHandler(audioMgr),
		Stats:      handler.NewStatsHandler(statsMgr),
		Connection: handler.NewConnectionHandler(monitorClient, logger),
		Batch:      handler.NewBatchHandler(backendClient, logger),
		Stream:     hub,
	}
	if len(cfg.Auth.PublicKey) > 0 {
		pub, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			logger.Fatal("auth public key", zap.Error(err))
		}
		validator = auth.NewValidator(pub)

		if len(cfg.Auth.PrivateKey) > 0 && cfg.Auth.AdminPasswordHash != "" {
			priv, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
			if err != nil {
				logger.Fatal("auth private key", zap.Error(err))
			}
			handlers.Auth = handler.NewAuthHandler(auth.NewTokenIssuer(priv, cfg.Auth.TokenTTL, domain.Operator{
				Username:     cfg.Auth.AdminUsername,
				PasswordHash: cfg.Auth.AdminPasswordHash,
				Scopes:       map[string]bool{domain.ScopeAdmin: true},
			}))
		}
	} else {
		logger.Warn("auth.public_key_path is not set: console API is unauthenticated")
	}

	// 8. HTTP
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.NewConsoleServer(logger, validator, handlers),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("console listen failed", zap.Error(err))
		}
	}()

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listen failed", zap.Error(err))
			}
		}()
	}

	if cfg.Monitor.AutoConnect {
		monitorClient.Connect()
	}

	// 9. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("hallucination monitor stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("console shutdown failed", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	hub.Close()

	monitorClient.Disconnect()
	alertMgr.Cleanup()
	statsMgr.Cleanup()
	audioMgr.Cleanup()
	cancel()

	if publisher != nil {
		publisher.Stop()
	}

	// Архиватор последним: дописывает события, порожденные остановкой
	if archiver != nil {
		archiver.Stop()
	}
	logger.Info("hallucination monitor exited properly")
}

func newStore(cfg infra.StorageConfig, rdb *redis.Client) (storage.Store, error) {
	switch cfg.Driver {
	case "redis":
		if rdb == nil {
			return nil, errors.New("storage: redis driver selected but redis is not configured")
		}
		return storage.NewRedisStore(rdb), nil
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return storage.NewFileStore(cfg.Path)
	}
}
