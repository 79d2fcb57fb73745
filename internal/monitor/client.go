package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-hallucination-monitor/internal/audio"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/notify"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/pubsub"
	"go.uber.org/zap"
)

// Менеджеры, которым клиент раздает события. Клиент не владеет их состоянием.
type (
	StatsRecorder interface {
		AddResponse(ev domain.DetectionEvent)
		RecordError()
	}
	AlertCreator interface {
		CreateAlert(p domain.AlertParams) (string, bool)
		CreateHallucinationAlert(agentID string, riskScore float64, segments []string, mitigation string) (string, bool)
	}
	AudioPlayer interface {
		PlayHallucinationAlert(agentID string, riskScore float64, segments []string) bool
		PlaySystemAlert(kind audio.SystemAlert) bool
	}
)

// Observer получает сигналы для метрик (Prometheus). Вызывается синхронно.
type Observer interface {
	MessageReceived(msgType string)
	StateChanged(state domain.ConnectionState)
	ReconnectScheduled(attempt int, delay time.Duration)
}

type Config struct {
	URL               string
	BaseDelay         time.Duration
	MaxAttempts       int
	KeepaliveInterval time.Duration
	DialTimeout       time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
}

// Deps — явные зависимости клиента, собираются в точке композиции.
type Deps struct {
	Stats    StatsRecorder
	Alerts   AlertCreator
	Audio    AudioPlayer
	Notices  *notify.Hub
	Platform notify.PlatformNotifier
	Observer Observer
}

// Scheduler откладывает f на d и возвращает функцию отмены.
// Вызывается под локом клиента: f должна выполняться асинхронно.
type Scheduler func(d time.Duration, f func()) (cancel func())

func afterFunc(d time.Duration, f func()) func() {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}

// Client держит одно соединение с /ws/monitor и раздает события менеджерам.
type Client struct {
	mu      sync.Mutex
	machine *Machine
	conn    Conn
	epoch   uint64 // растет при каждом новом сокете и при ручном disconnect
	pubSeq  uint64 // номер последнего снапшота для подписчиков

	cancelRetry   func()
	stopKeepalive chan struct{}
	nextRetryAt   *time.Time
	lastMessageAt *time.Time
	lastResult    *domain.DetectionResult
	agentErrors   map[string]string
	finalStats    []byte

	cfg      Config
	dialer   Dialer
	deps     Deps
	schedule Scheduler
	now      func() time.Time
	b        *pubsub.Broadcaster[domain.ConnectionSnapshot]
	logger   *zap.Logger
}

type Option func(*Client)

func WithScheduler(s Scheduler) Option {
	return func(c *Client) { c.schedule = s }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(cfg Config, dialer Dialer, deps Deps, logger *zap.Logger, opts ...Option) *Client {
	cfg.applyDefaults()
	c := &Client{
		machine:     NewMachine(cfg.BaseDelay, cfg.MaxAttempts),
		agentErrors: make(map[string]string),
		cfg:         cfg,
		dialer:      dialer,
		deps:        deps,
		schedule:    afterFunc,
		now:         time.Now,
		logger:      logger.Named("monitor"),
	}
	for _, o := range opts {
		o(c)
	}
	c.b = pubsub.NewBroadcaster[domain.ConnectionSnapshot](c.logger)
	return c
}

// Connect — ручное подключение оператором. No-op, если соединение уже установлено или устанавливается.
func (c *Client) Connect() {
	c.connect(true)
}

func (c *Client) connect(manual bool) {
	c.mu.Lock()
	tr := c.machine.Handle(Event{Kind: ConnectRequested, Manual: manual})
	if tr.Ignored {
		c.mu.Unlock()
		return
	}

	// 1. Сбрасываем отложенный реконнект и старый сокет
	c.cancelRetryLocked()
	stale := c.detachConnLocked()

	// 2. Новая эпоха: события старых сокетов игнорируются
	c.epoch++
	epoch := c.epoch
	seq, snap := c.stampLocked()
	c.mu.Unlock()

	if stale != nil {
		_ = stale.Close(CloseNormal, "reconnecting")
	}
	c.publish(seq, snap)

	go c.dial(epoch)
}

func (c *Client) dial(epoch uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	defer cancel()

	c.logger.Info("connecting to monitor stream", zap.String("url", c.cfg.URL))
	conn, err := c.dialer.Dial(ctx, c.cfg.URL)

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(CloseNormal, "superseded")
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("monitor dial failed", zap.Error(err))
		c.handle(epoch, Event{Kind: ErrorReceived, Reason: err.Error()})
		return
	}

	tr := c.machine.Handle(Event{Kind: OpenSucceeded})
	if tr.Ignored {
		c.mu.Unlock()
		_ = conn.Close(CloseNormal, "unexpected open")
		return
	}
	c.conn = conn
	stop := make(chan struct{})
	c.stopKeepalive = stop
	seq, snap := c.stampLocked()
	c.mu.Unlock()

	c.logger.Info("monitor stream connected")
	c.publish(seq, snap)

	if err := conn.WriteJSON(domain.PingMessage{Type: domain.MsgPing}); err != nil {
		c.logger.Warn("initial ping failed", zap.Error(err))
	}
	go c.keepalive(conn, stop)
	go c.readLoop(epoch, conn)
}

func (c *Client) keepalive(conn Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteJSON(domain.PingMessage{Type: domain.MsgPing}); err != nil {
				c.logger.Debug("keepalive ping failed", zap.Error(err))
				return
			}
		}
	}
}

// readLoop — единственный читатель соединения: сообщения одного сокета обрабатываются по порядку.
func (c *Client) readLoop(epoch uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			var ce *CloseError
			if errors.As(err, &ce) {
				c.handle(epoch, Event{Kind: CloseReceived, Code: ce.Code, Reason: ce.Text})
			} else {
				c.handle(epoch, Event{Kind: ErrorReceived, Reason: err.Error()})
			}
			return
		}
		if !c.current(epoch) {
			return
		}
		c.dispatch(epoch, data)
	}
}

func (c *Client) current(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return epoch == c.epoch
}

// handle применяет событие транспорта к автомату и выполняет побочные эффекты вне лока.
func (c *Client) handle(epoch uint64, ev Event) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	tr := c.machine.Handle(ev)
	if tr.Ignored {
		c.mu.Unlock()
		return
	}
	var dead Conn
	if tr.To != domain.StateConnected {
		dead = c.detachConnLocked()
	}
	if tr.Reconnect {
		at := c.now().Add(tr.Delay)
		c.nextRetryAt = &at
		c.cancelRetry = c.schedule(tr.Delay, func() { c.retry(epoch) })
	}
	seq, snap := c.stampLocked()
	c.mu.Unlock()

	if dead != nil {
		_ = dead.Close(CloseNormal, "")
	}
	c.logger.Info("connection transition",
		zap.String("event", ev.Kind.String()),
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
		zap.Int("code", ev.Code),
		zap.String("reason", ev.Reason),
	)
	c.publish(seq, snap)
	c.applyFailure(tr, ev)
}

func (c *Client) applyFailure(tr Transition, ev Event) {
	if tr.Lost {
		if c.deps.Audio != nil {
			c.deps.Audio.PlaySystemAlert(audio.ConnectionLost)
		}
		if c.deps.Alerts != nil {
			title, msg := "Connection lost", fmt.Sprintf("Monitoring stream closed unexpectedly (code %d)", ev.Code)
			if ev.Kind == ErrorReceived {
				title, msg = "Connection error", "Monitoring stream error: "+ev.Reason
			}
			c.deps.Alerts.CreateAlert(domain.AlertParams{
				Title:    title,
				Message:  msg,
				Severity: tr.AlertSeverity,
				Category: domain.CategoryConnection,
				Metadata: map[string]interface{}{"code": ev.Code, "attempt": tr.Attempt},
			})
		}
	}
	if tr.Reconnect {
		c.logger.Info("reconnect scheduled", zap.Int("attempt", tr.Attempt), zap.Duration("delay", tr.Delay))
		if c.deps.Observer != nil {
			c.deps.Observer.ReconnectScheduled(tr.Attempt, tr.Delay)
		}
	}
	if tr.GaveUp {
		c.logger.Error("reconnection attempts exhausted", zap.Int("max", c.cfg.MaxAttempts))
		if c.deps.Notices != nil {
			c.deps.Notices.Error("Connection to the monitoring service was lost. Reconnect manually to resume monitoring.")
		}
	}
}

func (c *Client) retry(epoch uint64) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.cancelRetry = nil
	c.nextRetryAt = nil
	c.mu.Unlock()

	c.connect(false)
}

// Disconnect закрывает сокет кодом 1000, отменяет реконнект и сбрасывает состояние.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.cancelRetryLocked()
	conn := c.detachConnLocked()
	c.epoch++
	c.machine.Handle(Event{Kind: ManualDisconnect})
	c.agentErrors = make(map[string]string)
	seq, snap := c.stampLocked()
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(CloseNormal, "manual disconnect"); err != nil {
			c.logger.Debug("close failed", zap.Error(err))
		}
	}
	c.logger.Info("monitor stream disconnected")
	c.publish(seq, snap)
}

func (c *Client) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.State()
}

func (c *Client) Snapshot() domain.ConnectionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe сразу доставляет текущее состояние соединения, затем на каждое изменение.
func (c *Client) Subscribe(l pubsub.Listener[domain.ConnectionSnapshot]) func() {
	return c.b.SubscribeCurrent(l, c.Snapshot)
}

func (c *Client) publish(seq uint64, snap domain.ConnectionSnapshot) {
	if c.deps.Observer != nil {
		c.deps.Observer.StateChanged(snap.State)
	}
	c.b.PublishSeq(seq, snap)
}

// stampLocked снимает снапшот для подписчиков и присваивает ему номер.
func (c *Client) stampLocked() (uint64, domain.ConnectionSnapshot) {
	c.pubSeq++
	return c.pubSeq, c.snapshotLocked()
}

func (c *Client) snapshotLocked() domain.ConnectionSnapshot {
	s := domain.ConnectionSnapshot{
		State:                c.machine.State(),
		Error:                c.machine.LastError(),
		ReconnectAttempts:    c.machine.Attempts(),
		MaxReconnectAttempts: c.machine.MaxAttempts(),
		FinalStats:           append([]byte(nil), c.finalStats...),
	}
	if c.nextRetryAt != nil {
		t := *c.nextRetryAt
		s.NextRetryAt = &t
	}
	if c.lastMessageAt != nil {
		t := *c.lastMessageAt
		s.LastMessageAt = &t
	}
	if c.lastResult != nil {
		r := *c.lastResult
		r.FlaggedSegments = append([]string(nil), c.lastResult.FlaggedSegments...)
		s.LastResult = &r
	}
	if len(c.agentErrors) > 0 {
		s.AgentErrors = make(map[string]string, len(c.agentErrors))
		for k, v := range c.agentErrors {
			s.AgentErrors[k] = v
		}
	}
	return s
}

func (c *Client) cancelRetryLocked() {
	if c.cancelRetry != nil {
		c.cancelRetry()
		c.cancelRetry = nil
	}
	c.nextRetryAt = nil
}

func (c *Client) stopKeepaliveLocked() {
	if c.stopKeepalive != nil {
		close(c.stopKeepalive)
		c.stopKeepalive = nil
	}
}

func (c *Client) detachConnLocked() Conn {
	c.stopKeepaliveLocked()
	conn := c.conn
	c.conn = nil
	return conn
}
