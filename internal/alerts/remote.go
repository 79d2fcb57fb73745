package alerts

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/infra"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/pubsub"
	"go.uber.org/zap"
)

// DefaultPublishBuffer — емкость очереди событий на публикацию.
const DefaultPublishBuffer = 1024

// RedisPublisher транслирует события алертов другим консолям через Redis Pub/Sub.
// Record только ставит событие в очередь; публикует отдельный воркер,
// поэтому зависший Redis не тормозит поток мониторинга и HTTP-хендлеры.
type RedisPublisher struct {
	rdb     redis.UniversalClient
	channel string
	timeout time.Duration
	logger  *zap.Logger

	ch       chan domain.AlertEvent
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewRedisPublisher(rdb redis.UniversalClient, bufferSize int, logger *zap.Logger) *RedisPublisher {
	if bufferSize <= 0 {
		bufferSize = DefaultPublishBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisPublisher{
		rdb:     rdb,
		channel: infra.RedisChanAlertEvents,
		timeout: 2 * time.Second,
		logger:  logger.With(zap.String("mod", "alerts-publisher")),
		ch:      make(chan domain.AlertEvent, bufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (p *RedisPublisher) Start() {
	p.wg.Add(1)
	go p.worker()
}

// Stop прерывает текущую публикацию и останавливает воркер.
// Неотправленные события теряются: трансляция другим консолям best-effort.
func (p *RedisPublisher) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		if n := len(p.ch); n > 0 {
			p.logger.Warn("alert events not published on stop", zap.Int("pending", n))
		}
	})
}

// Record ставит событие в очередь и никогда не блокирует.
func (p *RedisPublisher) Record(ev domain.AlertEvent) {
	if p.ctx.Err() != nil {
		return
	}
	select {
	case p.ch <- ev:
	default:
		p.logger.Error("alert_publish_overflow",
			zap.String("alert_id", ev.AlertID),
			zap.String("type", string(ev.Type)),
		)
	}
}

func (p *RedisPublisher) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev := <-p.ch:
			p.publish(ev)
		}
	}
}

func (p *RedisPublisher) publish(ev domain.AlertEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to encode alert event", zap.String("alert_id", ev.AlertID), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.logger.Warn("failed to publish alert event",
			zap.String("type", string(ev.Type)),
			zap.String("alert_id", ev.AlertID),
			zap.Error(err),
		)
	}
}

// ParseAckSignal разбирает payload формата "alertID:operator". Оператор опционален.
func ParseAckSignal(payload string) (alertID, by string, ok bool) {
	alertID, by, _ = strings.Cut(strings.TrimSpace(payload), ":")
	if alertID == "" {
		return "", "", false
	}
	return alertID, by, true
}

// StartAckListener применяет подтверждения, опубликованные другими инстансами консоли.
// Блокирует до отмены ctx, запускать в отдельной горутине.
func (m *Manager) StartAckListener(ctx context.Context, rdb redis.UniversalClient) {
	logger := m.logger.With(zap.String("chan", infra.RedisChanAlertAck))
	logger.Info("remote ack listener started")

	pubsub.ListenResilient(ctx, rdb, logger, infra.RedisChanAlertAck,
		func() error {
			logger.Debug("subscribed to remote acks")
			return nil
		},
		func(payload string) {
			id, by, ok := ParseAckSignal(payload)
			if !ok {
				logger.Error("invalid ack signal format", zap.String("payload", payload))
				return
			}
			if m.AcknowledgeAlert(id, by) {
				logger.Info("alert acknowledged remotely", zap.String("id", id), zap.String("by", by))
			}
		},
	)
}
