package archive

/*
Архиватор складывает события жизненного цикла алертов (создание, подтверждение,
эскалация, удаление) в долговременное хранилище, не тормозя менеджер алертов.

- Record никогда не блокирует: событие уходит в буферизованный канал, при
  переполнении сбрасывается с записью в лог (Load Shedding).
- Воркер пишет пачками: по 100 событий или по таймеру 500мс.
- Stop закрывает канал и ждет, пока воркер вычитает остатки (Drain Pattern).
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/telemetry"
	"go.uber.org/zap"
)

const (
	DefaultBufferSize = 10000
	batchSize         = 100
	flushInterval     = 500 * time.Millisecond
)

// Storage определяет, куда физически будут сохраняться события
type Storage interface {
	WriteBatch(ctx context.Context, events []domain.AlertEvent) error
}

type Archiver struct {
	ch      chan domain.AlertEvent
	repo    Storage
	logger  *zap.Logger
	metrics *telemetry.Metrics
	wg      sync.WaitGroup

	isClosed int32 // 0 - открыт, 1 - закрыт
	stopOnce sync.Once
}

func NewArchiver(repo Storage, bufferSize int, metrics *telemetry.Metrics, logger *zap.Logger) *Archiver {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}
	return &Archiver{
		ch:      make(chan domain.AlertEvent, bufferSize),
		repo:    repo,
		logger:  logger.With(zap.String("mod", "archive")),
		metrics: metrics,
	}
}

func (a *Archiver) Start() {
	a.wg.Add(1)
	go a.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (a *Archiver) Stop() {
	a.stopOnce.Do(func() {
		// 1. Сначала ставим флаг
		atomic.StoreInt32(&a.isClosed, 1)

		// 2. Даем крошечную паузу, чтобы текущие Record успели проскочить
		time.Sleep(10 * time.Millisecond)

		// 3. Закрываем канал и ждем финальный flush
		a.logger.Info("stopping archiver: closing channel and flushing buffer...")
		close(a.ch)
		a.wg.Wait()
		a.logger.Info("archiver stopped gracefully")
	})
}

// Record реализует alerts.Sink.
func (a *Archiver) Record(ev domain.AlertEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&a.isClosed) == 1 {
		a.logger.Warn("alert event dropped: archiver is stopping", zap.String("id", ev.ID))
		return
	}

	select {
	case a.ch <- ev:
		a.metrics.ArchiveBufferFill.Set(float64(len(a.ch)))
	default:
		// Backpressure: событие теряем, но оставляем след в логе
		a.logger.Error("archive_buffer_overflow",
			zap.String("alert_id", ev.AlertID),
			zap.String("type", string(ev.Type)),
		)
	}
}

func (a *Archiver) worker() {
	defer a.wg.Done()

	batch := make([]domain.AlertEvent, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		a.metrics.ArchiveBufferFill.Set(float64(len(a.ch)))
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к этому моменту может быть закрыт
		if err := a.repo.WriteBatch(context.Background(), batch); err != nil {
			a.logger.Error("archive flush failed", zap.Error(err), zap.Int("events", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-a.ch:
			if !ok {
				// Канал закрыт в Stop(): остатки уже вычитаны
				flush()
				a.logger.Info("archive worker finished")
				return
			}
			batch = append(batch, ev)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
