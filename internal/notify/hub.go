package notify

import (
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/pubsub"
	"go.uber.org/zap"
)

// Длительности показа по умолчанию.
const (
	DefaultDuration = 4 * time.Second
	ErrorDuration   = 6 * time.Second
	ToastDuration   = 3 * time.Second
)

// Hub — шина транзиентных уведомлений (snackbar/toast). Ничего не хранит.
type Hub struct {
	b   *pubsub.Broadcaster[domain.Notification]
	now func() time.Time
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		b:   pubsub.NewBroadcaster[domain.Notification](logger.Named("notify")),
		now: time.Now,
	}
}

// Send проставляет ID, время и длительность, затем рассылает подписчикам.
func (h *Hub) Send(n domain.Notification) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = h.now()
	}
	if n.Duration == 0 {
		n.Duration = DefaultDuration
		if n.Level == domain.NotifyError {
			n.Duration = ErrorDuration
		}
	}
	if n.Level == "" {
		n.Level = domain.NotifyInfo
	}
	h.b.Publish(n)
}

func (h *Hub) Info(msg string) {
	h.Send(domain.Notification{Level: domain.NotifyInfo, Message: msg})
}

func (h *Hub) Success(msg string) {
	h.Send(domain.Notification{Level: domain.NotifySuccess, Message: msg})
}

func (h *Hub) Warning(msg string) {
	h.Send(domain.Notification{Level: domain.NotifyWarning, Message: msg})
}

func (h *Hub) Error(msg string) {
	h.Send(domain.Notification{Level: domain.NotifyError, Message: msg})
}

// Toast — визуальный тост на 3 секунды, не зависящий от состояния дашборда.
func (h *Hub) Toast(level domain.NotificationLevel, title, msg string) {
	h.Send(domain.Notification{Level: level, Title: title, Message: msg, Toast: true, Duration: ToastDuration})
}

func (h *Hub) Subscribe(l pubsub.Listener[domain.Notification]) func() {
	return h.b.Subscribe(l)
}
