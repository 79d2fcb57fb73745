package pubsub

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Listener получает снапшот состояния. Не должен удерживать ссылку на мутабельные данные.
type Listener[T any] func(T)

// Broadcaster — типизированный fan-out с изоляцией подписчиков:
// паника одного слушателя логируется и не мешает остальным.
type Broadcaster[T any] struct {
	mu        sync.RWMutex
	listeners map[uint64]Listener[T]
	order     []uint64
	nextID    uint64
	logger    *zap.Logger

	// seqMu упорядочивает PublishSeq и SubscribeCurrent: устаревший снапшот не доставляется
	seqMu   sync.Mutex
	lastSeq uint64
}

func NewBroadcaster[T any](logger *zap.Logger) *Broadcaster[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster[T]{
		listeners: make(map[uint64]Listener[T]),
		logger:    logger,
	}
}

// Subscribe регистрирует слушателя и возвращает функцию отписки.
// Отписка идемпотентна.
func (b *Broadcaster[T]) Subscribe(l Listener[T]) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish вызывает слушателей в порядке подписки. Вызывается вне локов владельца состояния.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	ls := make([]Listener[T], 0, len(b.order))
	for _, id := range b.order {
		ls = append(ls, b.listeners[id])
	}
	b.mu.RUnlock()

	for _, l := range ls {
		b.Deliver(l, v)
	}
}

// PublishSeq доставляет снапшот с номером seq, если он новее уже доставленного.
// Владелец увеличивает seq под своим локом в момент снятия снапшота, поэтому
// гонка двух мутаций не может закончиться доставкой более старого состояния.
// Слушатель не должен синхронно мутировать владельца: seqMu удерживается на время доставки.
func (b *Broadcaster[T]) PublishSeq(seq uint64, v T) {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()
	if seq <= b.lastSeq {
		return
	}
	b.lastSeq = seq
	b.Publish(v)
}

// SubscribeCurrent регистрирует слушателя и сразу доставляет ему current().
// Выполняется под seqMu: параллельный PublishSeq придет строго после первичного снапшота.
func (b *Broadcaster[T]) SubscribeCurrent(l Listener[T], current func() T) func() {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()
	unsubscribe := b.Subscribe(l)
	b.Deliver(l, current())
	return unsubscribe
}

// Deliver вызывает одного слушателя с перехватом паники (используется и для первичной доставки при Subscribe).
func (b *Broadcaster[T]) Deliver(l Listener[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber failed", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	l(v)
}

// Len — количество активных подписчиков.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Clear снимает всех подписчиков (cleanup владельца).
func (b *Broadcaster[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[uint64]Listener[T])
	b.order = nil
}
