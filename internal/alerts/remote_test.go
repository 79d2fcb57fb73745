package alerts

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/storage"
	"go.uber.org/zap"
)

// silentRedis принимает TCP-соединения и никогда не отвечает.
func silentRedis(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return ln.Addr().String()
}

func TestRedisPublisher_DoesNotBlockOnHungRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: silentRedis(t), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	pub := NewRedisPublisher(rdb, 0, zap.NewNop())
	pub.timeout = 50 * time.Millisecond
	pub.Start()

	m, _ := newTestManager(t, storage.NewMemoryStore(), WithSink(pub))

	start := time.Now()
	_, ok := m.CreateHallucinationAlert("agent-1", 0.9, nil, "")
	require.True(t, ok)
	m.CreateAlert(params(domain.SeverityHigh, domain.CategorySystem))
	m.CreateAlert(params(domain.SeverityHigh, domain.CategoryConnection))
	assert.Equal(t, 3, m.AcknowledgeAll("alice"))
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		pub.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop")
	}
}

func TestRedisPublisher_DropsOnOverflow(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: silentRedis(t)})
	t.Cleanup(func() { _ = rdb.Close() })

	// Воркер не запущен: очередь из одного места заполняется первым событием
	pub := NewRedisPublisher(rdb, 1, zap.NewNop())
	for i := 0; i < 10; i++ {
		pub.Record(domain.AlertEvent{AlertID: "a", Type: domain.AlertCreated})
	}
	assert.Len(t, pub.ch, 1)

	pub.Stop()
	pub.Record(domain.AlertEvent{AlertID: "late"})
	assert.Len(t, pub.ch, 1, "stopped publisher ignores new events")
}
