package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
	"go.uber.org/zap"
)

type fakeRepo struct {
	mu      sync.Mutex
	batches [][]domain.AlertEvent
	err     error
}

func (r *fakeRepo) WriteBatch(_ context.Context, events []domain.AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]domain.AlertEvent(nil), events...))
	return r.err
}

func (r *fakeRepo) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func (r *fakeRepo) largest() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n = max(n, len(b))
	}
	return n
}

func event(i int) domain.AlertEvent {
	return domain.AlertEvent{
		ID:      fmt.Sprintf("ev-%d", i),
		Type:    domain.AlertCreated,
		AlertID: fmt.Sprintf("alert-%d", i),
	}
}

func TestArchiver_FlushesOnTimer(t *testing.T) {
	repo := &fakeRepo{}
	a := NewArchiver(repo, 0, nil, zap.NewNop())
	a.Start()
	defer a.Stop()

	a.Record(event(1))
	a.Record(event(2))

	assert.Eventually(t, func() bool { return repo.total() == 2 }, 2*time.Second, 20*time.Millisecond)
}

func TestArchiver_BatchesAtHundred(t *testing.T) {
	repo := &fakeRepo{}
	a := NewArchiver(repo, 0, nil, zap.NewNop())
	a.Start()

	for i := 0; i < 250; i++ {
		a.Record(event(i))
	}
	a.Stop()

	assert.Equal(t, 250, repo.total())
	assert.LessOrEqual(t, repo.largest(), batchSize)
}

func TestArchiver_StopDrainsAndRejectsLateEvents(t *testing.T) {
	repo := &fakeRepo{}
	a := NewArchiver(repo, 0, nil, zap.NewNop())
	a.Start()

	a.Record(event(1))
	a.Stop()
	require.Equal(t, 1, repo.total())

	a.Record(event(2))
	a.Stop()
	assert.Equal(t, 1, repo.total())
}

func TestArchiver_OverflowDropsWithoutBlocking(t *testing.T) {
	repo := &fakeRepo{}
	a := NewArchiver(repo, 2, nil, zap.NewNop())

	// воркер не запущен: буфер на 2 события
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			a.Record(event(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full buffer")
	}
	assert.Len(t, a.ch, 2)
}

func TestArchiver_WriteErrorIsLogged(t *testing.T) {
	repo := &fakeRepo{err: errors.New("db down")}
	a := NewArchiver(repo, 0, nil, zap.NewNop())
	a.Start()

	a.Record(event(1))
	a.Stop()

	assert.Equal(t, 1, repo.total())
}

func TestArchiver_StampsTimestamp(t *testing.T) {
	repo := &fakeRepo{}
	a := NewArchiver(repo, 0, nil, zap.NewNop())
	a.Start()
	a.Record(event(1))
	a.Stop()

	require.Len(t, repo.batches, 1)
	assert.False(t, repo.batches[0][0].Timestamp.IsZero())
}
