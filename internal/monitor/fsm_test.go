package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
)

func TestBackoff(t *testing.T) {
	base := time.Second
	assert.Equal(t, time.Second, Backoff(base, 0))
	assert.Equal(t, 2*time.Second, Backoff(base, 1))
	assert.Equal(t, 32*time.Second, Backoff(base, 5))
	assert.Equal(t, time.Second, Backoff(base, -3))

	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		d := Backoff(base, i)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestMachine_HappyPath(t *testing.T) {
	m := NewMachine(time.Second, 5)
	assert.Equal(t, domain.StateDisconnected, m.State())

	tr := m.Handle(Event{Kind: ConnectRequested})
	assert.Equal(t, domain.StateConnecting, tr.To)

	assert.True(t, m.Handle(Event{Kind: ConnectRequested}).Ignored, "retry while connecting")
	tr = m.Handle(Event{Kind: ConnectRequested, Manual: true})
	assert.False(t, tr.Ignored, "manual connect restarts a pending dial")
	assert.Equal(t, domain.StateConnecting, tr.To)

	tr = m.Handle(Event{Kind: OpenSucceeded})
	assert.Equal(t, domain.StateConnected, tr.To)
	assert.True(t, m.Handle(Event{Kind: ConnectRequested}).Ignored, "already connected")
	assert.True(t, m.Handle(Event{Kind: ConnectRequested, Manual: true}).Ignored, "already connected")

	tr = m.Handle(Event{Kind: CloseReceived, Code: CloseNormal})
	assert.Equal(t, domain.StateDisconnected, tr.To)
	assert.False(t, tr.Reconnect)
	assert.False(t, tr.Lost)
}

func TestMachine_AbnormalCloseSchedulesRetry(t *testing.T) {
	m := NewMachine(time.Second, 5)
	m.Handle(Event{Kind: ConnectRequested})
	m.Handle(Event{Kind: OpenSucceeded})

	tr := m.Handle(Event{Kind: CloseReceived, Code: CloseAbnormal})
	assert.Equal(t, domain.StateDisconnected, tr.To)
	assert.True(t, tr.Lost)
	assert.Equal(t, domain.SeverityHigh, tr.AlertSeverity)
	assert.True(t, tr.Reconnect)
	assert.Equal(t, 1, tr.Attempt)
	assert.Equal(t, 2*time.Second, tr.Delay, "counter incremented before the delay is computed")
}

func TestMachine_ErrorIsCritical(t *testing.T) {
	m := NewMachine(time.Second, 5)
	m.Handle(Event{Kind: ConnectRequested})

	tr := m.Handle(Event{Kind: ErrorReceived, Reason: "dial refused"})
	assert.Equal(t, domain.StateError, tr.To)
	assert.Equal(t, domain.SeverityCritical, tr.AlertSeverity)
	assert.True(t, tr.Reconnect)
	assert.Equal(t, "dial refused", m.LastError())
}

func TestMachine_ExhaustsAfterMaxAttempts(t *testing.T) {
	m := NewMachine(time.Second, 5)

	var delays []time.Duration
	for i := 0; i < 5; i++ {
		m.Handle(Event{Kind: ConnectRequested})
		tr := m.Handle(Event{Kind: ErrorReceived})
		require.True(t, tr.Reconnect, "attempt %d", i+1)
		delays = append(delays, tr.Delay)
	}
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
	}

	m.Handle(Event{Kind: ConnectRequested})
	tr := m.Handle(Event{Kind: ErrorReceived})
	assert.False(t, tr.Reconnect)
	assert.True(t, tr.GaveUp)
	assert.Equal(t, domain.StateError, m.State())
	assert.Equal(t, 5, m.Attempts())
}

func TestMachine_ServerAckResetsAttempts(t *testing.T) {
	m := NewMachine(time.Second, 5)
	m.Handle(Event{Kind: ConnectRequested})
	m.Handle(Event{Kind: ErrorReceived, Reason: "boom"})
	m.Handle(Event{Kind: ConnectRequested})
	m.Handle(Event{Kind: OpenSucceeded})

	assert.Equal(t, 1, m.Attempts(), "open alone does not reset the counter")

	tr := m.Handle(Event{Kind: ServerAcknowledged})
	assert.True(t, tr.Restored)
	assert.Zero(t, m.Attempts())
	assert.Empty(t, m.LastError())
	assert.Equal(t, domain.StateConnected, m.State())
}

func TestMachine_ManualDisconnectResets(t *testing.T) {
	m := NewMachine(time.Second, 5)
	m.Handle(Event{Kind: ConnectRequested})
	m.Handle(Event{Kind: ErrorReceived})

	tr := m.Handle(Event{Kind: ManualDisconnect})
	assert.Equal(t, domain.StateDisconnected, tr.To)
	assert.Zero(t, m.Attempts())

	assert.True(t, m.Handle(Event{Kind: CloseReceived, Code: CloseAbnormal}).Ignored,
		"late close after manual disconnect is ignored")
}

func TestMachine_ManualConnectAfterGivingUp(t *testing.T) {
	m := NewMachine(time.Second, 1)
	m.Handle(Event{Kind: ConnectRequested})
	m.Handle(Event{Kind: ErrorReceived})
	m.Handle(Event{Kind: ConnectRequested})
	require.True(t, m.Handle(Event{Kind: ErrorReceived}).GaveUp)

	m.Handle(Event{Kind: ConnectRequested, Manual: true})
	assert.Zero(t, m.Attempts())
	assert.Equal(t, domain.StateConnecting, m.State())
}
