package monitor

import (
	"time"

	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
)

// Коды закрытия WebSocket, значимые для автомата.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// EventKind — дискретные события, которые двигают автомат соединения.
type EventKind int

const (
	ConnectRequested EventKind = iota
	OpenSucceeded
	CloseReceived
	ErrorReceived
	ManualDisconnect
	ServerAcknowledged
)

func (k EventKind) String() string {
	switch k {
	case ConnectRequested:
		return "connect_requested"
	case OpenSucceeded:
		return "open_succeeded"
	case CloseReceived:
		return "close_received"
	case ErrorReceived:
		return "error_received"
	case ManualDisconnect:
		return "manual_disconnect"
	case ServerAcknowledged:
		return "server_acknowledged"
	}
	return "unknown"
}

type Event struct {
	Kind   EventKind
	Code   int    // CloseReceived
	Reason string // CloseReceived / ErrorReceived
	Manual bool   // ConnectRequested от оператора: сбрасывает счетчик после исчерпания попыток
}

// Transition описывает результат обработки события и побочные эффекты,
// которые клиент выполняет вне лока.
type Transition struct {
	From, To domain.ConnectionState
	Ignored  bool

	// Обрыв соединения: звук "connection lost" и персистентный алерт этой severity.
	Lost          bool
	AlertSeverity domain.Severity

	Reconnect bool
	Delay     time.Duration
	Attempt   int
	GaveUp    bool

	Restored bool // connection_established от сервера
}

// Backoff — задержка перед попыткой attempt: base × 2^attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return base * time.Duration(1<<uint(attempt))
}

// Machine — явный автомат переподключения. Не потокобезопасен: владелец держит свой лок.
type Machine struct {
	state       domain.ConnectionState
	attempts    int
	lastError   string
	baseDelay   time.Duration
	maxAttempts int
}

func NewMachine(baseDelay time.Duration, maxAttempts int) *Machine {
	return &Machine{
		state:       domain.StateDisconnected,
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
	}
}

func (m *Machine) State() domain.ConnectionState { return m.state }
func (m *Machine) Attempts() int                 { return m.attempts }
func (m *Machine) MaxAttempts() int              { return m.maxAttempts }
func (m *Machine) LastError() string             { return m.lastError }

// SetError фиксирует сообщение сервера, не меняя состояние соединения.
func (m *Machine) SetError(msg string) { m.lastError = msg }

func (m *Machine) Handle(ev Event) Transition {
	tr := Transition{From: m.state}

	switch ev.Kind {
	case ConnectRequested:
		// Ручной connect во время зависшего dial перезапускает попытку;
		// отложенный retry в connecting игнорируется
		if m.state == domain.StateConnected || (m.state == domain.StateConnecting && !ev.Manual) {
			tr.Ignored = true
			break
		}
		if ev.Manual && m.state == domain.StateError {
			m.attempts = 0
		}
		m.state = domain.StateConnecting

	case OpenSucceeded:
		if m.state != domain.StateConnecting {
			tr.Ignored = true
			break
		}
		m.state = domain.StateConnected

	case ServerAcknowledged:
		m.attempts = 0
		m.lastError = ""
		tr.Restored = true

	case CloseReceived:
		if m.state == domain.StateDisconnected {
			tr.Ignored = true
			break
		}
		if ev.Code == CloseNormal {
			m.state = domain.StateDisconnected
			break
		}
		m.state = domain.StateDisconnected
		m.lastError = ev.Reason
		tr.Lost = true
		tr.AlertSeverity = domain.SeverityHigh
		m.scheduleRetry(&tr)

	case ErrorReceived:
		if m.state == domain.StateDisconnected {
			tr.Ignored = true
			break
		}
		m.state = domain.StateError
		m.lastError = ev.Reason
		tr.Lost = true
		tr.AlertSeverity = domain.SeverityCritical
		m.scheduleRetry(&tr)

	case ManualDisconnect:
		m.state = domain.StateDisconnected
		m.attempts = 0
		m.lastError = ""
	}

	tr.To = m.state
	return tr
}

// scheduleRetry: счетчик увеличивается до расчета задержки; после исчерпания терминальный error.
func (m *Machine) scheduleRetry(tr *Transition) {
	if m.attempts >= m.maxAttempts {
		m.state = domain.StateError
		m.lastError = "maximum reconnection attempts reached"
		tr.GaveUp = true
		return
	}
	m.attempts++
	tr.Reconnect = true
	tr.Attempt = m.attempts
	tr.Delay = Backoff(m.baseDelay, m.attempts)
}
