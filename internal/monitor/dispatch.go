package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xela07ax/spaceai-hallucination-monitor/internal/audio"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/notify"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/risk"
	"go.uber.org/zap"
)

const (
	// PersistentAlertRisk — минимальный риск, с которого флагнутый результат становится персистентным алертом.
	PersistentAlertRisk = 0.5

	verifiedDuration = 2 * time.Second
	platformTimeout  = 5 * time.Second
)

// dispatch разбирает сообщение по полю type и раздает его менеджерам.
func (c *Client) dispatch(epoch uint64, data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("malformed monitor message", zap.Error(err), zap.Int("size", len(data)))
		return
	}

	now := c.now()
	c.mu.Lock()
	c.lastMessageAt = &now
	c.mu.Unlock()

	if c.deps.Observer != nil {
		c.deps.Observer.MessageReceived(env.Type)
	}

	switch env.Type {
	case domain.MsgDetectionResult:
		var r domain.DetectionResult
		if err := json.Unmarshal(data, &r); err != nil {
			c.logger.Warn("malformed detection result", zap.Error(err))
			return
		}
		c.onDetection(r)

	case domain.MsgMonitoringStarted, domain.MsgMonitoringStopped, domain.MsgError:
		var s domain.StatusMessage
		if err := json.Unmarshal(data, &s); err != nil {
			c.logger.Warn("malformed status message", zap.String("type", env.Type), zap.Error(err))
			return
		}
		c.onStatus(s)

	case domain.MsgConnectionEstablished:
		c.onEstablished(epoch)

	case domain.MsgKeepalive:
		// серверный heartbeat

	case domain.MsgProcessingError:
		var pe domain.ProcessingError
		if err := json.Unmarshal(data, &pe); err != nil {
			c.logger.Warn("malformed processing error", zap.Error(err))
			return
		}
		c.onProcessingError(pe)

	default:
		c.logger.Warn("unknown monitor message type", zap.String("type", env.Type))
	}
}

func (c *Client) onDetection(r domain.DetectionResult) {
	score := risk.Clamp(r.HallucinationRisk)
	ev := domain.DetectionEvent{
		AgentID:   r.AgentID,
		RiskScore: score,
		LatencyMs: r.ProcessingTimeMs,
		Flagged:   r.Flagged,
		Timestamp: c.now(), // время приема: часы бэкенда могут расходиться с нашими
	}

	c.mu.Lock()
	c.lastResult = &r
	seq, snap := c.stampLocked()
	c.mu.Unlock()
	c.b.PublishSeq(seq, snap)

	// 1. Статистика
	if c.deps.Stats != nil {
		c.deps.Stats.AddResponse(ev)
	}

	if !r.Flagged {
		if c.deps.Notices != nil {
			c.deps.Notices.Send(domain.Notification{
				Level:    domain.NotifySuccess,
				Message:  fmt.Sprintf("Agent %s response verified", r.AgentID),
				AgentID:  r.AgentID,
				Duration: verifiedDuration,
			})
		}
		return
	}

	// 2. Транзиентное уведомление и звук
	title := "Hallucination detected"
	body := fmt.Sprintf("Agent %s: %.0f%% hallucination risk", r.AgentID, score*100)
	if c.deps.Notices != nil {
		c.deps.Notices.Send(domain.Notification{
			Level:   domain.NotifyError,
			Title:   title,
			Message: body,
			AgentID: r.AgentID,
		})
	}
	if c.deps.Audio != nil {
		c.deps.Audio.PlayHallucinationAlert(r.AgentID, score, r.FlaggedSegments)
	}

	// 3. Системное уведомление только при уже выданном разрешении
	c.notifyPlatform(title, body)

	// 4. Персистентный алерт
	if score >= PersistentAlertRisk && c.deps.Alerts != nil {
		c.deps.Alerts.CreateHallucinationAlert(r.AgentID, score, r.FlaggedSegments, r.Mitigation)
	}
}

func (c *Client) notifyPlatform(title, body string) {
	p := c.deps.Platform
	if p == nil || p.Permission() != notify.PermissionGranted {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), platformTimeout)
		defer cancel()
		if err := p.Notify(ctx, title, body); err != nil {
			c.logger.Warn("platform notification failed", zap.Error(err))
		}
	}()
}

func (c *Client) onStatus(s domain.StatusMessage) {
	switch s.Type {
	case domain.MsgMonitoringStarted:
		c.info(s.Message, "Monitoring started")
		if c.deps.Audio != nil {
			c.deps.Audio.PlaySystemAlert(audio.MonitoringStarted)
		}

	case domain.MsgMonitoringStopped:
		c.info(s.Message, "Monitoring stopped")
		if c.deps.Audio != nil {
			c.deps.Audio.PlaySystemAlert(audio.MonitoringStopped)
		}
		if len(s.FinalStats) > 0 {
			c.mu.Lock()
			c.finalStats = append([]byte(nil), s.FinalStats...)
			seq, snap := c.stampLocked()
			c.mu.Unlock()

			c.logger.Info("monitoring stopped with final stats", zap.ByteString("final_stats", s.FinalStats))
			c.b.PublishSeq(seq, snap)
			if c.deps.Notices != nil {
				c.deps.Notices.Send(domain.Notification{
					Level:   domain.NotifyInfo,
					Title:   "Final monitoring stats",
					Message: string(s.FinalStats),
				})
			}
		}

	case domain.MsgError:
		msg := s.Message
		if msg == "" {
			msg = "Monitoring service reported an error"
		}
		c.mu.Lock()
		c.machine.SetError(msg)
		seq, snap := c.stampLocked()
		c.mu.Unlock()

		c.logger.Warn("server reported error", zap.String("message", msg))
		c.b.PublishSeq(seq, snap)
		if c.deps.Notices != nil {
			c.deps.Notices.Error(msg)
		}
	}
}

func (c *Client) onEstablished(epoch uint64) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.machine.Handle(Event{Kind: ServerAcknowledged})
	seq, snap := c.stampLocked()
	c.mu.Unlock()

	c.logger.Info("monitoring connection established")
	c.publish(seq, snap)
	if c.deps.Audio != nil {
		c.deps.Audio.PlaySystemAlert(audio.ConnectionRestored)
	}
}

func (c *Client) onProcessingError(pe domain.ProcessingError) {
	c.mu.Lock()
	c.agentErrors[pe.AgentID] = pe.Error
	seq, snap := c.stampLocked()
	c.mu.Unlock()

	c.logger.Warn("agent processing error", zap.String("agent_id", pe.AgentID), zap.String("error", pe.Error))
	c.b.PublishSeq(seq, snap)
	if c.deps.Notices != nil {
		c.deps.Notices.Send(domain.Notification{
			Level:   domain.NotifyWarning,
			Title:   "Processing error",
			Message: fmt.Sprintf("Agent %s: %s", pe.AgentID, pe.Error),
			AgentID: pe.AgentID,
		})
	}
	if c.deps.Stats != nil {
		c.deps.Stats.RecordError()
	}
}

func (c *Client) info(msg, fallback string) {
	if c.deps.Notices == nil {
		return
	}
	if msg == "" {
		msg = fallback
	}
	c.deps.Notices.Info(msg)
}
