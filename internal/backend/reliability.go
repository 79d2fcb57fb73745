package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/telemetry"
	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("backend: rate limit exceeded")

type ReliabilityConfig struct {
	RequestsPerSecond float64
	Burst             int
	Attempts          uint
	CallTimeout       time.Duration
	MaxThrottleDelay  time.Duration
	BreakerFailures   uint32
	BreakerTimeout    time.Duration
}

func (c ReliabilityConfig) withDefaults() ReliabilityConfig {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 20
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.Attempts == 0 {
		c.Attempts = 3
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.MaxThrottleDelay <= 0 {
		c.MaxThrottleDelay = 30 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	return c
}

// Reliability оборачивает каждый вызов бэкенда: лимитер -> предохранитель -> ретраи.
type Reliability struct {
	cfg     ReliabilityConfig
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	metrics *telemetry.Metrics
}

func NewReliability(cfg ReliabilityConfig, metrics *telemetry.Metrics) *Reliability {
	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "detection-backend",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     cfg.BreakerTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// 4xx - ошибка клиента, бэкенд жив
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var sErr *StatusError
			return errors.As(err, &sErr) && !sErr.Temporary()
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			v := 0.0
			if to != gobreaker.StateClosed {
				v = 1
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(v)
		},
	})

	return &Reliability{
		cfg:     cfg,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		metrics: metrics,
	}
}

// Do выполняет fn с защитами. endpoint используется только как метка метрик.
func (w *Reliability) Do(ctx context.Context, endpoint string, fn func(ctx context.Context) error) error {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		w.metrics.BackendErrors.WithLabelValues("rate_limit").Inc()
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.cfg.Attempts),
			retry.LastErrorOnly(true),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Бэкенд сам сказал, сколько ждать
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return min(tErr.RetryAfter, w.cfg.MaxThrottleDelay)
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
			defer cancel()

			start := time.Now()
			callErr := fn(tCtx)
			w.metrics.BackendDuration.WithLabelValues(endpoint, outcome(callErr)).Observe(time.Since(start).Seconds())

			// 3. Ошибки клиента не повторяем
			var sErr *StatusError
			if errors.As(callErr, &sErr) && !sErr.Temporary() {
				return retry.Unrecoverable(callErr)
			}
			return callErr
		})
	})

	if err != nil {
		w.metrics.BackendErrors.WithLabelValues(errorType(err)).Inc()
		return err
	}
	return nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return errorType(err)
}

func errorType(err error) string {
	var (
		tErr *ThrottleError
		sErr *StatusError
	)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.As(err, &tErr):
		return "throttled"
	case errors.As(err, &sErr):
		return "status"
	default:
		return "transport"
	}
}
