package fetch

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/ndgr/internal/metrics"
)

// breakerState is the circuit breaker state for one upstream host.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerHalfOpen
	breakerOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerHalfOpen:
		return "half-open"
	case breakerOpen:
		return "open"
	default:
		return "closed"
	}
}

// errBreakerOpen short-circuits a request while the host is cooling down.
// It is a transport-class fault: the retry delay usually outlasts the
// cooldown, so retries recover naturally.
var errBreakerOpen = errors.New("fetch: circuit breaker open")

const (
	breakerFailureThreshold = 5
	breakerCooldown         = 10 * time.Second
)

// breaker is a minimal per-host circuit breaker: consecutive transport
// failures open it, a cooldown lets one probe through, one success closes
// it again. It only counts faults the caller classifies as transport.
type breaker struct {
	host   string
	logger *zap.Logger

	mu            sync.Mutex
	state         breakerState
	consecutive   int
	openedAt      time.Time
	probeInFlight bool
}

func newBreaker(host string, logger *zap.Logger) *breaker {
	metrics.BreakerState.WithLabelValues(host).Set(0)
	return &breaker{host: host, logger: logger}
}

// allow reports whether a request may proceed right now.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if time.Since(b.openedAt) < breakerCooldown {
			return errBreakerOpen
		}
		b.setState(breakerHalfOpen)
		fallthrough
	case breakerHalfOpen:
		if b.probeInFlight {
			return errBreakerOpen
		}
		b.probeInFlight = true
	}
	return nil
}

// report records the outcome of a request previously admitted by allow.
func (b *breaker) report(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probeInFlight = false
	if success {
		b.consecutive = 0
		if b.state != breakerClosed {
			b.setState(breakerClosed)
		}
		return
	}

	b.consecutive++
	switch b.state {
	case breakerHalfOpen:
		b.openedAt = time.Now()
		b.setState(breakerOpen)
	case breakerClosed:
		if b.consecutive >= breakerFailureThreshold {
			b.openedAt = time.Now()
			b.setState(breakerOpen)
		}
	}
}

func (b *breaker) setState(next breakerState) {
	prev := b.state
	b.state = next
	metrics.BreakerState.WithLabelValues(b.host).Set(float64(next))
	b.logger.Info("circuit breaker state changed",
		zap.String("host", b.host),
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
	)
}
