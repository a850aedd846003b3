package bus

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// CircuitState represents the state of the publish circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows publishes through normally.
	CircuitClosed CircuitState = iota
	// CircuitOpen drops publishes until the cooldown elapses.
	CircuitOpen
	// CircuitHalfOpen allows a single probe publish after the cooldown.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the breaker is rejecting publishes.
var ErrCircuitOpen = errors.New("event bus circuit breaker is open")

// Breaker cooldown parameters. The cooldown doubles with each consecutive
// failure past the threshold and is capped, with jitter so a fleet of
// publishers does not retry in lockstep.
const (
	breakerFailureThreshold = 3
	breakerBaseCooldown     = 30 * time.Second
	breakerMaxCooldown      = 300 * time.Second
	breakerJitterFraction   = 0.2
)

// CircuitBreakerConfig holds configuration for the publish breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// BaseCooldown is the open duration at the threshold.
	BaseCooldown time.Duration
	// MaxCooldown caps the escalating cooldown.
	MaxCooldown time.Duration
	// OnStateChange is called when the circuit state changes.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the standard breaker tuning.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: breakerFailureThreshold,
		BaseCooldown:     breakerBaseCooldown,
		MaxCooldown:      breakerMaxCooldown,
	}
}

// CircuitBreaker guards Redis publishes. Events are best-effort; when Redis
// is down the breaker sheds the publish load instead of stalling callers.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu              sync.Mutex
	state           CircuitState
	failures        int
	cooldown        time.Duration
	openedAt        time.Time
	lastStateChange time.Time

	// now and jitter are swappable for tests.
	now    func() time.Time
	jitter func(d time.Duration) time.Duration
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = breakerFailureThreshold
	}
	if config.BaseCooldown <= 0 {
		config.BaseCooldown = breakerBaseCooldown
	}
	if config.MaxCooldown <= 0 {
		config.MaxCooldown = breakerMaxCooldown
	}
	return &CircuitBreaker{
		config:          config,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
		now:             time.Now,
		jitter:          defaultJitter,
	}
}

// defaultJitter spreads d by +/-20%.
func defaultJitter(d time.Duration) time.Duration {
	spread := float64(d) * breakerJitterFraction
	return d + time.Duration((rand.Float64()*2-1)*spread)
}

// Allow reports whether a publish may proceed. An open breaker whose
// cooldown elapsed transitions to half-open and admits one probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) >= cb.cooldown {
			cb.transitionTo(CircuitHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.cooldown = 0
	if cb.state != CircuitClosed {
		cb.transitionTo(CircuitClosed)
	}
}

// RecordFailure counts a consecutive failure. At the threshold the breaker
// opens; each further failure doubles the cooldown up to the cap.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.failures < cb.config.FailureThreshold {
		return
	}

	cooldown := cb.config.BaseCooldown
	for i := cb.config.FailureThreshold; i < cb.failures; i++ {
		cooldown *= 2
		if cooldown >= cb.config.MaxCooldown {
			cooldown = cb.config.MaxCooldown
			break
		}
	}
	cb.cooldown = cb.jitter(cooldown)
	if cb.cooldown > cb.config.MaxCooldown {
		cb.cooldown = cb.config.MaxCooldown
	}
	cb.openedAt = cb.now()
	if cb.state != CircuitOpen {
		cb.transitionTo(CircuitOpen)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.cooldown {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset returns the breaker to closed with zeroed counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.cooldown = 0
	if cb.state != CircuitClosed {
		cb.transitionTo(CircuitClosed)
	}
}

// Stats returns a snapshot for health reporting.
func (cb *CircuitBreaker) Stats() CircuitStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitStats{
		State:           cb.state.String(),
		Failures:        cb.failures,
		Cooldown:        cb.cooldown,
		LastStateChange: cb.lastStateChange,
	}
}

// CircuitStats holds circuit breaker statistics.
type CircuitStats struct {
	State           string        `json:"state"`
	Failures        int           `json:"failures"`
	Cooldown        time.Duration `json:"cooldown,omitempty"`
	LastStateChange time.Time     `json:"last_state_change"`
}

// transitionTo changes the circuit state (must be called with lock held).
func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	if cb.state == newState {
		return
	}
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = cb.now()

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(oldState, newState)
	}
}
