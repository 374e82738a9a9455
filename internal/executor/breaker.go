package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rendis/socialflow/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting calls
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens a circuit.
	FailureThreshold int
	// Cooldown is how long a circuit stays open before letting a probe through.
	Cooldown time.Duration
	// HalfOpenMax is the number of probes allowed while half-open.
	HalfOpenMax int
	// Now overrides time.Now.
	Now func() time.Time
}

// DefaultBreakerConfig returns the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

type circuit struct {
	mu          sync.Mutex
	state       CircuitState
	failures    int
	openedAt    time.Time
	halfOpenUse int
}

// Breakers tracks one circuit per key. BreakerExecutor keys by platform so
// an outage of one platform does not block the others.
type Breakers struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	cfg      BreakerConfig
}

// NewBreakers creates an empty set of circuits.
func NewBreakers(cfg BreakerConfig) *Breakers {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = def.HalfOpenMax
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breakers{circuits: make(map[string]*circuit), cfg: cfg}
}

// Allow reports whether a call for key may proceed. A rejected call gets a
// retriable circuit_open ExecutorError.
func (b *Breakers) Allow(key string) error {
	c := b.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CircuitOpen:
		remaining := b.cfg.Cooldown - b.cfg.Now().Sub(c.openedAt)
		if remaining > 0 {
			return &ExecutorError{
				Type:      "circuit_open",
				Message:   fmt.Sprintf("circuit for %q open after %d failures, %s left", key, c.failures, remaining.Round(time.Millisecond)),
				Retriable: true,
			}
		}
		c.state = CircuitHalfOpen
		c.halfOpenUse = 1
		return nil
	case CircuitHalfOpen:
		if c.halfOpenUse >= b.cfg.HalfOpenMax {
			return &ExecutorError{
				Type:      "circuit_open",
				Message:   fmt.Sprintf("circuit for %q half-open, probe in flight", key),
				Retriable: true,
			}
		}
		c.halfOpenUse++
	}
	return nil
}

// Success closes the circuit of key.
func (b *Breakers) Success(key string) {
	c := b.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = CircuitClosed
	c.failures = 0
	c.halfOpenUse = 0
}

// Failure counts a failure for key and returns the resulting state. A
// failed probe reopens the circuit at once.
func (b *Breakers) Failure(key string) CircuitState {
	c := b.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures++
	if c.state == CircuitHalfOpen || c.failures >= b.cfg.FailureThreshold {
		c.state = CircuitOpen
		c.openedAt = b.cfg.Now()
	}
	return c.state
}

// State returns the state of key's circuit, reporting an open circuit whose
// cooldown has elapsed as half-open.
func (b *Breakers) State(key string) CircuitState {
	c := b.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == CircuitOpen && b.cfg.Now().Sub(c.openedAt) >= b.cfg.Cooldown {
		return CircuitHalfOpen
	}
	return c.state
}

// Stats returns diagnostic information about key's circuit.
func (b *Breakers) Stats(key string) map[string]any {
	state := b.State(key)
	c := b.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{
		"key":                  key,
		"state":                state.String(),
		"consecutive_failures": c.failures,
		"failure_threshold":    b.cfg.FailureThreshold,
		"cooldown":             b.cfg.Cooldown.String(),
	}
}

func (b *Breakers) get(key string) *circuit {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}
	return c
}

// BreakerExecutor guards an executor with per-platform circuits. Errors and
// retriable ok=false results count as failures; a platform refusing an
// action (non-retriable ok=false) does not.
type BreakerExecutor struct {
	next     Executor
	breakers *Breakers
}

// NewBreakerExecutor wraps next.
func NewBreakerExecutor(next Executor, breakers *Breakers) *BreakerExecutor {
	return &BreakerExecutor{next: next, breakers: breakers}
}

func (e *BreakerExecutor) Execute(ctx context.Context, req *schema.ActionRequest) (*schema.ActionResult, error) {
	key := string(req.Platform)
	if err := e.breakers.Allow(key); err != nil {
		return nil, err
	}
	res, err := e.next.Execute(ctx, req)
	switch {
	case err != nil:
		if ctx.Err() == nil {
			e.breakers.Failure(key)
		}
	case res != nil && !res.OK && res.Error != nil && res.Error.Retriable:
		e.breakers.Failure(key)
	default:
		e.breakers.Success(key)
	}
	return res, err
}
