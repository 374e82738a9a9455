package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrSupervisorClosed is returned for work routed to a stopped Supervisor.
var ErrSupervisorClosed = errors.New("actor supervisor is closed")

// DefaultIdleTimeout retires an actor that has had no callers for this long.
const DefaultIdleTimeout = time.Minute

type envelope struct {
	ctx   context.Context
	fn    func(ctx context.Context) error
	reply chan error
}

// actor is the single writer for one key. Its goroutine drains the mailbox
// in FIFO order, so operations for the same key never overlap.
type actor struct {
	key     string
	mailbox chan envelope
	refs    int // callers holding this actor; guarded by Supervisor.mu
}

// Supervisor routes operations to one lazily spawned actor per key and
// retires actors after they idle.
type Supervisor struct {
	mu     sync.Mutex
	actors map[string]*actor
	idle   time.Duration
	logger *slog.Logger
	closed bool
	wg     sync.WaitGroup
}

// NewSupervisor creates a Supervisor. A non-positive idle uses DefaultIdleTimeout.
func NewSupervisor(idle time.Duration, logger *slog.Logger) *Supervisor {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		actors: make(map[string]*actor),
		idle:   idle,
		logger: logger,
	}
}

// Do runs fn on the actor owning key and waits for it to finish. Calls for
// the same key are serialized; calls for different keys run concurrently.
// If ctx ends while fn is queued or running, Do returns ctx.Err() and fn
// still completes on the actor.
func (s *Supervisor) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	a, err := s.acquire(key)
	if err != nil {
		return err
	}
	defer s.release(a)

	env := envelope{ctx: context.WithoutCancel(ctx), fn: fn, reply: make(chan error, 1)}
	select {
	case a.mailbox <- env:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-env.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of live actors.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actors)
}

// Close stops accepting work and waits for every actor to drain.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for key, a := range s.actors {
		if a.refs == 0 {
			close(a.mailbox)
			delete(s.actors, key)
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Supervisor) acquire(key string) (*actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSupervisorClosed
	}
	a, ok := s.actors[key]
	if !ok {
		a = &actor{key: key, mailbox: make(chan envelope)}
		s.actors[key] = a
		s.wg.Add(1)
		go s.loop(a)
	}
	a.refs++
	return a, nil
}

func (s *Supervisor) release(a *actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.refs--
	if s.closed && a.refs == 0 && s.actors[a.key] == a {
		close(a.mailbox)
		delete(s.actors, a.key)
	}
}

func (s *Supervisor) loop(a *actor) {
	defer s.wg.Done()
	timer := time.NewTimer(s.idle)
	defer timer.Stop()

	for {
		select {
		case env, ok := <-a.mailbox:
			if !ok {
				return
			}
			env.reply <- s.invoke(a.key, env)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.idle)

		case <-timer.C:
			if s.retire(a) {
				return
			}
			timer.Reset(s.idle)
		}
	}
}

// retire removes an idle actor unless a caller still holds it.
func (s *Supervisor) retire(a *actor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.refs > 0 || s.actors[a.key] != a {
		return false
	}
	delete(s.actors, a.key)
	s.logger.Debug("actor retired", "key", a.key)
	return true
}

func (s *Supervisor) invoke(key string, env envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("actor operation panicked", "key", key, "panic", r)
			err = fmt.Errorf("actor %s: panic: %v", key, r)
		}
	}()
	return env.fn(env.ctx)
}
