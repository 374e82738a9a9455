package policy

import (
	"sync"
	"time"

	"github.com/rendis/socialflow/pkg/schema"
)

// QuotaTracker counts actions per user per UTC day.
type QuotaTracker struct {
	mu   sync.Mutex
	now  func() time.Time
	day  string
	used map[string]int
	last map[string]time.Time
}

// NewQuotaTracker creates a tracker. A nil clock uses time.Now.
func NewQuotaTracker(now func() time.Time) *QuotaTracker {
	if now == nil {
		now = time.Now
	}
	return &QuotaTracker{now: now, used: make(map[string]int), last: make(map[string]time.Time)}
}

// QuotaDecision is the outcome of a quota reservation.
type QuotaDecision struct {
	Allowed       bool `json:"allowed"`
	RetryAfterSec int  `json:"retryAfterSec,omitempty"`
}

// Reserve consumes one unit of rule for userID if the daily limit and the
// cooldown allow it.
func (q *QuotaTracker) Reserve(userID string, rule QuotaRule) QuotaDecision {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UTC()
	if day := now.Format("2006-01-02"); day != q.day {
		q.day = day
		q.used = make(map[string]int)
	}

	key := userID + "|" + string(rule.Action)
	if rule.LimitPerDay > 0 && q.used[key] >= rule.LimitPerDay {
		return QuotaDecision{Allowed: false, RetryAfterSec: rule.CooldownSec}
	}
	if rule.CooldownSec > 0 {
		if last, ok := q.last[key]; ok {
			wait := time.Duration(rule.CooldownSec)*time.Second - now.Sub(last)
			if wait > 0 {
				return QuotaDecision{Allowed: false, RetryAfterSec: int(wait.Seconds() + 0.5)}
			}
		}
	}
	q.used[key]++
	q.last[key] = now
	return QuotaDecision{Allowed: true}
}

// ReserveAll applies every matching rule in p to each action. It stops at
// the first denial and returns the offending action.
func (q *QuotaTracker) ReserveAll(p Policy, actions []schema.ActionRequest) (*schema.ActionRequest, QuotaDecision) {
	for i := range actions {
		for _, rule := range p.Quotas {
			if rule.Action != actions[i].Action {
				continue
			}
			if d := q.Reserve(actions[i].UserID, rule); !d.Allowed {
				return &actions[i], d
			}
		}
	}
	return nil, QuotaDecision{Allowed: true}
}
