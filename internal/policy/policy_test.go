package policy

import (
	"strings"
	"testing"
	"time"

	"github.com/rendis/socialflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLint(t *testing.T) {
	assert.False(t, Lint("").Flagged)
	assert.False(t, Lint("hello https://a.example").Flagged)

	long := Lint(strings.Repeat("a", MaxTextLength+1))
	assert.True(t, long.Flagged)
	assert.Equal(t, []string{ReasonTooLong}, long.Reasons)

	links := Lint("http://a https://b http://c https://d")
	assert.Equal(t, []string{ReasonTooManyLinks}, links.Reasons)
}

func TestCheck_BlockedWords(t *testing.T) {
	d := Check(Policy{BlockedWords: []string{"Casino"}}, "Win big at the casino tonight")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "Casino")

	d = Check(Policy{BlockedWords: []string{"casino", " "}}, "coffee update")
	assert.True(t, d.Allowed)
	assert.False(t, d.RequiresApproval)
}

func TestCheck_EscalatesOnLintOrPolicy(t *testing.T) {
	d := Check(Policy{RequiresApproval: true}, "fine")
	assert.True(t, d.RequiresApproval)

	d = Check(Policy{}, strings.Repeat("x", MaxTextLength+5))
	assert.True(t, d.Allowed)
	assert.True(t, d.RequiresApproval)
	assert.Equal(t, []string{ReasonTooLong}, d.LintReasons)
}

func TestQuotaTracker_DailyLimit(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	q := NewQuotaTracker(func() time.Time { return now })
	rule := QuotaRule{Action: schema.ActionPublishPost, LimitPerDay: 2}

	assert.True(t, q.Reserve("u1", rule).Allowed)
	assert.True(t, q.Reserve("u1", rule).Allowed)
	assert.False(t, q.Reserve("u1", rule).Allowed)
	assert.True(t, q.Reserve("u2", rule).Allowed, "quotas are per user")

	now = now.Add(24 * time.Hour)
	assert.True(t, q.Reserve("u1", rule).Allowed, "counts reset at day boundary")
}

func TestQuotaTracker_Cooldown(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	q := NewQuotaTracker(func() time.Time { return now })
	rule := QuotaRule{Action: schema.ActionSendDM, LimitPerDay: 10, CooldownSec: 60}

	require.True(t, q.Reserve("u1", rule).Allowed)
	now = now.Add(20 * time.Second)
	d := q.Reserve("u1", rule)
	assert.False(t, d.Allowed)
	assert.Equal(t, 40, d.RetryAfterSec)

	now = now.Add(41 * time.Second)
	assert.True(t, q.Reserve("u1", rule).Allowed)
}

func TestQuotaTracker_ReserveAll(t *testing.T) {
	q := NewQuotaTracker(nil)
	p := Policy{Quotas: []QuotaRule{{Action: schema.ActionLikePost, LimitPerDay: 1}}}
	actions := []schema.ActionRequest{
		{RequestID: "a", UserID: "u1", Action: schema.ActionLikePost},
		{RequestID: "b", UserID: "u1", Action: schema.ActionCommentPost},
		{RequestID: "c", UserID: "u1", Action: schema.ActionLikePost},
	}
	denied, d := q.ReserveAll(p, actions)
	require.NotNil(t, denied)
	assert.Equal(t, "c", denied.RequestID)
	assert.False(t, d.Allowed)
}
