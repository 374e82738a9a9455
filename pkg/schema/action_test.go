package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionDispatch_PlainOutputs(t *testing.T) {
	for _, v := range []any{nil, "text", 42, []any{1, 2}, map[string]any{"draft": "x"}, map[string]any{"type": "other"}} {
		d, ok, err := ParseActionDispatch(v)
		require.NoError(t, err)
		assert.False(t, ok, "%v", v)
		assert.Nil(t, d)
	}
}

func TestParseActionDispatch_SingleActionMap(t *testing.T) {
	out := map[string]any{
		"type": "action_request",
		"action": map[string]any{
			"requestId": "r1",
			"userId":    "u1",
			"platform":  "x",
			"action":    "publish_post",
			"mode":      "api",
			"payload":   map[string]any{"text": "hi"},
		},
	}
	d, ok, err := ParseActionDispatch(out)
	require.NoError(t, err)
	require.True(t, ok)
	reqs := d.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "r1", reqs[0].RequestID)
	assert.Equal(t, PlatformX, reqs[0].Platform)
	assert.Equal(t, "hi", reqs[0].Payload["text"])
}

func TestParseActionDispatch_BatchTyped(t *testing.T) {
	d, ok, err := ParseActionDispatch(&ActionDispatch{
		Type:    DispatchActionBatch,
		Actions: []ActionRequest{{RequestID: "a"}, {RequestID: "b"}},
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, d.Requests(), 2)
}

func TestParseActionDispatch_RequestWithActionsList(t *testing.T) {
	d, ok, err := ParseActionDispatch(map[string]any{
		"type":    "action_request",
		"actions": []any{map[string]any{"requestId": "a"}, map[string]any{"requestId": "b"}},
	})
	require.NoError(t, err)
	require.True(t, ok)
	reqs := d.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "b", reqs[1].RequestID)
}

func TestParseActionDispatch_Malformed(t *testing.T) {
	_, ok, err := ParseActionDispatch(map[string]any{"type": "action_batch", "actions": "nope"})
	assert.True(t, ok)
	assert.True(t, HasCode(err, ErrCodeValidation))
}

func TestDeriveRequestID_Deterministic(t *testing.T) {
	a := DeriveRequestID("run1", "n1", PlatformX, ActionPublishPost, map[string]any{"text": "hi"})
	b := DeriveRequestID("run1", "n1", PlatformX, ActionPublishPost, map[string]any{"text": "hi"})
	c := DeriveRequestID("run1", "n1", PlatformX, ActionPublishPost, map[string]any{"text": "bye"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "run1:n1:x:publish_post:"))
}
