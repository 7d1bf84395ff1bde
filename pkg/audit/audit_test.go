package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_WritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf)

	err := l.Record(context.Background(), EventDecision, "agent-7", "admit", "claim:c1",
		map[string]interface{}{"trust": 0.93})
	require.NoError(t, err)

	line := buf.String()
	require.True(t, strings.HasPrefix(line, "AUDIT: "))

	var event Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "AUDIT: ")), &event))
	assert.Equal(t, EventDecision, event.Type)
	assert.Equal(t, "agent-7", event.ActorID)
	assert.Equal(t, "claim:c1", event.Resource)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestRecord_DefaultsActorToSystem(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf)
	require.NoError(t, l.Record(context.Background(), EventPolicyReload, "", "reload", "policy", nil))

	var event Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(buf.String(), "AUDIT: ")), &event))
	assert.Equal(t, "system", event.ActorID)
}
