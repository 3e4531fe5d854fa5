package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSONWithHub(t *testing.T) {
	var buf bytes.Buffer
	hub := NewHub(10)

	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf, Hub: hub})
	logger := WithComponent("replication")
	logger.Info().Str("peer", "node2").Msg("full resync")

	require.Len(t, hub.Backlog(0), 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(hub.Backlog(0)[0], &entry))
	assert.Equal(t, "replication", entry["component"])
	assert.Equal(t, "full resync", entry["message"])
	assert.Contains(t, buf.String(), "full resync")
}

func TestInitConsoleKeepsHubJSON(t *testing.T) {
	var buf bytes.Buffer
	hub := NewHub(10)

	Init(Config{Level: InfoLevel, Output: &buf, Hub: hub})
	Logger.Info().Msg("hello")

	lines := hub.Backlog(0)
	require.Len(t, lines, 1)
	assert.True(t, json.Valid(lines[0]), "hub lines are JSON even with console output")
	assert.False(t, json.Valid(buf.Bytes()))
}

func TestHubBacklogWraps(t *testing.T) {
	hub := NewHub(3)
	for i := 0; i < 5; i++ {
		_, _ = hub.Write([]byte(fmt.Sprintf("line%d", i)))
	}

	tests := []struct {
		name     string
		n        int
		expected []string
	}{
		{"all", 0, []string{"line2", "line3", "line4"}},
		{"last two", 2, []string{"line3", "line4"}},
		{"more than kept", 10, []string{"line2", "line3", "line4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, l := range hub.Backlog(tt.n) {
				got = append(got, string(l))
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestHubBacklogPartial(t *testing.T) {
	hub := NewHub(5)
	_, _ = hub.Write([]byte("a"))
	_, _ = hub.Write([]byte("b"))

	lines := hub.Backlog(0)
	require.Len(t, lines, 2)
	assert.Equal(t, "a", string(lines[0]))
}

func TestHubSubscribe(t *testing.T) {
	hub := NewHub(5)
	ch, cancel := hub.Subscribe()
	assert.Equal(t, 1, hub.SubscriberCount())

	_, _ = hub.Write([]byte("event"))

	select {
	case line := <-ch:
		assert.Equal(t, "event", string(line))
	case <-time.After(time.Second):
		t.Fatal("no line received")
	}

	cancel()
	cancel()
	assert.Equal(t, 0, hub.SubscriberCount())

	_, ok := <-ch
	assert.False(t, ok, "channel closed after cancel")
}
