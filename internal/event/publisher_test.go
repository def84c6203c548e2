package event

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWrapsPayload(t *testing.T) {
	at := time.Date(2024, 11, 22, 10, 0, 0, 0, time.FixedZone("JST", 9*3600))
	body, err := Encode("group.joined", map[string]string{"name": "Team A"}, at)
	require.NoError(t, err)

	var env struct {
		Type       string            `json:"type"`
		OccurredAt time.Time         `json:"occurredAt"`
		Payload    map[string]string `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, "group.joined", env.Type)
	assert.True(t, env.OccurredAt.Equal(at))
	assert.Equal(t, "Team A", env.Payload["name"])
}

func TestEncodeRejectsUnsupportedPayload(t *testing.T) {
	_, err := Encode("lobby.created", make(chan int), time.Now())
	assert.Error(t, err)
}

func TestLogPublisherWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)

	require.NoError(t, LogPublisher{}.Publish("lobby.started", map[string]string{"id": "l1"}))
	assert.True(t, strings.Contains(buf.String(), `"type":"lobby.started"`), buf.String())
}
