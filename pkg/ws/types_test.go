package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRefAcceptsStringAndNumber(t *testing.T) {
	var ev InboundEvent
	require.NoError(t, json.Unmarshal([]byte(`{"role":"assistant","content":"Hi","session_id":1}`), &ev))
	assert.Equal(t, SessionRef("1"), ev.SessionID)

	require.NoError(t, json.Unmarshal([]byte(`{"role":"assistant","content":"Hi","session_id":"abc"}`), &ev))
	assert.Equal(t, SessionRef("abc"), ev.SessionID)

	require.NoError(t, json.Unmarshal([]byte(`{"role":"assistant","content":"Hi","session_id":null}`), &ev))
	assert.Equal(t, SessionRef(""), ev.SessionID)

	assert.Error(t, json.Unmarshal([]byte(`{"session_id":true}`), &ev))
}

func TestSessionRefMarshal(t *testing.T) {
	numeric := SessionRef("42")
	named := SessionRef("chat-7")
	padded := SessionRef("007")

	req := ChatRequest{Message: "Hello", SessionID: &numeric}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id":42`)

	data, err = json.Marshal(named)
	require.NoError(t, err)
	assert.Equal(t, `"chat-7"`, string(data))

	data, err = json.Marshal(padded)
	require.NoError(t, err)
	assert.Equal(t, `"007"`, string(data))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(TypeStatus, StatusSignal{Phase: "processing", Message: "Working", Epoch: 3})
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, TypeStatus, decoded.Type)

	var sig StatusSignal
	require.NoError(t, decoded.Decode(&sig))
	assert.Equal(t, uint64(3), sig.Epoch)
	assert.Equal(t, "processing", sig.Phase)

	ping, err := NewEnvelope(TypePing, nil)
	require.NoError(t, err)
	assert.Error(t, ping.Decode(&sig))
}
