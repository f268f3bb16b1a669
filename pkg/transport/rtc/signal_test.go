package rtc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalingURL(t *testing.T) {
	u, err := signalingURL("ws://localhost:7880/rtc", "tok-abc")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:7880/rtc?access_token=tok-abc", u)
}

func TestSignalingURLKeepsExistingQuery(t *testing.T) {
	u, err := signalingURL("wss://media.example.com/rtc?region=eu", "tok")
	require.NoError(t, err)
	assert.Contains(t, u, "region=eu")
	assert.Contains(t, u, "access_token=tok")
}

func TestSignalMessageRoundTrip(t *testing.T) {
	msg := SignalMessage{
		Type:      messageTypeOffer,
		SessionID: "session_1",
		Data:      sdpPayload{SDP: "v=0", Candidates: []string{"candidate:1"}},
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded SignalMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, messageTypeOffer, decoded.Type)
	assert.Equal(t, "session_1", decoded.SessionID)

	payload, err := decodeSDPPayload(decoded.Data)
	require.NoError(t, err)
	assert.Equal(t, "v=0", payload.SDP)
	assert.Equal(t, []string{"candidate:1"}, payload.Candidates)
}

func TestDecodeSDPPayloadObjectCandidates(t *testing.T) {
	payload, err := decodeSDPPayload(map[string]interface{}{
		"sdp": "v=0",
		"candidates": []interface{}{
			map[string]interface{}{"candidate": "candidate:2"},
			"candidate:3",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"candidate:2", "candidate:3"}, payload.Candidates)
}

func TestDecodeSDPPayloadRejectsMissingSDP(t *testing.T) {
	_, err := decodeSDPPayload(map[string]interface{}{"candidates": []interface{}{}})
	require.Error(t, err)

	_, err = decodeSDPPayload("not an object")
	require.Error(t, err)
}
