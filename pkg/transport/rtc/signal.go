package rtc

import (
	"context"
	"net/http"
	"net/url"

	apperrors "github.com/LingByte/LingCall/pkg/errors"
	"github.com/gorilla/websocket"
)

// Signaling message types exchanged with the media server.
const (
	messageTypeInit      = "init"
	messageTypeOffer     = "offer"
	messageTypeAnswer    = "answer"
	messageTypeConnected = "connected"
	messageTypeBye       = "bye"
)

// SignalMessage is one WebSocket signaling frame.
type SignalMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// sdpPayload carries an offer or answer plus its ICE candidates.
type sdpPayload struct {
	SDP        string   `json:"sdp"`
	Candidates []string `json:"candidates"`
}

// signalingURL appends the participant token to the signaling endpoint.
func signalingURL(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", apperrors.WrapError(apperrors.ErrCodeInvalidInput, err)
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dialSignaling opens the signaling WebSocket. The token travels both as
// a query parameter and a bearer header; servers differ in which one
// they read.
func dialSignaling(ctx context.Context, rawURL, token string) (*websocket.Conn, error) {
	dialURL, err := signalingURL(rawURL, token)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, dialURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, apperrors.WrapError(apperrors.ErrCodeUnauthorized, err)
		}
		return nil, apperrors.WrapError(apperrors.ErrCodeSignalingFailed, err)
	}
	return conn, nil
}
