package session

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"

	"github.com/carlmjohnson/requests"

	apperrors "github.com/LingByte/LingCall/pkg/errors"
	"github.com/LingByte/LingCall/pkg/logger"
	"go.uber.org/zap"
)

// roomSuffixRange matches the original dashboard's room naming: an
// unseeded random integer with no uniqueness guarantee.
const roomSuffixRange = 10000

// CredentialClient fetches a fresh session credential from the token
// issuer for every attempt. It holds no state and caches nothing.
type CredentialClient struct {
	// IssuerURL is the token issuer endpoint.
	IssuerURL string
	// TransportURL is the media server URL handed out with each
	// credential; it comes from static configuration, not the issuer.
	TransportURL string
	// RoomPrefix is combined with a random suffix to form the room name.
	RoomPrefix string
	// ParticipantName is the display identity of the local caller.
	ParticipantName string
	// HTTPClient overrides the default client when set.
	HTTPClient *http.Client
}

type tokenResponse struct {
	ParticipantToken string `json:"participantToken"`
}

// Fetch requests one credential for the given agent. The identity token
// authenticates the caller against the issuer; it is passed through
// opaque and never inspected.
func (c *CredentialClient) Fetch(ctx context.Context, agentID, identityToken string) (Credential, error) {
	if agentID == "" {
		return Credential{}, apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "agent id is required")
	}
	if identityToken == "" {
		return Credential{}, apperrors.NewAppError(apperrors.ErrCodeCredential, "not authenticated")
	}

	builder := requests.
		URL(c.IssuerURL).
		Param("agent_id", agentID).
		Bearer(identityToken).
		Header("Cache-Control", "no-store").
		BodyJSON(map[string]string{"agent_id": agentID})
	if c.HTTPClient != nil {
		builder = builder.Client(c.HTTPClient)
	}

	var resp tokenResponse
	if err := builder.ToJSON(&resp).Fetch(ctx); err != nil {
		logger.Warn("credential fetch failed", zap.String("agent_id", agentID), zap.Error(err))
		return Credential{}, apperrors.WrapError(apperrors.ErrCodeCredential, err)
	}
	if resp.ParticipantToken == "" {
		return Credential{}, apperrors.NewAppError(apperrors.ErrCodeCredential, "issuer response carries no participant token")
	}

	cred := Credential{
		TransportURL:     c.TransportURL,
		RoomName:         c.RoomPrefix + strconv.Itoa(rand.Intn(roomSuffixRange)),
		ParticipantName:  c.ParticipantName,
		ParticipantToken: resp.ParticipantToken,
	}
	logger.Debug("credential fetched", zap.String("agent_id", agentID), zap.String("room", cred.RoomName))
	return cred, nil
}
