package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorMessage(t *testing.T) {
	err := NewAppError(ErrCodeCredential, "issuer rejected the request")
	assert.Equal(t, "CREDENTIAL_ERROR: issuer rejected the request", err.Error())
	assert.Equal(t, http.StatusUnauthorized, err.HTTPStatus)

	wrapped := WrapError(ErrCodeTransportConnect, errors.New("dial refused"))
	assert.Contains(t, wrapped.Error(), "caused by: dial refused")
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError(ErrCodeSignalingFailed, cause)
	assert.True(t, errors.Is(err, cause))
}

func TestHasCode(t *testing.T) {
	err := NewAppError(ErrCodePlaybackBlocked, "playback device not started")
	assert.True(t, HasCode(err, ErrCodePlaybackBlocked))
	assert.False(t, HasCode(err, ErrCodeMediaDevice))
	assert.False(t, HasCode(errors.New("plain"), ErrCodePlaybackBlocked))
	assert.False(t, HasCode(nil, ErrCodePlaybackBlocked))
}

func TestHasCodeThroughWrapping(t *testing.T) {
	inner := NewAppError(ErrCodeConnectionTimeout, "start sequence timed out")
	outer := fmt.Errorf("start failed: %w", inner)
	assert.True(t, HasCode(outer, ErrCodeConnectionTimeout))
}

func TestAsAppError(t *testing.T) {
	appErr, ok := AsAppError(NewAppErrorf(ErrCodeAlreadyConnected, "connect called while %s", "connected"))
	require.True(t, ok)
	assert.Equal(t, ErrCodeAlreadyConnected, appErr.Code)

	_, ok = AsAppError(errors.New("plain"))
	assert.False(t, ok)
}
