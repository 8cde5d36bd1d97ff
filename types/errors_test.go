package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	cause := errors.New("token is expired")
	err := NewAuthenticationError(cause, "credential expired")
	assert.Equal(t, ErrorKindAuthentication, KindOf(err))
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("handshake: %w", NewNotFoundError("channel %s not found", "c9"))
	assert.True(t, IsKind(wrapped, ErrorKindNotFound))
	assert.False(t, IsKind(nil, ErrorKindNotFound))
	assert.Equal(t, ErrorKindInternal, KindOf(errors.New("boom")))
}

func TestToPayload(t *testing.T) {
	p := ToPayload(NewValidationError("content must not be empty"))
	assert.Equal(t, ErrorPayload{Kind: ErrorKindValidation, Message: "content must not be empty"}, p)

	p = ToPayload(errors.New("pq: connection refused to 10.0.0.3"))
	assert.Equal(t, ErrorKindInternal, p.Kind)
	assert.Equal(t, "internal error", p.Message)
}

func TestEncodeFrame(t *testing.T) {
	raw, err := EncodeFrame(EventChannelRead, ChannelReadPayload{ChannelId: "c1", Count: 5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"channel_read","data":{"channelId":"c1","count":5}}`, string(raw))

	msg := WebsocketMessage{}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, EventChannelRead, msg.Event)
}
