package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"event":"message:send","data":{"conversationId":"abc","text":"hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, EvMessageSend, env.Event)

	var payload SendMessagePayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "hi", payload.Text)

	_, err = ParseEnvelope([]byte(`not json`))
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = ParseEnvelope([]byte(`{"data":{}}`))
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestConversationRefUUID(t *testing.T) {
	ref := ConversationRef{ConversationID: "123e4567-e89b-12d3-a456-426614174000"}
	id, err := ref.UUID()
	require.NoError(t, err)
	assert.Equal(t, ref.ConversationID, id.String())

	_, err = ConversationRef{ConversationID: "nope"}.UUID()
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = ConversationRef{}.UUID()
	assert.Equal(t, KindValidation, KindOf(err))
}
