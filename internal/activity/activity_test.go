// ABOUTME: Tests for activity references, replies, and sign-in payload encoding
// ABOUTME: Covers the state blob round-trip and invoke name classification

package activity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inbound() *Activity {
	return &Activity{
		Type:       TypeMessage,
		ID:         "act-1",
		ServiceURL: "https://smba.trafficmanager.net/teams/",
		ChannelID:  "msteams",
		From:       ChannelAccount{ID: "user-1", Name: "Ada"},
		Recipient:  ChannelAccount{ID: "bot-1", Name: "gateway"},
		Conversation: ConversationAccount{
			ID:       "conv-1",
			TenantID: "tenant-1",
		},
		Text: "hello",
	}
}

func TestReferenceAddressesConversation(t *testing.T) {
	ref := inbound().Reference()

	assert.Equal(t, "act-1", ref.ActivityID)
	assert.Equal(t, "conv-1", ref.Conversation.ID)
	assert.Equal(t, "user-1", ref.User.ID)
	assert.Equal(t, "bot-1", ref.Bot.ID)
	assert.Equal(t, "msteams", ref.ChannelID)
	assert.Equal(t, "https://smba.trafficmanager.net/teams/", ref.ServiceURL)
}

func TestNewReplySwapsAddressing(t *testing.T) {
	in := inbound()
	reply := in.NewReply("hi there")

	assert.Equal(t, TypeMessage, reply.Type)
	assert.Equal(t, in.Recipient, reply.From)
	assert.Equal(t, in.From, reply.Recipient)
	assert.Equal(t, in.Conversation.ID, reply.Conversation.ID)
	assert.Equal(t, "act-1", reply.ReplyToID)
	assert.Equal(t, "hi there", reply.Text)
}

func TestTokenExchangeStateRoundTrip(t *testing.T) {
	ref := inbound().Reference()
	state := TokenExchangeState{
		ConnectionName: "teams-sso",
		Conversation:   &ref,
		BotURL:         "https://bot.example.com/api/messages",
		MsAppID:        "app-id",
	}

	encoded, err := state.Encode()
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	decoded, err := DecodeTokenExchangeState(encoded)
	require.NoError(t, err)
	assert.Equal(t, "teams-sso", decoded.ConnectionName)
	assert.Equal(t, "conv-1", decoded.Conversation.Conversation.ID)
	assert.Equal(t, "app-id", decoded.MsAppID)
}

func TestDecodeTokenExchangeStateRejectsGarbage(t *testing.T) {
	_, err := DecodeTokenExchangeState("not-base64!!!")
	assert.Error(t, err)

	_, err = DecodeTokenExchangeState("bm90IGpzb24=")
	assert.Error(t, err)
}

func TestKindOfInvoke(t *testing.T) {
	tests := []struct {
		name string
		want InvokeKind
	}{
		{"signin/tokenExchange", InvokeTokenExchange},
		{"signin/verifyState", InvokeVerifyState},
		{"composeExtension/query", InvokeUnknown},
		{"", InvokeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOfInvoke(tt.name), tt.name)
	}
}

func TestInvokeValueParsing(t *testing.T) {
	act := &Activity{
		Type:  TypeInvoke,
		Name:  VerifyStateOperationName,
		Value: json.RawMessage(`{"state":"123456"}`),
	}

	var v VerifyStateValue
	require.NoError(t, json.Unmarshal(act.Value, &v))
	assert.Equal(t, "123456", v.State)
}
