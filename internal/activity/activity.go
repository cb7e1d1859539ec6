// ABOUTME: Bot Framework activity wire types and conversation references
// ABOUTME: JSON structs matching the v3 activity schema Teams posts to the webhook

package activity

import (
	"encoding/json"
	"time"
)

// Activity type discriminators from the Bot Framework v3 schema.
const (
	TypeMessage            = "message"
	TypeInvoke             = "invoke"
	TypeInvokeResponse     = "invokeResponse"
	TypeConversationUpdate = "conversationUpdate"
	TypeTyping             = "typing"
)

// ChannelAccount identifies a user or bot within a channel.
type ChannelAccount struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	AADObjectID string `json:"aadObjectId,omitempty"`
	Role        string `json:"role,omitempty"`
}

// ConversationAccount identifies the conversation an activity belongs to.
// TenantID is populated by Teams and drives the tenant allowlist check.
type ConversationAccount struct {
	ID               string `json:"id"`
	Name             string `json:"name,omitempty"`
	ConversationType string `json:"conversationType,omitempty"`
	TenantID         string `json:"tenantId,omitempty"`
	IsGroup          bool   `json:"isGroup,omitempty"`
}

// ConversationReference is the minimal address needed to route an activity
// back to its conversation. It round-trips through the sign-in state blob.
type ConversationReference struct {
	ActivityID   string               `json:"activityId,omitempty"`
	User         *ChannelAccount      `json:"user,omitempty"`
	Bot          *ChannelAccount      `json:"bot,omitempty"`
	Conversation *ConversationAccount `json:"conversation,omitempty"`
	ChannelID    string               `json:"channelId,omitempty"`
	ServiceURL   string               `json:"serviceUrl,omitempty"`
}

// Entity is an open-ended metadata item attached to an activity.
type Entity map[string]any

// Attachment carries a card or other rich content on a message activity.
type Attachment struct {
	ContentType string `json:"contentType"`
	Content     any    `json:"content,omitempty"`
	ContentURL  string `json:"contentUrl,omitempty"`
	Name        string `json:"name,omitempty"`
}

// Activity is one inbound or outbound event in the channel protocol.
// Value is kept raw because its shape depends on the invoke name.
type Activity struct {
	Type         string                 `json:"type"`
	ID           string                 `json:"id,omitempty"`
	Timestamp    *time.Time             `json:"timestamp,omitempty"`
	ServiceURL   string                 `json:"serviceUrl,omitempty"`
	ChannelID    string                 `json:"channelId,omitempty"`
	From         ChannelAccount         `json:"from"`
	Conversation ConversationAccount    `json:"conversation"`
	Recipient    ChannelAccount         `json:"recipient"`
	Text         string                 `json:"text,omitempty"`
	TextFormat   string                 `json:"textFormat,omitempty"`
	Name         string                 `json:"name,omitempty"`
	Value        json.RawMessage        `json:"value,omitempty"`
	ReplyToID    string                 `json:"replyToId,omitempty"`
	MembersAdded []ChannelAccount       `json:"membersAdded,omitempty"`
	Attachments  []Attachment           `json:"attachments,omitempty"`
	Entities     []Entity               `json:"entities,omitempty"`
	ChannelData  map[string]any         `json:"channelData,omitempty"`
	RelatesTo    *ConversationReference `json:"relatesTo,omitempty"`
}

// Reference builds the conversation reference for an inbound activity,
// used both for sending replies and for the sign-in state blob.
func (a *Activity) Reference() ConversationReference {
	from := a.From
	recipient := a.Recipient
	conversation := a.Conversation
	return ConversationReference{
		ActivityID:   a.ID,
		User:         &from,
		Bot:          &recipient,
		Conversation: &conversation,
		ChannelID:    a.ChannelID,
		ServiceURL:   a.ServiceURL,
	}
}

// NewReply builds an outbound message activity addressed back to the
// conversation that produced in. From/recipient are swapped per the protocol.
func (a *Activity) NewReply(text string) *Activity {
	now := time.Now().UTC()
	return &Activity{
		Type:         TypeMessage,
		Timestamp:    &now,
		ServiceURL:   a.ServiceURL,
		ChannelID:    a.ChannelID,
		From:         a.Recipient,
		Recipient:    a.From,
		Conversation: a.Conversation,
		ReplyToID:    a.ID,
		Text:         text,
	}
}
