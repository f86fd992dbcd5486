package chat

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Client -> server events.
const (
	EvConversationJoin     = "conversation:join"
	EvConversationLeave    = "conversation:leave"
	EvMessageSend          = "message:send"
	EvTypingStart          = "typing:start"
	EvTypingStop           = "typing:stop"
	EvMessageRead          = "message:read"
	EvConversationMarkRead = "conversation:mark-read"
	EvAdminBlock           = "admin:block-conversation"
	EvAdminAnnouncement    = "admin:send-announcement"
	EvUserCheckOnline      = "user:check-online"
)

// Server -> client events.
const (
	EvMessageNew            = "message:new"
	EvNotificationNew       = "notification:new"
	EvMessageReadReceipt    = "message:read-receipt"
	EvUserTyping            = "user:typing"
	EvUserStopTyping        = "user:stop-typing"
	EvUserOnline            = "user:online"
	EvUserOffline           = "user:offline"
	EvConversationBlocked   = "conversation:blocked"
	EvConversationUnblocked = "conversation:unblocked"
	EvError                 = "error"
)

// Envelope is the wire frame in both directions:
// {"event": "...", "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseEnvelope validates the outer frame before dispatch.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, Validation("malformed event payload")
	}
	if env.Event == "" {
		return nil, Validation("missing event name")
	}
	return &env, nil
}

type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

func (p ConversationRef) UUID() (uuid.UUID, error) {
	id, err := uuid.Parse(p.ConversationID)
	if err != nil {
		return uuid.Nil, Validation("invalid conversation id")
	}
	return id, nil
}

type FilePayload struct {
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}

type SendMessagePayload struct {
	ConversationID string       `json:"conversationId"`
	Text           string       `json:"text,omitempty"`
	Type           string       `json:"type"`
	FileData       *FilePayload `json:"fileData,omitempty"`
	ReplyTo        string       `json:"replyTo,omitempty"`
}

type ReadMessagePayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type BlockPayload struct {
	ConversationID string `json:"conversationId"`
	Reason         string `json:"reason"`
}

type AnnouncementPayload struct {
	Message    string `json:"message"`
	TargetRole string `json:"targetRole,omitempty"`
}

type CheckOnlinePayload struct {
	TargetUserID string `json:"targetUserId"`
}

// TypingEvent is broadcast to a conversation room, excluding the actor.
type TypingEvent struct {
	UserID         string `json:"userId"`
	UserName       string `json:"userName,omitempty"`
	ConversationID string `json:"conversationId"`
}

type PresenceEvent struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Name   string `json:"name"`
}

type ReadReceiptEvent struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	ReadBy         string    `json:"readBy"`
	ReadAt         time.Time `json:"readAt"`
}

type ModerationEvent struct {
	ConversationID string `json:"conversationId"`
	Reason         string `json:"reason,omitempty"`
	By             string `json:"by"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}
