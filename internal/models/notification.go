package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NotificationType string

const (
	NotificationNewMessage         NotificationType = "new-message"
	NotificationNewConversation    NotificationType = "new-conversation"
	NotificationMessageRead        NotificationType = "message-read"
	NotificationConversationClosed NotificationType = "conversation-closed"
	NotificationAdminWarning       NotificationType = "admin-warning"
	NotificationSystemAnnouncement NotificationType = "system-announcement"
)

// ChatNotification is the durable record behind the best-effort live push:
// created whenever a message or moderation action targets an offline-capable
// recipient, mutated only by read-state changes, purged by the retention
// sweep once the read marker is older than the retention window.
type ChatNotification struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID  `gorm:"type:uuid;index" json:"user_id"`
	ConversationID uuid.UUID  `gorm:"type:uuid;index" json:"conversation_id"`
	MessageID      *uuid.UUID `gorm:"type:uuid" json:"message_id,omitempty"`

	Type    NotificationType `gorm:"type:varchar(30);index" json:"type"`
	Content string           `gorm:"size:300" json:"content"`

	IsRead bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt *time.Time `json:"read_at,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (n *ChatNotification) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return
}
