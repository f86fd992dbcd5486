package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ConversationType string

const (
	ConversationProductInquiry ConversationType = "product-inquiry"
	ConversationOrderSupport   ConversationType = "order-support"
	ConversationGeneral        ConversationType = "general"
	ConversationAdminMonitor   ConversationType = "admin-monitor"
)

type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
	ConversationBlocked  ConversationStatus = "blocked"
)

// Conversation is a durable thread between a customer and a vendor,
// optionally monitored by an admin, scoped to a product/order context.
type Conversation struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	Type   ConversationType   `gorm:"type:varchar(30);default:'general';index" json:"type"`
	Status ConversationStatus `gorm:"type:varchar(20);default:'active';index" json:"status"`

	// Business context, set at creation. Product may be swapped while the
	// conversation is active; order and subject are immutable.
	ProductID *uint      `gorm:"index" json:"product_id,omitempty"`
	OrderID   *uuid.UUID `gorm:"type:uuid;index" json:"order_id,omitempty"`
	Subject   string     `json:"subject"`

	// Denormalized cache of the most recent non-deleted message. Updated in
	// the same transaction as the message insert.
	LastMessageSenderID *uuid.UUID `gorm:"type:uuid" json:"last_message_sender_id,omitempty"`
	LastMessageText     string     `gorm:"size:160" json:"last_message_text"`
	LastMessageType     string     `gorm:"size:20" json:"last_message_type"`
	LastMessageAt       *time.Time `gorm:"index" json:"last_message_at,omitempty"`

	// Aggregate counters.
	TotalMessages      int64          `gorm:"default:0" json:"total_messages"`
	SatisfactionRating *int           `json:"satisfaction_rating,omitempty"`
	AvgResponseSeconds float64        `gorm:"default:0" json:"avg_response_seconds"`
	VendorReplies      int64          `gorm:"default:0" json:"vendor_replies"`
	IsUrgent           bool           `gorm:"default:false" json:"is_urgent"`
	Tags               datatypes.JSON `json:"tags,omitempty"`

	// Moderation audit.
	IsMonitored   bool       `gorm:"default:false" json:"is_monitored"`
	MonitoredBy   *uuid.UUID `gorm:"type:uuid" json:"monitored_by,omitempty"`
	FlaggedReason string     `json:"flagged_reason,omitempty"`
	BlockedAt     *time.Time `json:"blocked_at,omitempty"`
	BlockedBy     *uuid.UUID `gorm:"type:uuid" json:"blocked_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
	Product      *Product                  `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	Messages     []Message                 `gorm:"foreignKey:ConversationID" json:"messages,omitempty"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return
}

// ConversationParticipant is the membership row: at most one entry per user
// per conversation.
type ConversationParticipant struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;index;uniqueIndex:idx_conv_participant" json:"conversation_id"`
	UserID         uuid.UUID `gorm:"type:uuid;index;uniqueIndex:idx_conv_participant" json:"user_id"`

	Role       Role       `gorm:"type:varchar(20)" json:"role"`
	JoinedAt   time.Time  `json:"joined_at"`
	LastReadAt *time.Time `json:"last_read_at,omitempty"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (p *ConversationParticipant) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return
}

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

// MaxMessageTextLen caps text message bodies.
const MaxMessageTextLen = 5000

// SenderRoleSystem marks announcement messages authored by the platform
// rather than a participant.
const SenderRoleSystem = "system"

// Message is one entry in a conversation. Content is immutable after
// creation except for the edit and soft-delete flags.
type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;index" json:"conversation_id"`

	SenderID   uuid.UUID `gorm:"type:uuid;index" json:"sender_id"`
	SenderRole string    `gorm:"type:varchar(20)" json:"sender_role"` // snapshot at send time

	Type MessageType `gorm:"type:varchar(20);default:'text'" json:"type"`
	Text string      `gorm:"type:text" json:"text"`

	FileURL  string `json:"file_url,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	MimeType string `gorm:"size:100" json:"mime_type,omitempty"`

	Status string `gorm:"type:varchar(20);default:'sent'" json:"status"`

	IsEdited bool       `gorm:"default:false" json:"is_edited"`
	EditedAt *time.Time `json:"edited_at,omitempty"`

	IsDeleted bool       `gorm:"default:false;index" json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy *uuid.UUID `gorm:"type:uuid" json:"deleted_by,omitempty"`

	// Weak threading reference: no FK, deleting the parent never cascades.
	ReplyToID *uuid.UUID `gorm:"type:uuid" json:"reply_to_id,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Sender *User         `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Reads  []MessageRead `gorm:"foreignKey:MessageID" json:"reads,omitempty"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return
}

// MessageRead records one user having read one message. The composite unique
// index makes re-marking a no-op at the store layer.
type MessageRead struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MessageID uuid.UUID `gorm:"type:uuid;index;uniqueIndex:idx_message_reader" json:"message_id"`
	UserID    uuid.UUID `gorm:"type:uuid;index;uniqueIndex:idx_message_reader" json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

func (r *MessageRead) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return
}
