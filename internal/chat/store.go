package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/prasetyowira/tokoar_be/internal/models"
)

// Store is the persistence layer for conversations, messages and
// notifications. It owns the consistency invariants: the last-message cache
// and counters are updated in the same transaction as the message insert,
// using atomic column expressions so concurrent sends cannot lose updates.
type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

const lastMessageSnippetLen = 120

func snippet(s string) string {
	r := []rune(s)
	if len(r) <= lastMessageSnippetLen {
		return s
	}
	return string(r[:lastMessageSnippetLen])
}

// FindOrCreateConversation looks up the conversation for the unordered
// customer/vendor pair and creates one when none exists. A blocked
// conversation is returned as-is, never silently reopened.
func (s *Store) FindOrCreateConversation(ctx context.Context, customer, vendor models.User, productID *uint, orderID *uuid.UUID, subject string) (*models.Conversation, bool, error) {
	pair := s.DB.Model(&models.ConversationParticipant{}).
		Select("conversation_id").
		Where("user_id IN ?", []uuid.UUID{customer.ID, vendor.ID}).
		Group("conversation_id").
		Having("COUNT(DISTINCT user_id) = 2")

	var conv models.Conversation
	err := s.DB.WithContext(ctx).
		Where("id IN (?)", pair).
		Order("created_at DESC").
		Preload("Participants").
		First(&conv).Error
	if err == nil {
		return &conv, false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, false, Persistence(err)
	}

	convType := models.ConversationGeneral
	if orderID != nil {
		convType = models.ConversationOrderSupport
	}
	if productID != nil {
		convType = models.ConversationProductInquiry
	}

	now := time.Now()
	conv = models.Conversation{
		Type:      convType,
		Status:    models.ConversationActive,
		ProductID: productID,
		OrderID:   orderID,
		Subject:   subject,
		Participants: []models.ConversationParticipant{
			{UserID: customer.ID, Role: customer.Role, JoinedAt: now},
			{UserID: vendor.ID, Role: vendor.Role, JoinedAt: now},
		},
	}
	if err := s.DB.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, false, Persistence(err)
	}
	return &conv, true, nil
}

func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.DB.WithContext(ctx).Preload("Participants").First(&conv, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, NotFound("Conversation not found")
	}
	if err != nil {
		return nil, Persistence(err)
	}
	return &conv, nil
}

// ListConversations returns the caller's conversations, newest activity
// first. Admins see every conversation.
func (s *Store) ListConversations(ctx context.Context, userID uuid.UUID, admin bool, status string, page, limit int) ([]models.Conversation, error) {
	q := s.DB.WithContext(ctx).Model(&models.Conversation{}).
		Preload("Participants").
		Preload("Participants.User").
		Order("updated_at DESC")

	if !admin {
		member := s.DB.Model(&models.ConversationParticipant{}).
			Select("conversation_id").
			Where("user_id = ?", userID)
		q = q.Where("id IN (?)", member)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var convs []models.Conversation
	if err := q.Offset((page - 1) * limit).Limit(limit).Find(&convs).Error; err != nil {
		return nil, Persistence(err)
	}
	return convs, nil
}

// UnreadCount counts messages in one conversation the user has not read yet.
func (s *Store) UnreadCount(ctx context.Context, convID, userID uuid.UUID) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_deleted = ?", convID, userID, false).
		Where("NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = messages.id AND r.user_id = ?)", userID).
		Count(&n).Error
	if err != nil {
		return 0, Persistence(err)
	}
	return n, nil
}

func (s *Store) ArchiveConversation(ctx context.Context, id uuid.UUID) error {
	res := s.DB.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", id).
		Update("status", models.ConversationArchived)
	if res.Error != nil {
		return Persistence(res.Error)
	}
	if res.RowsAffected == 0 {
		return NotFound("Conversation not found")
	}
	return nil
}

// SetBlocked flips the blocked state and keeps the moderation audit fields.
func (s *Store) SetBlocked(ctx context.Context, id uuid.UUID, by uuid.UUID, reason string, blocked bool) error {
	updates := map[string]interface{}{}
	if blocked {
		now := time.Now()
		updates["status"] = models.ConversationBlocked
		updates["flagged_reason"] = reason
		updates["blocked_at"] = now
		updates["blocked_by"] = by
	} else {
		updates["status"] = models.ConversationActive
		updates["blocked_at"] = nil
		updates["blocked_by"] = nil
	}
	res := s.DB.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return Persistence(res.Error)
	}
	if res.RowsAffected == 0 {
		return NotFound("Conversation not found")
	}
	return nil
}

// DeleteConversation hard-deletes the thread and cascades to messages,
// read markers and notifications.
func (s *Store) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		msgIDs := tx.Model(&models.Message{}).Select("id").Where("conversation_id = ?", id)
		if err := tx.Where("message_id IN (?)", msgIDs).Delete(&models.MessageRead{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&models.ChatNotification{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&models.ConversationParticipant{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Conversation{}, "id = ?", id).Error
	})
	if err != nil {
		return Persistence(err)
	}
	return nil
}

// CreateMessage persists the message and updates the conversation's
// last-message cache and counters in the same transaction. The counter
// increment is a column expression, not read-modify-write.
func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.First(&conv, "id = ?", msg.ConversationID).Error; err != nil {
			return err
		}

		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		text := msg.Text
		if text == "" {
			text = msg.FileName
		}
		updates := map[string]interface{}{
			"total_messages":         gorm.Expr("total_messages + 1"),
			"last_message_sender_id": msg.SenderID,
			"last_message_text":      snippet(text),
			"last_message_type":      string(msg.Type),
			"last_message_at":        msg.CreatedAt,
		}

		// Rolling vendor response time: measured when a vendor replies to
		// someone else's message.
		if msg.SenderRole == string(models.RoleVendor) &&
			conv.LastMessageAt != nil &&
			conv.LastMessageSenderID != nil &&
			*conv.LastMessageSenderID != msg.SenderID {
			gap := msg.CreatedAt.Sub(*conv.LastMessageAt).Seconds()
			updates["avg_response_seconds"] = gorm.Expr(
				"(avg_response_seconds * vendor_replies + ?) / (vendor_replies + 1)", gap)
			updates["vendor_replies"] = gorm.Expr("vendor_replies + 1")
		}

		return tx.Model(&models.Conversation{}).Where("id = ?", msg.ConversationID).Updates(updates).Error
	})
	if err != nil {
		return Persistence(err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	var msg models.Message
	err := s.DB.WithContext(ctx).First(&msg, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, NotFound("Message not found")
	}
	if err != nil {
		return nil, Persistence(err)
	}
	return &msg, nil
}

// ListMessages returns messages in creation order, soft-deleted rows
// excluded.
func (s *Store) ListMessages(ctx context.Context, convID uuid.UUID, page, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := s.DB.WithContext(ctx).
		Where("conversation_id = ? AND is_deleted = ?", convID, false).
		Order("created_at ASC").
		Offset((page - 1) * limit).
		Limit(limit).
		Preload("Sender").
		Find(&msgs).Error
	if err != nil {
		return nil, Persistence(err)
	}
	return msgs, nil
}

// SoftDeleteMessage flags the row and refreshes the conversation cache when
// the deleted message was the cached one.
func (s *Store) SoftDeleteMessage(ctx context.Context, id uuid.UUID, by uuid.UUID) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg models.Message
		if err := tx.First(&msg, "id = ?", id).Error; err != nil {
			return err
		}

		now := time.Now()
		if err := tx.Model(&models.Message{}).Where("id = ?", id).Updates(map[string]interface{}{
			"is_deleted": true,
			"deleted_at": now,
			"deleted_by": by,
			"status":     "deleted",
		}).Error; err != nil {
			return err
		}

		// Keep the cache pointing at the newest surviving message.
		var last models.Message
		err := tx.Where("conversation_id = ? AND is_deleted = ? AND id <> ?", msg.ConversationID, false, id).
			Order("created_at DESC").
			First(&last).Error
		updates := map[string]interface{}{
			"last_message_sender_id": nil,
			"last_message_text":      "",
			"last_message_type":      "",
			"last_message_at":        nil,
		}
		if err == nil {
			text := last.Text
			if text == "" {
				text = last.FileName
			}
			updates = map[string]interface{}{
				"last_message_sender_id": last.SenderID,
				"last_message_text":      snippet(text),
				"last_message_type":      string(last.Type),
				"last_message_at":        last.CreatedAt,
			}
		} else if err != gorm.ErrRecordNotFound {
			return err
		}
		return tx.Model(&models.Conversation{}).Where("id = ?", msg.ConversationID).Updates(updates).Error
	})
	if err == gorm.ErrRecordNotFound {
		return NotFound("Message not found")
	}
	if err != nil {
		return Persistence(err)
	}
	return nil
}

// MarkMessageRead records the read marker. Re-marking by the same user is a
// no-op; the bool reports whether the marker is new.
func (s *Store) MarkMessageRead(ctx context.Context, messageID, userID uuid.UUID, at time.Time) (bool, error) {
	read := models.MessageRead{MessageID: messageID, UserID: userID, ReadAt: at}
	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&read)
	if res.Error != nil {
		return false, Persistence(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UnreadMessages lists the conversation's messages the user has not read,
// oldest first.
func (s *Store) UnreadMessages(ctx context.Context, convID, userID uuid.UUID) ([]models.Message, error) {
	var msgs []models.Message
	err := s.DB.WithContext(ctx).
		Where("conversation_id = ? AND sender_id <> ? AND is_deleted = ?", convID, userID, false).
		Where("NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = messages.id AND r.user_id = ?)", userID).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, Persistence(err)
	}
	return msgs, nil
}

// TouchLastRead moves the participant's read cursor to now. Callers treat
// failures as best-effort.
func (s *Store) TouchLastRead(ctx context.Context, convID, userID uuid.UUID) error {
	err := s.DB.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Update("last_read_at", time.Now()).Error
	if err != nil {
		return Persistence(err)
	}
	return nil
}

func (s *Store) CreateNotification(ctx context.Context, n *models.ChatNotification) error {
	if err := s.DB.WithContext(ctx).Create(n).Error; err != nil {
		return Persistence(err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, page, limit int) ([]models.ChatNotification, error) {
	q := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	var ns []models.ChatNotification
	if err := q.Offset((page - 1) * limit).Limit(limit).Find(&ns).Error; err != nil {
		return nil, Persistence(err)
	}
	return ns, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error {
	res := s.DB.WithContext(ctx).Model(&models.ChatNotification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{"is_read": true, "read_at": time.Now()})
	if res.Error != nil {
		return Persistence(res.Error)
	}
	if res.RowsAffected == 0 {
		return NotFound("Notification not found")
	}
	return nil
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.ChatNotification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": time.Now()})
	if res.Error != nil {
		return 0, Persistence(res.Error)
	}
	return res.RowsAffected, nil
}

// PurgeReadNotificationsBefore removes notifications read before the cutoff.
// The window is measured from the read time, not creation, so a late read
// still gets the full retention. Unread rows are never purged.
func (s *Store) PurgeReadNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).
		Where("is_read = ? AND read_at < ?", true, cutoff).
		Delete(&models.ChatNotification{})
	if res.Error != nil {
		return 0, Persistence(res.Error)
	}
	return res.RowsAffected, nil
}

// ActiveConversations lists active conversations, optionally only those with
// at least one participant holding the given role.
func (s *Store) ActiveConversations(ctx context.Context, targetRole string) ([]models.Conversation, error) {
	q := s.DB.WithContext(ctx).
		Where("status = ?", models.ConversationActive).
		Preload("Participants").
		Order("created_at ASC")
	if targetRole != "" {
		member := s.DB.Model(&models.ConversationParticipant{}).
			Select("conversation_id").
			Where("role = ?", targetRole)
		q = q.Where("id IN (?)", member)
	}
	var convs []models.Conversation
	if err := q.Find(&convs).Error; err != nil {
		return nil, Persistence(err)
	}
	return convs, nil
}

type Stats struct {
	TotalConversations   int64   `json:"total_conversations"`
	ActiveConversations  int64   `json:"active_conversations"`
	BlockedConversations int64   `json:"blocked_conversations"`
	TotalMessages        int64   `json:"total_messages"`
	TotalNotifications   int64   `json:"total_notifications"`
	AvgResponseSeconds   float64 `json:"avg_response_seconds"`
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	db := s.DB.WithContext(ctx)
	if err := db.Model(&models.Conversation{}).Count(&st.TotalConversations).Error; err != nil {
		return nil, Persistence(err)
	}
	if err := db.Model(&models.Conversation{}).Where("status = ?", models.ConversationActive).Count(&st.ActiveConversations).Error; err != nil {
		return nil, Persistence(err)
	}
	if err := db.Model(&models.Conversation{}).Where("status = ?", models.ConversationBlocked).Count(&st.BlockedConversations).Error; err != nil {
		return nil, Persistence(err)
	}
	if err := db.Model(&models.Message{}).Where("is_deleted = ?", false).Count(&st.TotalMessages).Error; err != nil {
		return nil, Persistence(err)
	}
	if err := db.Model(&models.ChatNotification{}).Count(&st.TotalNotifications).Error; err != nil {
		return nil, Persistence(err)
	}
	err := db.Model(&models.Conversation{}).
		Where("vendor_replies > 0").
		Select("COALESCE(AVG(avg_response_seconds), 0)").
		Scan(&st.AvgResponseSeconds).Error
	if err != nil {
		return nil, Persistence(err)
	}
	return &st, nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.DB.WithContext(ctx).First(&u, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, NotFound("User not found")
	}
	if err != nil {
		return nil, Persistence(err)
	}
	return &u, nil
}
